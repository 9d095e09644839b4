package feedback

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifier_DefaultRules(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		message string
		signal  Signal
		rule    string
	}{
		{"ok thanks", SignalPositive, "gratitude"},
		{"Thank you so much!", SignalPositive, "gratitude"},
		{"got it", SignalPositive, "confirmation"},
		{"ok", SignalPositive, "short_affirmative"},
		{"Yes!", SignalPositive, "short_affirmative"},
		{"👍", SignalPositive, "positive_emoji"},
		{"I don't understand", SignalNegative, "confusion"},
		{"that's wrong", SignalNegative, "dissatisfaction"},
		{"can I talk to a human", SignalNegative, "human_request"},
		{"what???", SignalNegative, "repeated_question_marks"},
		{"🙄", SignalNegative, "negative_emoji"},
		{"what time does my shift start", SignalNone, ""},
		{"", SignalNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got := c.Classify(tt.message)
			assert.Equal(t, tt.signal, got.Signal)
			assert.Equal(t, tt.rule, got.Rule)
			if tt.signal == SignalNone {
				assert.Zero(t, got.Confidence)
			}
		})
	}
}

func TestClassifier_PositiveCheckedBeforeNegative(t *testing.T) {
	c := NewClassifier(nil)

	// Matches both gratitude and dissatisfaction.
	got := c.Classify("thanks but that's wrong")
	assert.Equal(t, SignalPositive, got.Signal)
	assert.Equal(t, "gratitude", got.Rule)
}

func TestClassifier_CustomTableIsReordered(t *testing.T) {
	c := NewClassifier([]Rule{
		{Name: "neg", Signal: SignalNegative, Weight: 1, Pattern: regexp.MustCompile(`shift`)},
		{Name: "pos", Signal: SignalPositive, Weight: 0.5, Pattern: regexp.MustCompile(`shift`)},
	})

	got := c.Classify("shift")
	assert.Equal(t, Classification{Signal: SignalPositive, Confidence: 0.5, Rule: "pos"}, got)
}

func TestIsRepeatedQuestion(t *testing.T) {
	tests := []struct {
		name     string
		original string
		followUp string
		want     bool
	}{
		{"same question again", "How do I cancel a job?", "how do i cancel the job?", true},
		{"no question mark", "How do I cancel a job?", "how do i cancel the job", false},
		{"half overlap is not enough", "How do I cancel a shift?", "can I cancel my payment?", false},
		{"different topic", "How do I cancel a job?", "where do I park?", false},
		{"sentiment does not matter", "When will I get paid?", "thanks but when do I get paid?", true},
		{"empty original", "", "anything?", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRepeatedQuestion(tt.original, tt.followUp))
		})
	}
}
