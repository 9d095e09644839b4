package feedback

import (
	"regexp"
	"strings"
)

// Signal is the sentiment of a follow-up message.
type Signal string

const (
	SignalNone     Signal = "none"
	SignalPositive Signal = "positive"
	SignalNegative Signal = "negative"
)

// Rule maps a message pattern to a signal. Weight is the confidence the
// rule carries when it matches.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Signal  Signal
	Weight  float64
}

// Classification is the result of classifying one message.
type Classification struct {
	Signal     Signal  `json:"signal"`
	Confidence float64 `json:"confidence"`
	Rule       string  `json:"rule,omitempty"`
}

// DefaultRules is the built-in follow-up classification table.
var DefaultRules = []Rule{
	{Name: "gratitude", Signal: SignalPositive, Weight: 0.9,
		Pattern: regexp.MustCompile(`\b(thanks|thank you|thank u|thx|ty|cheers|much appreciated|appreciate it)\b`)},
	{Name: "confirmation", Signal: SignalPositive, Weight: 0.85,
		Pattern: regexp.MustCompile(`\b(got it|makes sense|understood|that helps|that helped|perfect|awesome|sounds good|that works|brilliant|great answer)\b`)},
	{Name: "short_affirmative", Signal: SignalPositive, Weight: 0.75,
		Pattern: regexp.MustCompile(`^(ok|okay|k|kk|cool|nice|great|yes|yep|yeah|sure|alright|fine)[.!\s]*$`)},
	{Name: "positive_emoji", Signal: SignalPositive, Weight: 0.7,
		Pattern: regexp.MustCompile(`(👍|🙏|😊|🙂|😀|👌|✅|❤️|💯)`)},

	{Name: "confusion", Signal: SignalNegative, Weight: 0.85,
		Pattern: regexp.MustCompile(`\b(i don'?t understand|i do not understand|confused|confusing|what do you mean|doesn'?t make sense|does not make sense|huh)\b`)},
	{Name: "dissatisfaction", Signal: SignalNegative, Weight: 0.9,
		Pattern: regexp.MustCompile(`\b(wrong|incorrect|not helpful|unhelpful|useless|not what i asked|that'?s not right|not right|doesn'?t help|didn'?t help|does not help)\b`)},
	{Name: "human_request", Signal: SignalNegative, Weight: 0.9,
		Pattern: regexp.MustCompile(`\b(real person|a human|speak to (someone|a person|an agent|a human)|talk to (someone|a person|an agent|a human)|live agent|customer service)\b`)},
	{Name: "repeated_question_marks", Signal: SignalNegative, Weight: 0.7,
		Pattern: regexp.MustCompile(`\?{2,}`)},
	{Name: "negative_emoji", Signal: SignalNegative, Weight: 0.7,
		Pattern: regexp.MustCompile(`(👎|😡|😠|🙄|😕|😤)`)},
}

// Classifier evaluates a rule table in fixed order: every positive rule
// before any negative one, each group in table order. The first match wins.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a classifier over rules. A nil slice uses DefaultRules.
func NewClassifier(rules []Rule) *Classifier {
	if rules == nil {
		rules = DefaultRules
	}
	ordered := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Signal == SignalPositive {
			ordered = append(ordered, r)
		}
	}
	for _, r := range rules {
		if r.Signal == SignalNegative {
			ordered = append(ordered, r)
		}
	}
	return &Classifier{rules: ordered}
}

// Classify returns the signal of the first matching rule, or SignalNone.
func (c *Classifier) Classify(message string) Classification {
	text := strings.ToLower(strings.TrimSpace(message))
	if text == "" {
		return Classification{Signal: SignalNone}
	}
	for _, r := range c.rules {
		if r.Pattern.MatchString(text) {
			return Classification{Signal: r.Signal, Confidence: r.Weight, Rule: r.Name}
		}
	}
	return Classification{Signal: SignalNone}
}
