package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlSeedDoc = `
faqs:
  - category: Payments
    question: When will I get paid?
    answer: Every Friday, for shifts completed the week before.
    keywords: [Pay, paid, salary, pay]
    priority: 10
  - question: What should I wear?
    answer: Black trousers and closed shoes.
    keywords: [dress, uniform]
    active: false
  - question: "   "
    answer: Missing question.
`

func TestParseYAML(t *testing.T) {
	seed, err := Parse(strings.NewReader(yamlSeedDoc), FormatYAML)
	require.NoError(t, err)
	require.Len(t, seed.Entries, 2)

	paid := seed.Entries[0]
	assert.Equal(t, "payments", paid.Category)
	assert.Equal(t, []string{"pay", "paid", "salary"}, paid.Keywords)
	assert.Equal(t, 10, paid.Priority)
	assert.True(t, paid.Active)

	wear := seed.Entries[1]
	assert.Equal(t, DefaultCategory, wear.Category)
	assert.False(t, wear.Active)

	assert.True(t, seed.HasErrors())
	require.Len(t, seed.Errors, 1)
	assert.Contains(t, seed.Errors[0].Message, "question is required")
}

func TestParseYAML_TopLevelList(t *testing.T) {
	doc := `
- question: Where do I park?
  answer: Gate B.
`
	seed, err := Parse(strings.NewReader(doc), FormatYAML)
	require.NoError(t, err)
	require.Len(t, seed.Entries, 1)
	assert.Equal(t, "Gate B.", seed.Entries[0].Answer)
	assert.False(t, seed.HasErrors())
	require.Len(t, seed.Errors, 1, "missing keywords is a warning")
	assert.Equal(t, SeverityWarning, seed.Errors[0].Severity)
}

func TestParseYAML_Malformed(t *testing.T) {
	_, err := Parse(strings.NewReader("faqs: [unterminated"), FormatYAML)
	assert.Error(t, err)

	_, err = Parse(strings.NewReader("just a string"), FormatYAML)
	assert.Error(t, err)
}

func TestParseCSV(t *testing.T) {
	doc := "category,question,answer,keywords,priority,active\n" +
		"payments,When will I get paid?,Every Friday.,pay;paid|salary,10,true\n" +
		"shifts,Can I swap a shift?,\"Yes, from the Swap tab.\",swap,5,\n" +
		"shifts,Bad priority?,Answer,,high,\n" +
		"shifts,Can I swap a shift?,\"Yes, up to 24h before.\",swap,7,false\n"

	seed, err := Parse(strings.NewReader(doc), FormatCSV)
	require.NoError(t, err)
	require.Len(t, seed.Entries, 2)

	assert.Equal(t, []string{"pay", "paid", "salary"}, seed.Entries[0].Keywords)
	assert.Equal(t, 2, seed.Entries[0].Line)

	swap := seed.Entries[1]
	assert.Equal(t, "Yes, up to 24h before.", swap.Answer, "later duplicate wins")
	assert.Equal(t, 7, swap.Priority)
	assert.False(t, swap.Active)

	var messages []string
	for _, e := range seed.Errors {
		messages = append(messages, e.Error())
	}
	assert.Contains(t, messages, `line 4: invalid priority "high"`)
	assert.Contains(t, messages, "line 5: duplicate of line 3, later row wins")
}

func TestParseCSV_RequiresQuestionAndAnswerColumns(t *testing.T) {
	_, err := Parse(strings.NewReader("category,question\npay,When?\n"), FormatCSV)
	assert.ErrorContains(t, err, `"answer"`)

	seed, err := Parse(strings.NewReader(""), FormatCSV)
	require.NoError(t, err)
	assert.Empty(t, seed.Entries)
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
		ok   bool
	}{
		{"seeds/faq.yaml", FormatYAML, true},
		{"seeds/faq.YML", FormatYAML, true},
		{"faq.csv", FormatCSV, true},
		{"faq.json", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatFromPath(tt.path)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
