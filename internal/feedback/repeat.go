package feedback

import (
	"strings"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/textmatch"
)

// repeatOverlapThreshold is the shared-word ratio above which a follow-up
// counts as the same question asked again.
const repeatOverlapThreshold = 0.5

// IsRepeatedQuestion reports whether followUp asks original again: it must
// contain a question mark and share more than half of the smaller set of
// significant words.
func IsRepeatedQuestion(original, followUp string) bool {
	if !strings.Contains(followUp, "?") {
		return false
	}
	a := textmatch.TokenSet(textmatch.Tokenize(original))
	b := textmatch.TokenSet(textmatch.Tokenize(followUp))
	return overlapRatio(a, b) > repeatOverlapThreshold
}

func overlapRatio(a, b map[string]struct{}) float64 {
	smaller, larger := a, b
	if len(b) < len(a) {
		smaller, larger = b, a
	}
	if len(smaller) == 0 {
		return 0
	}
	shared := 0
	for w := range smaller {
		if _, ok := larger[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(smaller))
}
