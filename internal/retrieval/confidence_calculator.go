package retrieval

import (
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/config"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/textmatch"
)

// ConfidenceCalculator turns tier similarities into reply confidences.
//
// FAQ answers get a flat additive boost while learned answers are scaled by
// their stored confidence.
// TODO: calibrate both boosts against logged approval rates.
type ConfidenceCalculator struct {
	faqBoost      float64
	minConfidence float64
	faqThreshold  float64
}

// NewConfidenceCalculator creates a calculator from the learning settings.
func NewConfidenceCalculator(cfg config.LearningConfig) *ConfidenceCalculator {
	return &ConfidenceCalculator{
		faqBoost:      cfg.FAQConfidenceBoost,
		minConfidence: cfg.MinConfidence,
		faqThreshold:  cfg.FAQThreshold,
	}
}

// FAQConfidence is min(1, similarity + boost).
func (cc *ConfidenceCalculator) FAQConfidence(similarity float64) float64 {
	return textmatch.Clamp01(similarity + cc.faqBoost)
}

// CombinedConfidence is similarity scaled by the entry's stored confidence.
func (cc *ConfidenceCalculator) CombinedConfidence(similarity, entryConfidence float64) float64 {
	return textmatch.Clamp01(similarity * textmatch.Clamp01(entryConfidence))
}

// FAQAccepted reports whether a FAQ similarity clears the tier-1 threshold.
func (cc *ConfidenceCalculator) FAQAccepted(similarity float64) bool {
	return similarity >= cc.faqThreshold
}

// KnowledgeAccepted reports whether a combined confidence clears the tier-2
// threshold.
func (cc *ConfidenceCalculator) KnowledgeAccepted(combined float64) bool {
	return combined >= cc.minConfidence
}

// CandidateFloor is the stored-confidence pre-filter for tier 2: half the
// minimum confidence. Entries below it can never reach the threshold.
func (cc *ConfidenceCalculator) CandidateFloor() float64 {
	return cc.minConfidence / 2
}
