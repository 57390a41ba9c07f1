// Package lifecycle decides how long a report stays trustworthy.
// Community feedback is noisy and can swing back and forth, so every
// transition here requires its condition to hold continuously for a while.
// All functions are pure: they take a report by value and return the next one.
package lifecycle

// Degradation thresholds
const (
	DegradedPositiveRatio = 0.30 // At or below this the report looks stale
	DegradedNegativeRatio = 0.70 // At or above this the report looks resolved
)

// Ratios returns the share of positive and negative feedback.
// Both are zero when there is no feedback at all.
func Ratios(positive, negative int) (positiveRatio, negativeRatio float64) {
	total := positive + negative
	if total == 0 {
		return 0, 0
	}
	positiveRatio = float64(positive) / float64(total)
	negativeRatio = float64(negative) / float64(total)
	return positiveRatio, negativeRatio
}

// ConditionMet reports whether feedback currently says the report is degraded.
//
// With zero feedback the ratios are (0, 0) and this returns true. Callers
// that must not act on an unvoted report check the total first.
func ConditionMet(positive, negative int) bool {
	positiveRatio, negativeRatio := Ratios(positive, negative)
	return positiveRatio <= DegradedPositiveRatio || negativeRatio >= DegradedNegativeRatio
}
