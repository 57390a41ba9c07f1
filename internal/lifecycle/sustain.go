package lifecycle

import (
	"time"

	"github.com/civicpulse/civicpulse/internal/core"
)

// Validity band edges, on the positive ratio
const (
	ConfirmedMinRatio = 0.70
	ContestedMinRatio = 0.40
	ContestedMaxRatio = 0.60
)

// TrackValiditySustain updates the two advisory band timestamps of r.
// It never changes Status. A band keeps its earliest entry time for as
// long as the ratio stays inside it; leaving the band clears it.
func TrackValiditySustain(r core.Report, now time.Time) core.Report {
	if r.TotalFeedback() == 0 {
		r.Positive70SustainedSince = nil
		r.Positive40to60SustainedSince = nil
		return r
	}

	positiveRatio, _ := Ratios(r.PositiveFeedbackCount, r.NegativeFeedbackCount)

	switch {
	case positiveRatio >= ConfirmedMinRatio:
		r.Positive70SustainedSince = keepOrStamp(r.Positive70SustainedSince, now)
		r.Positive40to60SustainedSince = nil
	case positiveRatio >= ContestedMinRatio && positiveRatio <= ContestedMaxRatio:
		r.Positive40to60SustainedSince = keepOrStamp(r.Positive40to60SustainedSince, now)
		r.Positive70SustainedSince = nil
	default:
		r.Positive70SustainedSince = nil
		r.Positive40to60SustainedSince = nil
	}
	return r
}

func keepOrStamp(since *time.Time, now time.Time) *time.Time {
	if since != nil {
		return since
	}
	return stamp(now)
}
