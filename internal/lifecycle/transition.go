package lifecycle

import (
	"time"

	"github.com/civicpulse/civicpulse/internal/core"
)

// Transition records a status change produced by classification
type Transition struct {
	ReportID core.ReportID `json:"report_id"`
	From     core.Status   `json:"from"`
	To       core.Status   `json:"to"`
	At       time.Time     `json:"at"`
}

// Diff returns the status transition between before and after, if any
func Diff(before, after core.Report, at time.Time) (Transition, bool) {
	if before.Status == after.Status {
		return Transition{}, false
	}
	return Transition{
		ReportID: after.ID,
		From:     before.Status,
		To:       after.Status,
		At:       at,
	}, true
}

// Changed reports whether any lifecycle or sustain field differs
func Changed(before, after core.Report) bool {
	return before.Status != after.Status ||
		!sameStamp(before.FeedbackConditionMetAt, after.FeedbackConditionMetAt) ||
		!sameStamp(before.ExpiringAt, after.ExpiringAt) ||
		!sameStamp(before.Positive70SustainedSince, after.Positive70SustainedSince) ||
		!sameStamp(before.Positive40to60SustainedSince, after.Positive40to60SustainedSince)
}

func sameStamp(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
