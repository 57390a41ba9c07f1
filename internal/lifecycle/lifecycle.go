package lifecycle

import (
	"time"

	"github.com/civicpulse/civicpulse/internal/core"
)

// Hold durations for state transitions
const (
	HoldToExpiring = 7 * 24 * time.Hour // Continuous degradation before active -> expiring
	HoldToExpired  = 3 * 24 * time.Hour // Time in expiring before expiring -> expired
)

// ClassifyLifecycle computes the next lifecycle state of r at now.
//
// Hold clocks are all-or-nothing: any break in the degradation condition
// clears them, so several short degraded episodes never add up to an expiry.
// Expired reports are returned untouched.
func ClassifyLifecycle(r core.Report, now time.Time) core.Report {
	if r.Status == core.StatusExpired {
		return r
	}

	if r.TotalFeedback() == 0 {
		r.FeedbackConditionMetAt = nil
		return r
	}

	degraded := ConditionMet(r.PositiveFeedbackCount, r.NegativeFeedbackCount)

	switch r.Status {
	case core.StatusActive:
		return classifyActive(r, degraded, now)
	case core.StatusExpiring:
		return classifyExpiring(r, degraded, now)
	default:
		return r
	}
}

func classifyActive(r core.Report, degraded bool, now time.Time) core.Report {
	if !degraded {
		r.FeedbackConditionMetAt = nil
		return r
	}

	if r.FeedbackConditionMetAt == nil {
		r.FeedbackConditionMetAt = stamp(now)
		return r
	}

	if now.Sub(*r.FeedbackConditionMetAt) >= HoldToExpiring {
		r.Status = core.StatusExpiring
		r.ExpiringAt = stamp(now)
	}
	return r
}

func classifyExpiring(r core.Report, degraded bool, now time.Time) core.Report {
	// Aging out wins over recovery and does not look at current feedback.
	if r.ExpiringAt != nil && now.Sub(*r.ExpiringAt) >= HoldToExpired {
		r.Status = core.StatusExpired
		return r
	}

	if !degraded {
		r.Status = core.StatusActive
		r.FeedbackConditionMetAt = nil
		r.ExpiringAt = nil
	}
	return r
}

// stamp returns a fresh pointer so the result never aliases the caller's time
func stamp(t time.Time) *time.Time {
	return &t
}
