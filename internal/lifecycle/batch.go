package lifecycle

import (
	"time"

	"github.com/civicpulse/civicpulse/internal/core"
)

// Step is one pure per-report update
type Step func(core.Report, time.Time) core.Report

// Refresh runs the lifecycle classifier and then the sustain tracker.
// This is what a feedback event handler applies to a single report.
func Refresh(r core.Report, now time.Time) core.Report {
	return TrackValiditySustain(ClassifyLifecycle(r, now), now)
}

// ApplyToAll classifies every report against the same instant.
// The result has the same length and order as the input.
func ApplyToAll(reports []core.Report, now time.Time) []core.Report {
	return Apply(reports, now, ClassifyLifecycle)
}

// RefreshAll is the batch form of Refresh
func RefreshAll(reports []core.Report, now time.Time) []core.Report {
	return Apply(reports, now, Refresh)
}

// Apply runs step over each report with one shared timestamp.
// The input slice is not modified.
func Apply(reports []core.Report, now time.Time, step Step) []core.Report {
	out := make([]core.Report, len(reports))
	for i, r := range reports {
		out[i] = step(r, now)
	}
	return out
}
