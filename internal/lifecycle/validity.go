package lifecycle

import (
	"time"

	"github.com/civicpulse/civicpulse/internal/core"
)

// Band names the advisory validity band a report sits in
type Band string

const (
	BandNone      Band = "none"
	BandConfirmed Band = "confirmed" // Positive ratio >= 0.70
	BandContested Band = "contested" // Positive ratio within [0.40, 0.60]
)

// ValidityView is what a list or map badge reads
type ValidityView struct {
	Band         Band          `json:"band"`
	Since        *time.Time    `json:"since,omitempty"`
	SustainedFor time.Duration `json:"sustained_for"`
	Visible      bool          `json:"visible"`
}

// Validity describes r's advisory band as of now.
// It reads the tracker's timestamps and never recomputes them.
func Validity(r core.Report, now time.Time) ValidityView {
	view := ValidityView{Band: BandNone, Visible: r.Status.Visible()}

	switch {
	case r.Positive70SustainedSince != nil:
		view.Band = BandConfirmed
		view.Since = r.Positive70SustainedSince
	case r.Positive40to60SustainedSince != nil:
		view.Band = BandContested
		view.Since = r.Positive40to60SustainedSince
	}

	if view.Since != nil {
		if d := now.Sub(*view.Since); d > 0 {
			view.SustainedFor = d
		}
	}
	return view
}
