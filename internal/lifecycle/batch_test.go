package lifecycle

import (
	"reflect"
	"testing"

	"github.com/civicpulse/civicpulse/internal/core"
)

func batchFixture() []core.Report {
	degraded := newReport(1, 9, core.StatusActive)
	degraded.ID = "degraded"
	degraded.FeedbackConditionMetAt = msPtr(0)

	aging := newReport(1, 9, core.StatusExpiring)
	aging.ID = "aging"
	aging.ExpiringAt = msPtr(0)

	healthy := newReport(9, 1, core.StatusActive)
	healthy.ID = "healthy"

	quiet := newReport(0, 0, core.StatusActive)
	quiet.ID = "quiet"
	quiet.FeedbackConditionMetAt = msPtr(0)

	expired := newReport(0, 9, core.StatusExpired)
	expired.ID = "expired"

	return []core.Report{degraded, aging, healthy, quiet, expired}
}

func TestApplyToAll(t *testing.T) {
	in := batchFixture()
	now := ms(holdToExpiringMs)

	out := ApplyToAll(in, now)

	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}

	wantStatus := map[core.ReportID]core.Status{
		"degraded": core.StatusExpiring,
		"aging":    core.StatusExpired,
		"healthy":  core.StatusActive,
		"quiet":    core.StatusActive,
		"expired":  core.StatusExpired,
	}
	for i, r := range out {
		if r.ID != in[i].ID {
			t.Errorf("out[%d].ID = %v, want %v (order must be preserved)", i, r.ID, in[i].ID)
		}
		if r.Status != wantStatus[r.ID] {
			t.Errorf("%s: Status = %v, want %v", r.ID, r.Status, wantStatus[r.ID])
		}
	}

	assertStamp(t, "degraded ExpiringAt", out[0].ExpiringAt, holdToExpiringMs)
	assertNil(t, "quiet FeedbackConditionMetAt", out[3].FeedbackConditionMetAt)
	if out[2].Positive70SustainedSince != nil {
		t.Error("ApplyToAll must not run the sustain tracker")
	}
}

func TestApplyToAll_OrderIndependent(t *testing.T) {
	in := batchFixture()
	now := ms(holdToExpiringMs)

	forward := ApplyToAll(in, now)

	reversed := make([]core.Report, len(in))
	for i := range in {
		reversed[len(in)-1-i] = in[i]
	}
	backward := ApplyToAll(reversed, now)

	for i := range forward {
		if !reflect.DeepEqual(forward[i], backward[len(in)-1-i]) {
			t.Errorf("%s differs depending on batch order", forward[i].ID)
		}
	}
}

func TestApplyToAll_MatchesSingleCalls(t *testing.T) {
	in := batchFixture()
	now := ms(123_456_789)

	out := ApplyToAll(in, now)

	for i := range in {
		if want := ClassifyLifecycle(in[i], now); !reflect.DeepEqual(out[i], want) {
			t.Errorf("%s: batch result differs from single call", in[i].ID)
		}
	}
}

func TestApplyToAll_DoesNotModifyInput(t *testing.T) {
	in := batchFixture()
	snapshot := batchFixture()

	ApplyToAll(in, ms(holdToExpiringMs))

	if !reflect.DeepEqual(in, snapshot) {
		t.Error("input slice was modified")
	}
}

func TestApplyToAll_Empty(t *testing.T) {
	if out := ApplyToAll(nil, ms(0)); len(out) != 0 {
		t.Errorf("len = %d, want 0", len(out))
	}
}

func TestRefreshAll(t *testing.T) {
	in := batchFixture()
	now := ms(holdToExpiringMs)

	out := RefreshAll(in, now)

	assertStamp(t, "healthy Positive70SustainedSince", out[2].Positive70SustainedSince, holdToExpiringMs)
	if out[0].Status != core.StatusExpiring {
		t.Errorf("degraded Status = %v, want %v", out[0].Status, core.StatusExpiring)
	}
	for i := range in {
		if want := Refresh(in[i], now); !reflect.DeepEqual(out[i], want) {
			t.Errorf("%s: RefreshAll differs from Refresh", in[i].ID)
		}
	}
}
