// Package reports is the application layer around the lifecycle classifier:
// it loads reports, applies feedback, runs sweeps and persists the outcome.
package reports

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/civicpulse/civicpulse/internal/core"
	"github.com/civicpulse/civicpulse/internal/ledger"
	"github.com/civicpulse/civicpulse/internal/lifecycle"
	"github.com/civicpulse/civicpulse/internal/logging"
	"github.com/civicpulse/civicpulse/internal/storage"
)

// Notifier is told about every persisted change, after commit.
type Notifier interface {
	ReportUpdated(r *core.Report)
	StatusChanged(tr lifecycle.Transition)
}

type nopNotifier struct{}

func (nopNotifier) ReportUpdated(*core.Report)          {}
func (nopNotifier) StatusChanged(lifecycle.Transition) {}

// Service coordinates report storage, classification and auditing
type Service struct {
	db       *storage.DB
	reports  *storage.ReportStore
	feedback *storage.FeedbackStore
	audit    *ledger.Store
	recorder *ledger.Recorder
	notifier Notifier
	now      func() time.Time
	log      *logging.Logger

	sweepMu sync.Mutex
}

// Option configures a Service
type Option func(*Service)

// WithLedger records every change in the audit ledger
func WithLedger(store *ledger.Store) Option {
	return func(s *Service) {
		s.audit = store
		s.recorder = ledger.NewRecorder(store)
	}
}

// WithNotifier sets the receiver of change events
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a report service on top of db
func NewService(db *storage.DB, opts ...Option) *Service {
	s := &Service{
		db:       db,
		reports:  storage.NewReportStore(db),
		feedback: storage.NewFeedbackStore(db),
		notifier: nopNotifier{},
		now:      time.Now,
		log:      logging.WithField("component", "reports"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock at millisecond precision, in UTC.
func (s *Service) Now() time.Time {
	return time.UnixMilli(s.now().UnixMilli()).UTC()
}

// NewReport is the input for Create
type NewReport struct {
	Kind        core.Kind `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
}

// Validate checks the submission before anything is written
func (n NewReport) Validate() error {
	if !n.Kind.Valid() {
		return fmt.Errorf("%w: %q", core.ErrInvalidKind, n.Kind)
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title", core.ErrMissingRequired)
	}
	loc := core.Location{Latitude: n.Latitude, Longitude: n.Longitude}
	if !loc.Valid() {
		return fmt.Errorf("%w: location %.6f,%.6f out of range", core.ErrInvalidInput, n.Latitude, n.Longitude)
	}
	return nil
}

// Create persists a new ACTIVE report with no feedback
func (s *Service) Create(ctx context.Context, in NewReport) (*core.Report, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := s.Now()
	r := &core.Report{
		ID:          core.ReportID(uuid.NewString()),
		Kind:        in.Kind,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Location:    core.Location{Latitude: in.Latitude, Longitude: in.Longitude},
		Status:      core.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.reports.Create(ctx, r); err != nil {
		return nil, err
	}

	if s.recorder != nil {
		if err := s.recorder.RecordReportCreated(ledger.ActorUser, r); err != nil {
			s.log.WithField("report", r.ID).Warn("Failed to record creation: %v", err)
		}
	}
	s.notifier.ReportUpdated(r)

	s.log.WithFields(map[string]interface{}{"report": r.ID, "kind": r.Kind}).Info("Report created")
	return r, nil
}

// Get returns one report regardless of status
func (s *Service) Get(ctx context.Context, id core.ReportID) (*core.Report, error) {
	return s.reports.GetByID(ctx, id)
}

// Detail is a report together with its advisory validity view
type Detail struct {
	Report   *core.Report           `json:"report"`
	Validity lifecycle.ValidityView `json:"validity"`
}

// GetDetail returns a report and its validity as of now
func (s *Service) GetDetail(ctx context.Context, id core.ReportID) (*Detail, error) {
	r, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Report: r, Validity: lifecycle.Validity(*r, s.Now())}, nil
}

// List returns reports matching opts; expired reports are hidden unless asked for
func (s *Service) List(ctx context.Context, opts storage.ListOptions) ([]*core.Report, error) {
	if opts.Kind != "" && !opts.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidKind, opts.Kind)
	}
	return s.reports.List(ctx, opts)
}

// Feedback returns the individual votes on a report, oldest first
func (s *Service) Feedback(ctx context.Context, id core.ReportID) ([]*core.Feedback, error) {
	if _, err := s.reports.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.feedback.ListByReport(ctx, id)
}

// SubmitFeedback records one vote and reclassifies the report at the current time.
// Expired reports reject feedback with core.ErrReportExpired.
func (s *Service) SubmitFeedback(ctx context.Context, id core.ReportID, vote core.Vote) (*core.Report, error) {
	if !vote.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidVote, vote)
	}

	now := s.Now()
	fb := &core.Feedback{
		ID:        uuid.NewString(),
		ReportID:  id,
		Vote:      vote,
		CreatedAt: now,
	}

	var before, after core.Report
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		rs := s.reports.WithTx(tx)

		current, err := rs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if current.Status == core.StatusExpired {
			return core.ErrReportExpired
		}
		before = *current

		if err := s.feedback.WithTx(tx).Record(ctx, fb); err != nil {
			return err
		}

		next := *current
		if vote == core.VotePositive {
			next.PositiveFeedbackCount++
		} else {
			next.NegativeFeedbackCount++
		}
		next = lifecycle.Refresh(next, now)
		next.UpdatedAt = now

		if err := rs.Update(ctx, &next); err != nil {
			return err
		}
		after = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.recorder != nil {
		if err := s.recorder.RecordFeedback(fb, &after); err != nil {
			s.log.WithField("report", id).Warn("Failed to record feedback: %v", err)
		}
	}
	if tr, ok := lifecycle.Diff(before, after, now); ok {
		s.transitioned(ledger.ActorUser, tr)
	}
	s.notifier.ReportUpdated(&after)

	return &after, nil
}

// SweepResult summarises one sweep
type SweepResult struct {
	At          time.Time              `json:"at"`
	Scanned     int                    `json:"scanned"`
	Updated     int                    `json:"updated"`
	ToExpiring  int                    `json:"to_expiring"`
	ToExpired   int                    `json:"to_expired"`
	Recovered   int                    `json:"recovered"`
	Transitions []lifecycle.Transition `json:"transitions"`
	Duration    time.Duration          `json:"duration"`
}

func (r *SweepResult) count(tr lifecycle.Transition) {
	switch tr.To {
	case core.StatusExpiring:
		r.ToExpiring++
	case core.StatusExpired:
		r.ToExpired++
	case core.StatusActive:
		r.Recovered++
	}
}

// Sweep reclassifies every unsettled report at one shared instant.
// Holds elapse with time alone, so reports nobody votes on still move.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	start := time.Now()
	now := s.Now()
	result := SweepResult{At: now, Transitions: []lifecycle.Transition{}}
	var updated []core.Report

	// Read and write in one transaction so a concurrent vote cannot be overwritten
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		rs := s.reports.WithTx(tx)

		unsettled, err := rs.ListUnsettled(ctx)
		if err != nil {
			return err
		}
		result.Scanned = len(unsettled)

		before := make([]core.Report, len(unsettled))
		for i, r := range unsettled {
			before[i] = *r
		}
		after := lifecycle.RefreshAll(before, now)

		for i := range after {
			if !lifecycle.Changed(before[i], after[i]) {
				continue
			}
			after[i].UpdatedAt = now
			if err := rs.Update(ctx, &after[i]); err != nil {
				return err
			}
			updated = append(updated, after[i])
			if tr, ok := lifecycle.Diff(before[i], after[i], now); ok {
				result.Transitions = append(result.Transitions, tr)
				result.count(tr)
			}
		}
		return nil
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("sweep: %w", err)
	}

	result.Updated = len(updated)
	result.Duration = time.Since(start)

	for _, tr := range result.Transitions {
		s.transitioned(ledger.ActorSystem, tr)
	}
	for i := range updated {
		s.notifier.ReportUpdated(&updated[i])
	}

	if result.Updated > 0 && s.recorder != nil {
		if err := s.recorder.RecordSweep(map[string]any{
			"scanned":     result.Scanned,
			"updated":     result.Updated,
			"to_expiring": result.ToExpiring,
			"to_expired":  result.ToExpired,
			"recovered":   result.Recovered,
		}); err != nil {
			s.log.Warn("Failed to record sweep: %v", err)
		}
	}

	s.log.WithFields(map[string]interface{}{
		"scanned":     result.Scanned,
		"updated":     result.Updated,
		"transitions": len(result.Transitions),
	}).Debug("Sweep completed")

	return result, nil
}

func (s *Service) transitioned(actor string, tr lifecycle.Transition) {
	if s.recorder != nil {
		if err := s.recorder.RecordTransition(actor, tr); err != nil {
			s.log.WithField("report", tr.ReportID).Warn("Failed to record transition: %v", err)
		}
	}
	s.notifier.StatusChanged(tr)

	s.log.WithFields(map[string]interface{}{
		"report": tr.ReportID,
		"from":   tr.From,
		"to":     tr.To,
	}).Info("Report status changed")
}

// History returns the audit trail for a report, newest first
func (s *Service) History(ctx context.Context, id core.ReportID) ([]*ledger.Entry, error) {
	if _, err := s.reports.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []*ledger.Entry{}, nil
	}
	return s.audit.ReportHistory(id)
}

// VerifyLedger checks the audit chain. Without a ledger there is nothing to verify.
func (s *Service) VerifyLedger() error {
	if s.audit == nil {
		return nil
	}
	return s.audit.VerifyChain()
}

// CounterMismatch is a report whose stored vote counters disagree with its
// recorded feedback rows.
type CounterMismatch struct {
	ReportID       core.ReportID `json:"report_id"`
	StoredPositive int           `json:"stored_positive"`
	StoredNegative int           `json:"stored_negative"`
	Positive       int           `json:"positive"`
	Negative       int           `json:"negative"`
}

// CheckCounters compares every report's counters with the feedback table.
// The classifier only sees the counters, so drift here means statuses were
// derived from votes that were never recorded, or recorded votes were lost.
func (s *Service) CheckCounters(ctx context.Context) ([]CounterMismatch, error) {
	var mismatches []CounterMismatch
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		all, err := s.reports.WithTx(tx).List(ctx, storage.ListOptions{IncludeExpired: true})
		if err != nil {
			return err
		}
		fs := s.feedback.WithTx(tx)
		for _, r := range all {
			pos, neg, err := fs.CountByReport(ctx, r.ID)
			if err != nil {
				return fmt.Errorf("count feedback for %s: %w", r.ID, err)
			}
			if pos != r.PositiveFeedbackCount || neg != r.NegativeFeedbackCount {
				mismatches = append(mismatches, CounterMismatch{
					ReportID:       r.ID,
					StoredPositive: r.PositiveFeedbackCount,
					StoredNegative: r.NegativeFeedbackCount,
					Positive:       pos,
					Negative:       neg,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(mismatches) > 0 {
		s.log.WithField("reports", len(mismatches)).Warn("Vote counters disagree with recorded feedback")
	}
	return mismatches, nil
}

// Stats is a snapshot of report counts
type Stats struct {
	Total    int                 `json:"total"`
	ByStatus map[core.Status]int `json:"by_status"`
}

// Stats returns report counts by status
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	total, err := s.reports.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	byStatus, err := s.reports.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Total: total, ByStatus: byStatus}, nil
}
