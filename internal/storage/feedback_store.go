package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/civicpulse/civicpulse/internal/core"
)

// FeedbackStore keeps the individual votes behind a report's counters
type FeedbackStore struct {
	q querier
}

// NewFeedbackStore creates a new feedback store
func NewFeedbackStore(db *DB) *FeedbackStore {
	return &FeedbackStore{q: db.conn}
}

// WithTx returns a store that runs its statements inside tx
func (s *FeedbackStore) WithTx(tx *sql.Tx) *FeedbackStore {
	return &FeedbackStore{q: tx}
}

// Record stores one vote
func (s *FeedbackStore) Record(ctx context.Context, fb *core.Feedback) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO feedback (id, report_id, vote, created_at)
		VALUES (?, ?, ?, ?)
	`, fb.ID, fb.ReportID, fb.Vote, fb.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// ListByReport returns the votes on a report, oldest first
func (s *FeedbackStore) ListByReport(ctx context.Context, reportID core.ReportID) ([]*core.Feedback, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, report_id, vote, created_at
		FROM feedback
		WHERE report_id = ?
		ORDER BY created_at ASC, id ASC
	`, reportID)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var feedback []*core.Feedback
	for rows.Next() {
		fb := &core.Feedback{}
		if err := rows.Scan(&fb.ID, &fb.ReportID, &fb.Vote, &fb.CreatedAt); err != nil {
			return nil, err
		}
		feedback = append(feedback, fb)
	}
	return feedback, rows.Err()
}

// CountByReport tallies positive and negative votes on a report
func (s *FeedbackStore) CountByReport(ctx context.Context, reportID core.ReportID) (positive, negative int, err error) {
	err = s.q.QueryRowContext(ctx, `
		SELECT
		    COALESCE(SUM(CASE WHEN vote = 'positive' THEN 1 ELSE 0 END), 0),
		    COALESCE(SUM(CASE WHEN vote = 'negative' THEN 1 ELSE 0 END), 0)
		FROM feedback WHERE report_id = ?
	`, reportID).Scan(&positive, &negative)
	return positive, negative, err
}
