package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/civicpulse/civicpulse/internal/core"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ReportStore handles report persistence
type ReportStore struct {
	q querier
}

// NewReportStore creates a new report store
func NewReportStore(db *DB) *ReportStore {
	return &ReportStore{q: db.conn}
}

// WithTx returns a store that runs its statements inside tx
func (s *ReportStore) WithTx(tx *sql.Tx) *ReportStore {
	return &ReportStore{q: tx}
}

// ListOptions filters report listings
type ListOptions struct {
	IncludeExpired bool      // Expired reports are hidden by default
	Kind           core.Kind // Empty means any kind
	Limit          int       // 0 means no limit
}

const reportColumns = `
	id, kind, title, description, latitude, longitude,
	positive_count, negative_count, status,
	condition_met_at, expiring_at, positive70_since, positive40to60_since,
	created_at, updated_at`

// Create inserts a new report, stamping CreatedAt/UpdatedAt when unset
func (s *ReportStore) Create(ctx context.Context, r *core.Report) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.Kind, r.Title, r.Description, r.Location.Latitude, r.Location.Longitude,
		r.PositiveFeedbackCount, r.NegativeFeedbackCount, r.Status,
		toMillis(r.FeedbackConditionMetAt), toMillis(r.ExpiringAt),
		toMillis(r.Positive70SustainedSince), toMillis(r.Positive40to60SustainedSince),
		r.CreatedAt.UTC(), r.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// GetByID returns a report by ID
func (s *ReportStore) GetByID(ctx context.Context, id core.ReportID) (*core.Report, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)

	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	return r, nil
}

// Update writes feedback counts, lifecycle state and UpdatedAt.
// Descriptive fields are immutable after creation.
func (s *ReportStore) Update(ctx context.Context, r *core.Report) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE reports SET
		    positive_count = ?, negative_count = ?, status = ?,
		    condition_met_at = ?, expiring_at = ?,
		    positive70_since = ?, positive40to60_since = ?,
		    updated_at = ?
		WHERE id = ?
	`,
		r.PositiveFeedbackCount, r.NegativeFeedbackCount, r.Status,
		toMillis(r.FeedbackConditionMetAt), toMillis(r.ExpiringAt),
		toMillis(r.Positive70SustainedSince), toMillis(r.Positive40to60SustainedSince),
		r.UpdatedAt.UTC(),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("update report %s: %w", r.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrReportNotFound
	}
	return nil
}

// List returns reports newest first
func (s *ReportStore) List(ctx context.Context, opts ListOptions) ([]*core.Report, error) {
	var where []string
	var args []any

	if !opts.IncludeExpired {
		where = append(where, "status != ?")
		args = append(args, core.StatusExpired)
	}
	if opts.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, opts.Kind)
	}

	query := `SELECT ` + reportColumns + ` FROM reports`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	return s.query(ctx, query, args...)
}

// ListUnsettled returns every report that can still change status,
// oldest first, for periodic sweeps.
func (s *ReportStore) ListUnsettled(ctx context.Context) ([]*core.Report, error) {
	return s.query(ctx, `
		SELECT `+reportColumns+` FROM reports
		WHERE status != ?
		ORDER BY created_at ASC, id ASC
	`, core.StatusExpired)
}

// Count returns the total number of reports
func (s *ReportStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&count)
	return count, err
}

// CountByStatus returns the number of reports in each status
func (s *ReportStore) CountByStatus(ctx context.Context) (map[core.Status]int, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT status, COUNT(*) FROM reports GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[core.Status]int{
		core.StatusActive:   0,
		core.StatusExpiring: 0,
		core.StatusExpired:  0,
	}
	for rows.Next() {
		var status core.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *ReportStore) query(ctx context.Context, query string, args ...any) ([]*core.Report, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var reports []*core.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner) (*core.Report, error) {
	r := &core.Report{}
	var conditionMetAt, expiringAt, positive70, positive40to60 sql.NullInt64

	err := row.Scan(
		&r.ID, &r.Kind, &r.Title, &r.Description, &r.Location.Latitude, &r.Location.Longitude,
		&r.PositiveFeedbackCount, &r.NegativeFeedbackCount, &r.Status,
		&conditionMetAt, &expiringAt, &positive70, &positive40to60,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.FeedbackConditionMetAt = fromMillis(conditionMetAt)
	r.ExpiringAt = fromMillis(expiringAt)
	r.Positive70SustainedSince = fromMillis(positive70)
	r.Positive40to60SustainedSince = fromMillis(positive40to60)

	return r, nil
}

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
