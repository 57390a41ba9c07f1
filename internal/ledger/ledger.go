// Package ledger provides a verifiable, append-only audit trail of report
// lifecycle events. Every entry is hash-chained to the previous entry,
// making any tampering detectable.
package ledger

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/civicpulse/civicpulse/internal/core"
	"github.com/civicpulse/civicpulse/internal/lifecycle"
)

// GenesisHash is the prev_hash of the first entry
const GenesisHash = "GENESIS:0000000000000000000000000000000000000000000000000000000000000000"

// Action constants
const (
	ActionReportCreated  = "report.created"
	ActionFeedback       = "report.feedback"
	ActionStatusChanged  = "report.status_changed"
	ActionSweepCompleted = "sweep.completed"
)

// Actor constants
const (
	ActorUser   = "user"
	ActorSystem = "system" // Periodic sweeps
)

// EntityReport is the entity type used for report entries
const EntityReport = "report"

// Store manages the append-only audit ledger
type Store struct {
	db  *sql.DB
	now func() time.Time
	mu  sync.Mutex
}

// NewStore creates a new ledger store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Entry is an immutable audit log entry
type Entry struct {
	Seq        int64     `json:"seq"`
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Details    string    `json:"details"`   // JSON blob
	PrevHash   string    `json:"prev_hash"` // Hash of previous entry
	Hash       string    `json:"hash"`
}

// Append adds a new entry chained to the current head.
// This is the only way to add entries.
func (s *Store) Append(action, actor, entityType, entityID string, details any) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var detailsJSON string
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			return nil, fmt.Errorf("marshal details: %w", err)
		}
		detailsJSON = string(data)
	}

	prevHash, err := s.headHash()
	if err != nil {
		return nil, fmt.Errorf("get last hash: %w", err)
	}

	entry := &Entry{
		ID:         uuid.New().String(),
		Timestamp:  s.now().UTC(),
		Action:     action,
		Actor:      actor,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    detailsJSON,
		PrevHash:   prevHash,
	}
	entry.Hash = computeHash(entry)

	res, err := s.db.Exec(`
		INSERT INTO ledger (id, timestamp, action, actor, entity_type, entity_id, details, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Timestamp, entry.Action, entry.Actor, entry.EntityType, entry.EntityID,
		entry.Details, entry.PrevHash, entry.Hash)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	if seq, err := res.LastInsertId(); err == nil {
		entry.Seq = seq
	}

	return entry, nil
}

func (s *Store) headHash() (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM ledger ORDER BY seq DESC LIMIT 1`).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return GenesisHash, nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// computeHash is the SHA-256 of the entry's canonical form, excluding Seq and Hash.
// The timestamp enters as unix nanoseconds so the driver's time zone handling
// cannot change the hash after a round trip.
func computeHash(entry *Entry) string {
	canonical := struct {
		ID         string `json:"id"`
		Timestamp  int64  `json:"timestamp"`
		Action     string `json:"action"`
		Actor      string `json:"actor"`
		EntityType string `json:"entity_type"`
		EntityID   string `json:"entity_id"`
		Details    string `json:"details"`
		PrevHash   string `json:"prev_hash"`
	}{
		ID:         entry.ID,
		Timestamp:  entry.Timestamp.UnixNano(),
		Action:     entry.Action,
		Actor:      entry.Actor,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Details:    entry.Details,
		PrevHash:   entry.PrevHash,
	}

	data, _ := json.Marshal(canonical)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChain checks every link of the ledger.
// Returns nil if valid, or a *ChainError for the first broken link.
func (s *Store) VerifyChain() error {
	rows, err := s.db.Query(`SELECT ` + entryColumns + ` FROM ledger ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	expectedPrevHash := GenesisHash
	entryNum := 0

	for rows.Next() {
		entryNum++
		entry, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan entry %d: %w", entryNum, err)
		}

		if entry.PrevHash != expectedPrevHash {
			return &ChainError{
				EntryNum:     entryNum,
				EntryID:      entry.ID,
				ExpectedHash: expectedPrevHash,
				ActualHash:   entry.PrevHash,
				Type:         "chain_broken",
			}
		}

		if expectedHash := computeHash(entry); entry.Hash != expectedHash {
			return &ChainError{
				EntryNum:     entryNum,
				EntryID:      entry.ID,
				ExpectedHash: expectedHash,
				ActualHash:   entry.Hash,
				Type:         "hash_mismatch",
			}
		}

		expectedPrevHash = entry.Hash
	}

	return rows.Err()
}

// ChainError describes a broken ledger link
type ChainError struct {
	EntryNum     int
	EntryID      string
	ExpectedHash string
	ActualHash   string
	Type         string // "chain_broken" or "hash_mismatch"
}

func (e *ChainError) Error() string {
	if e.Type == "chain_broken" {
		return fmt.Sprintf("chain broken at entry %d (ID: %s): expected prev_hash %s, got %s",
			e.EntryNum, e.EntryID, short(e.ExpectedHash), short(e.ActualHash))
	}
	return fmt.Sprintf("hash mismatch at entry %d (ID: %s): expected %s, got %s",
		e.EntryNum, e.EntryID, short(e.ExpectedHash), short(e.ActualHash))
}

func short(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:16] + "..."
}

// QueryOptions filters ledger listings
type QueryOptions struct {
	Action     string
	Actor      string
	EntityType string
	EntityID   string
	Since      time.Time // Entries at or after this time
	Until      time.Time // Entries at or before this time
	Limit      int
	Offset     int
}

const entryColumns = `seq, id, timestamp, action, actor, entity_type, entity_id, details, prev_hash, hash`

// Query returns matching entries, newest first
func (s *Store) Query(opts QueryOptions) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger WHERE 1=1`
	var args []any

	if opts.Action != "" {
		query += " AND action = ?"
		args = append(args, opts.Action)
	}
	if opts.Actor != "" {
		query += " AND actor = ?"
		args = append(args, opts.Actor)
	}
	if opts.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, opts.EntityType)
	}
	if opts.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, opts.EntityID)
	}
	if !opts.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, opts.Since.UTC())
	}
	if !opts.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, opts.Until.UTC())
	}

	query += " ORDER BY seq DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// GetByID returns a single entry, or nil if there is none
func (s *Store) GetByID(id string) (*Entry, error) {
	row := s.db.QueryRow(`SELECT `+entryColumns+` FROM ledger WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}
	return entry, nil
}

// Count returns the total number of entries
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM ledger").Scan(&count)
	return count, err
}

// ReportHistory returns every entry about a report, newest first
func (s *Store) ReportHistory(id core.ReportID) ([]*Entry, error) {
	return s.Query(QueryOptions{EntityType: EntityReport, EntityID: string(id)})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var entry Entry
	var entityType, entityID, details, prevHash sql.NullString

	err := row.Scan(
		&entry.Seq, &entry.ID, &entry.Timestamp, &entry.Action, &entry.Actor,
		&entityType, &entityID, &details, &prevHash, &entry.Hash,
	)
	if err != nil {
		return nil, err
	}

	entry.EntityType = entityType.String
	entry.EntityID = entityID.String
	entry.Details = details.String
	entry.PrevHash = prevHash.String

	return &entry, nil
}

// Recorder records the lifecycle events of reports
type Recorder struct {
	store *Store
}

// NewRecorder creates a recorder for the given store
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// RecordReportCreated records a new submission
func (r *Recorder) RecordReportCreated(actor string, report *core.Report) error {
	_, err := r.store.Append(ActionReportCreated, actor, EntityReport, string(report.ID), map[string]any{
		"kind":      report.Kind,
		"title":     report.Title,
		"latitude":  report.Location.Latitude,
		"longitude": report.Location.Longitude,
	})
	return err
}

// RecordFeedback records one vote and the counters it produced
func (r *Recorder) RecordFeedback(fb *core.Feedback, report *core.Report) error {
	_, err := r.store.Append(ActionFeedback, ActorUser, EntityReport, string(fb.ReportID), map[string]any{
		"feedback_id": fb.ID,
		"vote":        fb.Vote,
		"positive":    report.PositiveFeedbackCount,
		"negative":    report.NegativeFeedbackCount,
	})
	return err
}

// RecordTransition records a status change
func (r *Recorder) RecordTransition(actor string, tr lifecycle.Transition) error {
	_, err := r.store.Append(ActionStatusChanged, actor, EntityReport, string(tr.ReportID), map[string]any{
		"from": tr.From,
		"to":   tr.To,
		"at":   tr.At.UnixMilli(),
	})
	return err
}

// RecordSweep records the outcome of a periodic sweep
func (r *Recorder) RecordSweep(details map[string]any) error {
	_, err := r.store.Append(ActionSweepCompleted, ActorSystem, "sweep", "", details)
	return err
}
