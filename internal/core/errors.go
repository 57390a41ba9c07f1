// Package core defines the fundamental types and errors for CivicPulse.
package core

import "errors"

// Core errors that can occur across the system
var (
	// Storage errors
	ErrDatabaseLocked  = errors.New("database is locked")
	ErrMigrationFailed = errors.New("migration failed")
	ErrRecordNotFound  = errors.New("record not found")

	// Report errors
	ErrReportNotFound = errors.New("report not found")
	ErrReportExpired  = errors.New("report has expired")
	ErrInvalidKind    = errors.New("invalid report kind")
	ErrInvalidVote    = errors.New("invalid vote")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingRequired = errors.New("missing required field")
)
