// Package core defines the fundamental types for CivicPulse.
// A Report is the unit everything else revolves around: the community
// votes on it and the lifecycle classifier decides whether it stays visible.
package core

import (
	"time"
)

// -----------------------------------------------------------------------------
// REPORT - A geotagged community submission
// -----------------------------------------------------------------------------

// ReportID is a type-safe identifier for reports
type ReportID string

// Kind is the category a reporter picks when submitting
type Kind string

const (
	KindHazard        Kind = "hazard"
	KindInconvenience Kind = "inconvenience"
	KindDiscovery     Kind = "discovery"
)

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	switch k {
	case KindHazard, KindInconvenience, KindDiscovery:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a report.
// Allowed moves: active -> expiring -> expired, and expiring -> active.
type Status string

const (
	StatusActive   Status = "active"
	StatusExpiring Status = "expiring"
	StatusExpired  Status = "expired" // Terminal
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusExpiring, StatusExpired:
		return true
	default:
		return false
	}
}

// Visible reports whether a list or map should still show a report in this state
func (s Status) Visible() bool {
	return s == StatusActive || s == StatusExpiring
}

// Location is a WGS84 coordinate
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate is within range
func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180
}

// Report is a single community submission tracked for ongoing relevance.
//
// The lifecycle fields below Status are owned by the lifecycle package;
// everything else is set at creation and never touched by classification.
type Report struct {
	ID          ReportID `json:"id"`
	Kind        Kind     `json:"kind"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Location    Location `json:"location"`

	// Community feedback
	PositiveFeedbackCount int `json:"positive_feedback_count"` // "still valid"
	NegativeFeedbackCount int `json:"negative_feedback_count"` // "resolved / no longer true"

	// Lifecycle
	Status                 Status     `json:"status"`
	FeedbackConditionMetAt *time.Time `json:"feedback_condition_met_at,omitempty"` // Start of current degradation run
	ExpiringAt             *time.Time `json:"expiring_at,omitempty"`               // Set only while expiring

	// Advisory validity bands (at most one is set)
	Positive70SustainedSince     *time.Time `json:"positive_70_sustained_since,omitempty"`
	Positive40to60SustainedSince *time.Time `json:"positive_40_to_60_sustained_since,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TotalFeedback returns the number of votes cast on the report
func (r *Report) TotalFeedback() int {
	return r.PositiveFeedbackCount + r.NegativeFeedbackCount
}

// -----------------------------------------------------------------------------
// FEEDBACK - A binary vote on a report
// -----------------------------------------------------------------------------

// Vote is the direction of a single piece of feedback
type Vote string

const (
	VotePositive Vote = "positive" // Still valid
	VoteNegative Vote = "negative" // Resolved or invalid
)

// Valid reports whether v is a known vote
func (v Vote) Valid() bool {
	return v == VotePositive || v == VoteNegative
}

// Feedback is one recorded vote
type Feedback struct {
	ID        string    `json:"id"`
	ReportID  ReportID  `json:"report_id"`
	Vote      Vote      `json:"vote"`
	CreatedAt time.Time `json:"created_at"`
}
