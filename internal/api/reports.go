package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/civicpulse/civicpulse/internal/core"
	"github.com/civicpulse/civicpulse/internal/reports"
	"github.com/civicpulse/civicpulse/internal/storage"
)

// handleListReports returns reports, newest first
// GET /api/v1/reports?include_expired=&kind=&limit=
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	opts := storage.ListOptions{
		Kind:  core.Kind(query.Get("kind")),
		Limit: 100,
	}

	if v := query.Get("include_expired"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "include_expired must be a boolean")
			return
		}
		opts.IncludeExpired = b
	}

	if v := query.Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = l
	}

	list, err := s.reports.List(r.Context(), opts)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if list == nil {
		list = []*core.Report{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"reports": list,
		"count":   len(list),
	})
}

// handleCreateReport submits a new report
// POST /api/v1/reports
func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind        core.Kind `json:"kind"`
		Title       string    `json:"title"`
		Description string    `json:"description"`
		Latitude    *float64  `json:"latitude"`
		Longitude   *float64  `json:"longitude"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		respondError(w, http.StatusBadRequest, "latitude and longitude are required")
		return
	}

	created, err := s.reports.Create(r.Context(), reports.NewReport{
		Kind:        req.Kind,
		Title:       req.Title,
		Description: req.Description,
		Latitude:    *req.Latitude,
		Longitude:   *req.Longitude,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, created)
}

// handleGetReport returns a report and its validity band
// GET /api/v1/reports/{reportID}
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := core.ReportID(chi.URLParam(r, "reportID"))

	detail, err := s.reports.GetDetail(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// handleListFeedback returns the individual votes on a report
// GET /api/v1/reports/{reportID}/feedback
func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	id := core.ReportID(chi.URLParam(r, "reportID"))

	votes, err := s.reports.Feedback(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if votes == nil {
		votes = []*core.Feedback{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"report_id": id,
		"feedback":  votes,
		"count":     len(votes),
	})
}

// handleSubmitFeedback records a vote and returns the reclassified report
// POST /api/v1/reports/{reportID}/feedback
func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	id := core.ReportID(chi.URLParam(r, "reportID"))

	var req struct {
		Vote core.Vote `json:"vote"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	updated, err := s.reports.SubmitFeedback(r.Context(), id, req.Vote)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// handleGetHistory returns the audit trail for a report
// GET /api/v1/reports/{reportID}/history
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := core.ReportID(chi.URLParam(r, "reportID"))

	entries, err := s.reports.History(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"report_id": id,
		"entries":   entries,
		"count":     len(entries),
	})
}
