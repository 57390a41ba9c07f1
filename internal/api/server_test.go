package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/civicpulse/civicpulse/internal/core"
	"github.com/civicpulse/civicpulse/internal/ledger"
	"github.com/civicpulse/civicpulse/internal/reports"
	"github.com/civicpulse/civicpulse/internal/scheduler"
	"github.com/civicpulse/civicpulse/internal/testutil"
)

// testServer creates a test server with in-memory database
func testServer(t *testing.T) (*Server, *testutil.Clock) {
	t.Helper()

	db := testutil.TestDB(t)
	clock := testutil.NewClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	hub := NewWebSocketHub()
	audit := ledger.NewStore(db.Conn())
	svc := reports.NewService(db,
		reports.WithLedger(audit),
		reports.WithNotifier(hub),
		reports.WithClock(clock.Now),
	)

	srv := New(Config{
		Addr:      "127.0.0.1:0",
		Reports:   svc,
		Ledger:    audit,
		Scheduler: scheduler.New(scheduler.DefaultConfig()),
		Hub:       hub,
	})
	go hub.Run()
	t.Cleanup(hub.Stop)

	return srv, clock
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func createReport(t *testing.T, srv *Server) core.Report {
	t.Helper()

	rr := do(t, srv, "POST", "/api/v1/reports",
		`{"kind":"hazard","title":"Broken glass","latitude":51.5,"longitude":-0.12}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var r core.Report
	decode(t, rr, &r)
	return r
}

// --- Health / Stats ---

func TestAPI_Health(t *testing.T) {
	srv, _ := testServer(t)

	rr := do(t, srv, "GET", "/api/v1/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp map[string]interface{}
	decode(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if _, ok := resp["scheduler"]; !ok {
		t.Error("health should include scheduler stats")
	}
}

func TestAPI_Stats(t *testing.T) {
	srv, _ := testServer(t)
	createReport(t, srv)
	createReport(t, srv)

	rr := do(t, srv, "GET", "/api/v1/stats", "")
	var stats reports.Stats
	decode(t, rr, &stats)

	if stats.Total != 2 || stats.ByStatus[core.StatusActive] != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

// --- Reports ---

func TestAPI_CreateReport(t *testing.T) {
	srv, _ := testServer(t)
	r := createReport(t, srv)

	if r.ID == "" || r.Status != core.StatusActive {
		t.Errorf("created report = %+v", r)
	}
}

func TestAPI_CreateReport_BadRequest(t *testing.T) {
	srv, _ := testServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "invalid json"},
		{"missing location", `{"kind":"hazard","title":"x"}`},
		{"unknown kind", `{"kind":"gossip","title":"x","latitude":0,"longitude":0}`},
		{"empty title", `{"kind":"hazard","title":"","latitude":0,"longitude":0}`},
		{"latitude out of range", `{"kind":"hazard","title":"x","latitude":120,"longitude":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, "POST", "/api/v1/reports", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestAPI_GetReport(t *testing.T) {
	srv, clock := testServer(t)
	r := createReport(t, srv)

	do(t, srv, "POST", "/api/v1/reports/"+string(r.ID)+"/feedback", `{"vote":"positive"}`)
	clock.Advance(time.Hour)

	rr := do(t, srv, "GET", "/api/v1/reports/"+string(r.ID), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var detail struct {
		Report   core.Report `json:"report"`
		Validity struct {
			Band         string        `json:"band"`
			SustainedFor time.Duration `json:"sustained_for"`
			Visible      bool          `json:"visible"`
		} `json:"validity"`
	}
	decode(t, rr, &detail)

	if detail.Report.ID != r.ID {
		t.Errorf("report id = %s, want %s", detail.Report.ID, r.ID)
	}
	if detail.Validity.Band != "confirmed" || detail.Validity.SustainedFor != time.Hour || !detail.Validity.Visible {
		t.Errorf("validity = %+v", detail.Validity)
	}
}

func TestAPI_GetReport_NotFound(t *testing.T) {
	srv, _ := testServer(t)

	for _, path := range []string{
		"/api/v1/reports/nonexistent",
		"/api/v1/reports/nonexistent/history",
		"/api/v1/reports/nonexistent/feedback",
	} {
		if rr := do(t, srv, "GET", path, ""); rr.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected status 404, got %d", path, rr.Code)
		}
	}

	rr := do(t, srv, "POST", "/api/v1/reports/nonexistent/feedback", `{"vote":"positive"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("feedback on missing report: expected status 404, got %d", rr.Code)
	}
}

func TestAPI_ListReports(t *testing.T) {
	srv, _ := testServer(t)
	createReport(t, srv)
	do(t, srv, "POST", "/api/v1/reports", `{"kind":"discovery","title":"Street piano","latitude":1,"longitude":1}`)

	tests := []struct {
		name  string
		query string
		code  int
		want  int
	}{
		{"all visible", "", http.StatusOK, 2},
		{"by kind", "?kind=discovery", http.StatusOK, 1},
		{"limit", "?limit=1", http.StatusOK, 1},
		{"include expired", "?include_expired=true", http.StatusOK, 2},
		{"bad kind", "?kind=weather", http.StatusBadRequest, 0},
		{"bad limit", "?limit=-3", http.StatusBadRequest, 0},
		{"bad include_expired", "?include_expired=maybe", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, "GET", "/api/v1/reports"+tt.query, "")
			if rr.Code != tt.code {
				t.Fatalf("expected status %d, got %d", tt.code, rr.Code)
			}
			if tt.code != http.StatusOK {
				return
			}
			var resp struct {
				Reports []core.Report `json:"reports"`
				Count   int           `json:"count"`
			}
			decode(t, rr, &resp)
			if resp.Count != tt.want || len(resp.Reports) != tt.want {
				t.Errorf("got %d reports, want %d", resp.Count, tt.want)
			}
		})
	}
}

// --- Feedback and lifecycle ---

func TestAPI_SubmitFeedback_Invalid(t *testing.T) {
	srv, _ := testServer(t)
	r := createReport(t, srv)
	path := "/api/v1/reports/" + string(r.ID) + "/feedback"

	if rr := do(t, srv, "POST", path, "invalid"); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON: expected status 400, got %d", rr.Code)
	}
	if rr := do(t, srv, "POST", path, `{"vote":"meh"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid vote: expected status 400, got %d", rr.Code)
	}
}

func TestAPI_Lifecycle_ExpiredRejectsFeedback(t *testing.T) {
	srv, clock := testServer(t)
	r := createReport(t, srv)
	path := "/api/v1/reports/" + string(r.ID) + "/feedback"

	rr := do(t, srv, "POST", path, `{"vote":"negative"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("vote: expected status 200, got %d", rr.Code)
	}

	clock.Advance(7 * 24 * time.Hour)
	rr = do(t, srv, "POST", "/api/v1/sweep", "")
	var res reports.SweepResult
	decode(t, rr, &res)
	if res.ToExpiring != 1 {
		t.Fatalf("sweep result = %+v, want one to expiring", res)
	}

	clock.Advance(3 * 24 * time.Hour)
	do(t, srv, "POST", "/api/v1/sweep", "")

	rr = do(t, srv, "POST", path, `{"vote":"positive"}`)
	if rr.Code != http.StatusConflict {
		t.Errorf("feedback on expired: expected status 409, got %d", rr.Code)
	}

	rr = do(t, srv, "GET", "/api/v1/reports", "")
	var list struct {
		Count int `json:"count"`
	}
	decode(t, rr, &list)
	if list.Count != 0 {
		t.Errorf("expired report should be hidden from default listing")
	}

	rr = do(t, srv, "GET", "/api/v1/reports/"+string(r.ID)+"/history", "")
	var history struct {
		Entries []ledger.Entry `json:"entries"`
	}
	decode(t, rr, &history)
	if len(history.Entries) != 4 {
		t.Errorf("history has %d entries, want 4", len(history.Entries))
	}
}

// --- Ledger ---

func TestAPI_LedgerVerify(t *testing.T) {
	srv, _ := testServer(t)
	createReport(t, srv)

	rr := do(t, srv, "GET", "/api/v1/ledger/verify", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp map[string]interface{}
	decode(t, rr, &resp)
	if resp["chain_valid"] != true {
		t.Errorf("chain_valid = %v, want true", resp["chain_valid"])
	}
	if resp["total_entries"] != float64(1) {
		t.Errorf("total_entries = %v, want 1", resp["total_entries"])
	}
}

func TestAPI_LedgerEntries(t *testing.T) {
	srv, _ := testServer(t)
	createReport(t, srv)

	rr := do(t, srv, "GET", "/api/v1/ledger?action="+ledger.ActionReportCreated, "")
	var resp struct {
		Entries []ledger.Entry `json:"entries"`
	}
	decode(t, rr, &resp)
	if len(resp.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(resp.Entries))
	}

	rr = do(t, srv, "GET", "/api/v1/ledger/entry/"+resp.Entries[0].ID, "")
	if rr.Code != http.StatusOK {
		t.Errorf("entry: expected status 200, got %d", rr.Code)
	}
	if rr = do(t, srv, "GET", "/api/v1/ledger/entry/missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing entry: expected status 404, got %d", rr.Code)
	}
	if rr = do(t, srv, "GET", "/api/v1/ledger?since=yesterday", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad since: expected status 400, got %d", rr.Code)
	}
}

// --- Response helpers ---

func TestAPI_RespondError(t *testing.T) {
	rr := httptest.NewRecorder()
	respondError(rr, http.StatusBadRequest, "test error")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}

	var resp map[string]string
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["error"] != "test error" {
		t.Errorf("expected error='test error', got %v", resp["error"])
	}
}

func TestAPI_CORSPreflight(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest("OPTIONS", "/api/v1/reports", nil)
	req.Header.Set("Origin", "https://app.example.org")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

// --- WebSocket ---

func TestWebSocketHub_BroadcastWithoutClients(t *testing.T) {
	hub := NewWebSocketHub()
	go hub.Run()
	defer hub.Stop()

	// Should not panic or block with no clients
	hub.Broadcast(WebSocketMessage{Type: "test", Data: "data", Timestamp: time.Now()})
}

func TestWebSocketHub_StopIsIdempotent(t *testing.T) {
	hub := NewWebSocketHub()
	go hub.Run()

	hub.Stop()
	hub.Stop()
	hub.Broadcast(WebSocketMessage{Type: "after-stop"})
}

func TestAPI_WebSocket_StreamsStatusChanges(t *testing.T) {
	srv, clock := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub().ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	r := createReport(t, srv)
	do(t, srv, "POST", "/api/v1/reports/"+string(r.ID)+"/feedback", `{"vote":"negative"}`)
	clock.Advance(7 * 24 * time.Hour)
	do(t, srv, "POST", "/api/v1/sweep", "")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg struct {
			Type string `json:"type"`
			Data struct {
				ReportID core.ReportID `json:"report_id"`
				From     core.Status   `json:"from"`
				To       core.Status   `json:"to"`
			} `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type != EventStatusChanged {
			continue
		}
		if msg.Data.ReportID != r.ID || msg.Data.From != core.StatusActive || msg.Data.To != core.StatusExpiring {
			t.Errorf("status event = %+v", msg.Data)
		}
		return
	}
}

func TestAPI_RespondJSON_EncodeFailure(t *testing.T) {
	rr := httptest.NewRecorder()
	respondJSON(rr, http.StatusOK, map[string]interface{}{"bad": make(chan int)})

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestAPI_LedgerEntryNotFound_UsesErrorEnvelope(t *testing.T) {
	srv, _ := testServer(t)

	rr := do(t, srv, http.MethodGet, "/api/v1/ledger/entry/missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["error"] != "entry not found" {
		t.Errorf("error = %q, want %q", resp["error"], "entry not found")
	}
}

func TestAPI_Tasks(t *testing.T) {
	srv, _ := testServer(t)

	noop := func(context.Context) error { return nil }
	for _, task := range []*scheduler.Task{
		scheduler.IntervalTask("lifecycle-sweep", "Lifecycle sweep", 15*time.Minute, noop),
		scheduler.DailyTask("ledger-verify", "Ledger verification", "04:00", noop),
	} {
		if err := srv.scheduler.Register(task); err != nil {
			t.Fatalf("Register(%s): %v", task.ID, err)
		}
	}

	rr := do(t, srv, http.MethodGet, "/api/v1/tasks", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var list struct {
		Tasks []scheduler.TaskInfo `json:"tasks"`
		Count int                  `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 2 || list.Tasks[0].ID != "ledger-verify" || list.Tasks[1].ID != "lifecycle-sweep" {
		t.Errorf("tasks = %+v, want ledger-verify then lifecycle-sweep", list.Tasks)
	}

	rr = do(t, srv, http.MethodGet, "/api/v1/tasks/lifecycle-sweep", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var info scheduler.TaskInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Name != "Lifecycle sweep" || info.NextRun == nil {
		t.Errorf("task = %+v", info)
	}

	rr = do(t, srv, http.MethodGet, "/api/v1/tasks/missing", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}
