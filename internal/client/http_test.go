package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alfredjeanlab/gatekeep/internal/model"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method      string
	path        string
	rawPath     string // URL-encoded path (for testing PathEscape)
	query       string
	body        string
	contentType string
	auth        string

	// canned response
	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.rawPath = r.URL.RawPath
	h.query = r.URL.RawQuery
	h.contentType = r.Header.Get("Content-Type")
	h.auth = r.Header.Get("Authorization")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(h http.Handler) (*HTTPClient, *httptest.Server) {
	srv := httptest.NewServer(h)
	return NewHTTPClient(srv.URL, ""), srv
}

func TestHTTPClient_ListGates(t *testing.T) {
	h := &testHandler{
		responseBody: `{"gates":[{"id":"gt-1","event_id":"evt-1","name":"VIP Gate","kind":"physical","latitude":51.5,"longitude":-0.12}]}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	gates, err := c.ListGates(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("ListGates() error = %v", err)
	}
	if h.method != http.MethodGet || h.path != "/v1/events/evt-1/gates" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if len(gates) != 1 || gates[0].Name != "VIP Gate" || !gates[0].HasLocation() {
		t.Fatalf("gates = %+v", gates)
	}
}

func TestHTTPClient_GetGate_URLEscaping(t *testing.T) {
	h := &testHandler{responseBody: `{"id":"gt/1"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	if _, err := c.GetGate(context.Background(), "evt 1", "gt/1"); err != nil {
		t.Fatalf("GetGate() error = %v", err)
	}
	if h.rawPath != "/v1/events/evt%201/gates/gt%2F1" {
		t.Errorf("rawPath = %q", h.rawPath)
	}
}

func TestHTTPClient_ListBindings(t *testing.T) {
	for _, tc := range []struct {
		gateID    string
		wantQuery string
	}{
		{"", ""},
		{"gt-1", "gate_id=gt-1"},
	} {
		h := &testHandler{responseBody: `{"bindings":[{"gate_id":"gt-1","category":"VIP","status":"enforced","sample_count":15}]}`}
		c, srv := newTestClient(h)

		bindings, err := c.ListBindings(context.Background(), "evt-1", tc.gateID)
		srv.Close()
		if err != nil {
			t.Fatalf("ListBindings(%q) error = %v", tc.gateID, err)
		}
		if h.path != "/v1/events/evt-1/bindings" || h.query != tc.wantQuery {
			t.Errorf("request = %s?%s", h.path, h.query)
		}
		if len(bindings) != 1 || bindings[0].Status != model.StatusEnforced {
			t.Errorf("bindings = %+v", bindings)
		}
	}
}

func TestHTTPClient_History(t *testing.T) {
	h := &testHandler{responseBody: `{"events":[{"id":4,"topic":"gates.gate.created","event_id":"evt-1","payload":{}}]}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	evts, err := c.History(context.Background(), "evt-1", 3, 50)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if h.path != "/v1/events/evt-1/history" || h.query != "after=3&limit=50" {
		t.Errorf("request = %s?%s", h.path, h.query)
	}
	if len(evts) != 1 || evts[0].Topic != "gates.gate.created" {
		t.Errorf("events = %+v", evts)
	}
}

func TestHTTPClient_Evaluate(t *testing.T) {
	h := &testHandler{responseBody: `{"allowed":true,"status":"probation","learning_mode":true,"reason":"learning"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	d, err := c.Evaluate(context.Background(), "evt-1", &EvaluateRequest{GateID: "gt-1", Category: "Staff"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if h.method != http.MethodPost || h.path != "/v1/events/evt-1/evaluate" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.contentType != "application/json" {
		t.Errorf("content type = %q", h.contentType)
	}
	var sent map[string]any
	if err := json.Unmarshal([]byte(h.body), &sent); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if sent["gate_id"] != "gt-1" || sent["category"] != "Staff" {
		t.Errorf("request body = %v", sent)
	}
	if _, ok := sent["allow_unknown"]; ok {
		t.Errorf("allow_unknown sent although false")
	}
	if !d.Allowed || !d.LearningMode || d.Status != model.StatusProbation {
		t.Errorf("decision = %+v", d)
	}
}

func TestHTTPClient_Jobs(t *testing.T) {
	h := &testHandler{responseBody: `{"event_id":"evt-1","gates_created":2,"clusters_found":2}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	disc, err := c.RunDiscovery(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("RunDiscovery() error = %v", err)
	}
	if h.method != http.MethodPost || h.path != "/v1/events/evt-1/discovery" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if disc.GatesCreated != 2 {
		t.Errorf("report = %+v", disc)
	}

	if _, err := c.RunDeduplication(context.Background(), "evt-1"); err != nil {
		t.Fatalf("RunDeduplication() error = %v", err)
	}
	if h.path != "/v1/events/evt-1/deduplication" {
		t.Errorf("path = %q", h.path)
	}

	if _, err := c.MergeGates(context.Background(), "evt-1", []string{"gt-1", "gt-2"}); err != nil {
		t.Fatalf("MergeGates() error = %v", err)
	}
	if h.path != "/v1/events/evt-1/merge" || h.body != `{"gate_ids":["gt-1","gt-2"]}` {
		t.Errorf("merge request = %s %s", h.path, h.body)
	}
}

func TestHTTPClient_ApplyRecommendation(t *testing.T) {
	h := &testHandler{responseBody: `{"binding":{"gate_id":"gt-1","category":"Staff","status":"enforced"},"applied":true}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	resp, err := c.ApplyRecommendation(context.Background(), "evt-1", "gt-1", "Staff")
	if err != nil {
		t.Fatalf("ApplyRecommendation() error = %v", err)
	}
	if h.path != "/v1/events/evt-1/recommendations/apply" {
		t.Errorf("path = %q", h.path)
	}
	if !resp.Applied || resp.Binding.Status != model.StatusEnforced {
		t.Errorf("response = %+v", resp)
	}
}

func TestHTTPClient_Health(t *testing.T) {
	h := &testHandler{responseBody: `{"status": "ok"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if h.method != http.MethodGet || h.path != "/v1/health" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if status != "ok" {
		t.Errorf("status = %q, want 'ok'", status)
	}
}

func TestHTTPClient_BearerToken(t *testing.T) {
	h := &testHandler{responseBody: `{"status": "ok"}`}
	srv := httptest.NewServer(h)
	defer srv.Close()

	if _, err := NewHTTPClient(srv.URL, "secret").Health(context.Background()); err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if h.auth != "Bearer secret" {
		t.Errorf("Authorization = %q", h.auth)
	}
}

// --- Error handling ---

func TestHTTPClient_Errors(t *testing.T) {
	for _, tc := range []struct {
		name        string
		statusCode  int
		body        string
		wantMessage string
	}{
		{"json body", http.StatusConflict, `{"error": "event evt-1: concurrent modification"}`, "event evt-1: concurrent modification"},
		{"not found", http.StatusNotFound, `{"error": "not found"}`, "not found"},
		{"non-json body", http.StatusInternalServerError, "internal server error", "internal server error"},
		{"empty json error", http.StatusBadGateway, `{"error": ""}`, `{"error": ""}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewHTTPClient(srv.URL, "").RunDiscovery(context.Background(), "evt-1")
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T: %v", err, err)
			}
			if apiErr.StatusCode != tc.statusCode || apiErr.Message != tc.wantMessage {
				t.Errorf("APIError = %d %q", apiErr.StatusCode, apiErr.Message)
			}
		})
	}
}

func TestHTTPClient_Error_FormatString(t *testing.T) {
	err := &APIError{StatusCode: 409, Message: "busy"}
	if err.Error() != "HTTP 409: busy" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestHTTPClient_Error_CanceledContext(t *testing.T) {
	h := &testHandler{responseBody: `{"status": "ok"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Health(ctx)
	if err == nil {
		t.Fatal("expected error for canceled context, got nil")
	}
	if !strings.Contains(err.Error(), "context canceled") {
		t.Errorf("error = %q, want to contain 'context canceled'", err.Error())
	}
}

func TestNewHTTPClient_TrimsTrailingSlash(t *testing.T) {
	c := NewHTTPClient("http://localhost:8080/", "")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want 'http://localhost:8080'", c.baseURL)
	}
}

func TestHTTPClient_Close(t *testing.T) {
	if err := NewHTTPClient("http://localhost:9999", "").Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}
