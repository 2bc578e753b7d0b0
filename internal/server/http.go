package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/alfredjeanlab/gatekeep/internal/binding"
	"github.com/alfredjeanlab/gatekeep/internal/model"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	for pattern, h := range map[string]http.HandlerFunc{
		"GET /v1/health":                                s.handleHealth,
		"GET /v1/events/{event}/gates":                  s.handleListGates,
		"GET /v1/events/{event}/gates/{gate}":           s.handleGetGate,
		"GET /v1/events/{event}/bindings":               s.handleListBindings,
		"GET /v1/events/{event}/history":                s.handleHistory,
		"POST /v1/events/{event}/evaluate":              s.handleEvaluate,
		"POST /v1/events/{event}/discovery":             s.handleDiscovery,
		"POST /v1/events/{event}/deduplication":         s.handleDeduplication,
		"POST /v1/events/{event}/merge":                 s.handleMerge,
		"POST /v1/events/{event}/recommendations/apply": s.handleApplyRecommendation,
	} {
		mux.HandleFunc(pattern, s.observe(h))
	}
	return AuthMiddleware(authToken, mux)
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListGates handles GET /v1/events/{event}/gates.
func (s *Server) handleListGates(w http.ResponseWriter, r *http.Request) {
	gates, err := s.engine.ListGates(r.Context(), r.PathValue("event"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if gates == nil {
		gates = []*model.Gate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"gates": gates})
}

// handleGetGate handles GET /v1/events/{event}/gates/{gate}.
func (s *Server) handleGetGate(w http.ResponseWriter, r *http.Request) {
	gate, err := s.engine.GetGate(r.Context(), r.PathValue("event"), r.PathValue("gate"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gate)
}

// handleListBindings handles GET /v1/events/{event}/bindings[?gate_id=].
func (s *Server) handleListBindings(w http.ResponseWriter, r *http.Request) {
	bindings, err := s.engine.ListBindings(r.Context(), r.PathValue("event"), r.URL.Query().Get("gate_id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if bindings == nil {
		bindings = []*model.GateBinding{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bindings": bindings})
}

// handleHistory handles GET /v1/events/{event}/history[?after=&limit=].
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	after, limit, err := parseHistoryQuery(r.URL.Query())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	evts, err := s.engine.History(r.Context(), r.PathValue("event"), after, limit)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if evts == nil {
		evts = []*model.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evts})
}

func parseHistoryQuery(q url.Values) (int64, int, error) {
	var after int64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return 0, 0, inputError("after must be a non-negative integer")
		}
		after = n
	}
	limit := defaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, 0, inputError("limit must be a positive integer")
		}
		limit = min(n, maxHistoryLimit)
	}
	return after, limit, nil
}

type evaluateInput struct {
	GateID       string `json:"gate_id"`
	Category     string `json:"category"`
	AllowUnknown bool   `json:"allow_unknown"`
}

// handleEvaluate handles POST /v1/events/{event}/evaluate.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var in evaluateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.GateID == "" || in.Category == "" {
		writeError(w, http.StatusBadRequest, "gate_id and category are required")
		return
	}

	decision, err := s.engine.EvaluateCheckin(r.Context(), r.PathValue("event"), in.GateID, in.Category,
		binding.Policy{AllowUnknown: in.AllowUnknown})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// handleDiscovery handles POST /v1/events/{event}/discovery.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.RunDiscovery(r.Context(), r.PathValue("event"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleDeduplication handles POST /v1/events/{event}/deduplication.
func (s *Server) handleDeduplication(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.RunDeduplication(r.Context(), r.PathValue("event"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type mergeInput struct {
	GateIDs []string `json:"gate_ids"`
}

// handleMerge handles POST /v1/events/{event}/merge.
func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var in mergeInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(in.GateIDs) < 2 {
		writeError(w, http.StatusBadRequest, "at least two gate_ids are required")
		return
	}

	eventID := r.PathValue("event")
	for _, id := range in.GateIDs {
		if _, err := s.engine.GetGate(r.Context(), eventID, id); err != nil {
			s.writeEngineError(w, r, err)
			return
		}
	}

	report, err := s.engine.MergeGates(r.Context(), in.GateIDs)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type applyRecommendationInput struct {
	GateID   string `json:"gate_id"`
	Category string `json:"category"`
}

// handleApplyRecommendation handles POST /v1/events/{event}/recommendations/apply.
func (s *Server) handleApplyRecommendation(w http.ResponseWriter, r *http.Request) {
	var in applyRecommendationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.GateID == "" || in.Category == "" {
		writeError(w, http.StatusBadRequest, "gate_id and category are required")
		return
	}

	b, applied, err := s.engine.ApplyRecommendation(r.Context(), r.PathValue("event"), in.GateID, in.Category)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"binding": b,
		"applied": applied,
	})
}

// writeEngineError maps err onto a status code. Server-side failures are
// logged and reported without internal detail.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
