package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/weavehq/weave/internal/engine"
	"github.com/weavehq/weave/internal/store"
	"github.com/weavehq/weave/pkg/schema"
)

// maxBodySize bounds inbound request bodies.
const maxBodySize = 1 << 20

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	body, err := readBody(r)
	if err != nil {
		writeError(w, err, true)
		return
	}
	result, err := s.pipeline.Ingest(r.Context(), slug, r.Header, body)
	if err != nil {
		writeError(w, err, true)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	nodeID := r.PathValue("nodeId")

	body, err := readBody(r)
	if err != nil {
		writeError(w, err, true)
		return
	}
	var req struct {
		Status schema.CallbackStatus `json:"status"`
		Output json.RawMessage       `json:"output,omitempty"`
		Error  string                `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, schema.NewError(schema.ErrCodeValidation, "invalid JSON body"), true)
		return
	}
	if req.Status == schema.CallbackCompleted && len(req.Output) > 0 && !isJSONObject(req.Output) {
		writeError(w, schema.NewError(schema.ErrCodeValidation, "callback output must be a JSON object"), true)
		return
	}

	output := req.Output
	if req.Status == schema.CallbackFailed && req.Error != "" {
		if b, err := json.Marshal(map[string]string{"error": req.Error}); err == nil {
			output = b
		}
	}

	run, err := s.engine.HandleCallback(r.Context(), runID, nodeID, req.Status, output)
	if err != nil {
		writeError(w, err, true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":     run.ID,
		"run_status": run.Status,
	})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	nodeID := r.PathValue("nodeId")

	body, err := readBody(r)
	if err != nil {
		writeError(w, err, true)
		return
	}
	var req struct {
		Payload json.RawMessage `json:"payload,omitempty"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, schema.NewError(schema.ErrCodeValidation, "invalid JSON body"), true)
			return
		}
	}

	run, err := s.engine.CompleteUserNode(r.Context(), runID, nodeID, req.Payload)
	if err != nil {
		writeError(w, err, true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":     run.ID,
		"run_status": run.Status,
	})
}

func (s *Server) handleRegisterGraph(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err, false)
		return
	}
	var rec store.GraphRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		writeError(w, schema.NewError(schema.ErrCodeValidation, "invalid JSON body"), false)
		return
	}
	if err := s.engine.RegisterGraph(r.Context(), &rec); err != nil {
		writeError(w, err, false)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": rec.ID})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err, false)
		return
	}
	var req struct {
		GraphID     string          `json:"graph_id"`
		EntityID    string          `json:"entity_id,omitempty"`
		EntryEdgeID string          `json:"entry_edge_id,omitempty"`
		Payload     json.RawMessage `json:"payload,omitempty"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, schema.NewError(schema.ErrCodeValidation, "invalid JSON body"), false)
		return
	}
	if req.GraphID == "" {
		writeError(w, schema.NewError(schema.ErrCodeValidation, "graph_id is required"), false)
		return
	}

	run, err := s.engine.StartRun(r.Context(), engine.StartOptions{
		GraphID:     req.GraphID,
		EntityID:    req.EntityID,
		EntryEdgeID: req.EntryEdgeID,
		Payload:     req.Payload,
		Trigger:     schema.Trigger{Type: schema.TriggerTypeManual},
	})
	if err != nil {
		writeError(w, err, false)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		CanvasID: r.URL.Query().Get("canvas_id"),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := schema.RunStatus(v)
		filter.Status = &status
	}
	runs, err := s.engine.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	since := int64(queryInt(r, "since", 0))
	events, err := s.engine.Events(r.Context(), r.PathValue("id"), since)
	if err != nil {
		writeError(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleUpsertWebhookConfig(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err, false)
		return
	}
	var cfg store.WebhookConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		writeError(w, schema.NewError(schema.ErrCodeValidation, "invalid JSON body"), false)
		return
	}
	if cfg.EndpointSlug == "" || cfg.GraphID == "" || cfg.EntryEdgeID == "" {
		writeError(w, schema.NewError(schema.ErrCodeValidation,
			"endpoint_slug, graph_id, and entry_edge_id are required"), false)
		return
	}
	if cfg.ID == "" {
		cfg.ID = cfg.EndpointSlug
	}
	if err := s.store.UpsertWebhookConfig(r.Context(), &cfg); err != nil {
		writeError(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": cfg.ID})
}

func (s *Server) handleListWebhookEvents(w http.ResponseWriter, r *http.Request) {
	filter := store.WebhookEventFilter{
		WebhookConfigID: r.URL.Query().Get("config_id"),
		Limit:           queryInt(r, "limit", 50),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := store.WebhookEventStatus(v)
		filter.Status = &status
	}
	events, err := s.store.ListWebhookEvents(r.Context(), filter)
	if err != nil {
		writeError(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// --- helpers ---

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "read request body failed")
	}
	if len(body) > maxBodySize {
		return nil, schema.NewError(schema.ErrCodeValidation, "request body too large")
	}
	return body, nil
}

// isJSONObject reports whether raw is a JSON object literal.
func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a structured error to an HTTP response. When external
// is true the caller is an outside system (webhook sender, worker);
// server-side failures are reported without internal detail.
func writeError(w http.ResponseWriter, err error, external bool) {
	code := schema.ErrCodeExecution
	message := err.Error()

	var we *schema.WeaveError
	if errors.As(err, &we) {
		code = we.Code
		message = we.Message
	}

	status := statusFor(code)
	if external && status >= 500 {
		message = "internal error"
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func statusFor(code string) int {
	switch code {
	case schema.ErrCodeValidation, schema.ErrCodeCycleDetected:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeAuthentication:
		return http.StatusUnauthorized
	case schema.ErrCodeConfiguration:
		return http.StatusForbidden
	case schema.ErrCodeInvalidTransition, schema.ErrCodeDuplicate:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
