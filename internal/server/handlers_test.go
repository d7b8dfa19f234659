package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavehq/weave/internal/engine"
	"github.com/weavehq/weave/internal/store"
	"github.com/weavehq/weave/internal/webhook"
	"github.com/weavehq/weave/pkg/schema"
)

const echoGraph = `{
	"nodes": [
		{"id": "start", "type": "trigger"},
		{"id": "review", "type": "ux"},
		{"id": "echo", "type": "worker", "config": {"mode": "echo"}}
	],
	"edges": [
		{"id": "e1", "source": "start", "target": "review"},
		{"id": "e2", "source": "review", "target": "echo"}
	]
}`

// ackDispatcher accepts every dispatch so async workers stay running
// until a callback arrives.
type ackDispatcher struct{}

func (ackDispatcher) Dispatch(ctx context.Context, endpoint string, timeout time.Duration, payload engine.WorkerPayload) error {
	return nil
}

type fixture struct {
	srv *Server
	st  *store.MemoryStore
	eng *engine.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	eng, err := engine.New(engine.Options{
		Store:        st,
		Dispatcher:   ackDispatcher{},
		CallbackBase: "http://localhost:8080",
	})
	require.NoError(t, err)

	pipeline := webhook.NewPipeline(webhook.PipelineOptions{Store: st, Engine: eng})
	srv := New(Options{Addr: ":0", Engine: eng, Pipeline: pipeline, Store: st})
	return &fixture{srv: srv, st: st, eng: eng}
}

func (f *fixture) registerGraph(t *testing.T, id, raw string) {
	t.Helper()
	var def schema.GraphDefinition
	require.NoError(t, json.Unmarshal([]byte(raw), &def))
	require.NoError(t, f.eng.RegisterGraph(context.Background(), &store.GraphRecord{
		ID:         id,
		CanvasID:   "canvas-1",
		Definition: def,
	}))
}

func (f *fixture) do(t *testing.T, method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStartRunAndGetRun(t *testing.T) {
	f := newFixture(t)
	f.registerGraph(t, "g1", echoGraph)

	w := f.do(t, http.MethodPost, "/api/runs", []byte(`{"graph_id":"g1","payload":{"n":1}}`), nil)
	require.Equal(t, http.StatusCreated, w.Code)

	run := decode[store.Run](t, w)
	assert.Equal(t, schema.RunStatusActive, run.Status)
	assert.Equal(t, schema.NodeStatusWaitingForUser, run.NodeStates["review"].Status)

	w = f.do(t, http.MethodGet, "/api/runs/"+run.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/runs/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartRunRequiresGraphID(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/runs", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompleteEndpoint(t *testing.T) {
	f := newFixture(t)
	f.registerGraph(t, "g1", echoGraph)

	w := f.do(t, http.MethodPost, "/api/runs", []byte(`{"graph_id":"g1"}`), nil)
	run := decode[store.Run](t, w)

	w = f.do(t, http.MethodPost, "/complete/"+run.ID+"/review", []byte(`{"payload":{"ok":true}}`), nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[map[string]any](t, w)
	assert.Equal(t, string(schema.RunStatusCompleted), resp["run_status"])
}

func TestCompleteWrongStateConflicts(t *testing.T) {
	f := newFixture(t)
	f.registerGraph(t, "g1", `{
		"nodes": [
			{"id": "start", "type": "trigger"},
			{"id": "first", "type": "ux"},
			{"id": "second", "type": "ux"}
		],
		"edges": [
			{"id": "e1", "source": "start", "target": "first"},
			{"id": "e2", "source": "first", "target": "second"}
		]
	}`)

	w := f.do(t, http.MethodPost, "/api/runs", []byte(`{"graph_id":"g1"}`), nil)
	run := decode[store.Run](t, w)

	// second is still pending, not waiting for a user.
	w = f.do(t, http.MethodPost, "/complete/"+run.ID+"/second", []byte(`{}`), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Completing a worker node is a validation error.
	w = f.do(t, http.MethodPost, "/complete/"+run.ID+"/start", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallbackEndpoint(t *testing.T) {
	f := newFixture(t)
	f.registerGraph(t, "g1", `{
		"nodes": [
			{"id": "start", "type": "trigger"},
			{"id": "work", "type": "worker", "config": {"endpoint": "http://worker.local/do"}}
		],
		"edges": [{"id": "e1", "source": "start", "target": "work"}]
	}`)

	w := f.do(t, http.MethodPost, "/api/runs", []byte(`{"graph_id":"g1"}`), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	run := decode[store.Run](t, w)

	w = f.do(t, http.MethodPost, "/callback/"+run.ID+"/work",
		[]byte(`{"status":"completed","output":{"v":1}}`), nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, string(schema.RunStatusCompleted), resp["run_status"])

	// Duplicate delivery acknowledged without error.
	w = f.do(t, http.MethodPost, "/callback/"+run.ID+"/work",
		[]byte(`{"status":"completed","output":{"v":2}}`), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Invalid status rejected.
	w = f.do(t, http.MethodPost, "/callback/"+run.ID+"/work",
		[]byte(`{"status":"maybe"}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallbackRejectsMalformedBody(t *testing.T) {
	f := newFixture(t)
	f.registerGraph(t, "g1", `{
		"nodes": [
			{"id": "start", "type": "trigger"},
			{"id": "work", "type": "worker", "config": {"endpoint": "http://worker.local/do"}}
		],
		"edges": [{"id": "e1", "source": "start", "target": "work"}]
	}`)

	w := f.do(t, http.MethodPost, "/api/runs", []byte(`{"graph_id":"g1"}`), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	run := decode[store.Run](t, w)

	// Completed output must be a JSON object.
	w = f.do(t, http.MethodPost, "/callback/"+run.ID+"/work",
		[]byte(`{"status":"completed","output":[1,2]}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/callback/"+run.ID+"/work",
		[]byte(`{"status":"completed","output":"done"}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Failed error must be a string.
	w = f.do(t, http.MethodPost, "/callback/"+run.ID+"/work",
		[]byte(`{"status":"failed","error":{"reason":"x"}}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The node is untouched and still accepts the real callback.
	w = f.do(t, http.MethodPost, "/callback/"+run.ID+"/work",
		[]byte(`{"status":"completed","output":{"v":1}}`), nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, string(schema.RunStatusCompleted), resp["run_status"])
}

func TestWebhookEndpoint(t *testing.T) {
	f := newFixture(t)
	f.registerGraph(t, "g1", `{
		"nodes": [
			{"id": "start", "type": "trigger"},
			{"id": "echo", "type": "worker", "config": {"mode": "echo"}}
		],
		"edges": [{"id": "e1", "source": "start", "target": "echo"}]
	}`)

	cfgBody := []byte(`{
		"canvas_id": "canvas-1",
		"source": "token",
		"endpoint_slug": "hook",
		"secret": "s3cret",
		"active": true,
		"graph_id": "g1",
		"entry_edge_id": "e1"
	}`)
	w := f.do(t, http.MethodPut, "/api/webhooks", cfgBody, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := []byte(`{"name":"Ada","email":"ada@example.com"}`)
	h := http.Header{}
	h.Set("x-webhook-secret", "s3cret")
	w = f.do(t, http.MethodPost, "/webhooks/hook", body, h)
	require.Equal(t, http.StatusOK, w.Code)

	result := decode[webhook.Result](t, w)
	assert.NotEmpty(t, result.RunID)
	assert.NotEmpty(t, result.EntityID)

	run, err := f.eng.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
	assert.JSONEq(t, string(body), string(run.NodeStates["echo"].Output))

	// Wrong secret is unauthorized.
	h.Set("x-webhook-secret", "wrong")
	w = f.do(t, http.MethodPost, "/webhooks/hook", body, h)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Unknown slug is not found.
	w = f.do(t, http.MethodPost, "/webhooks/nope", body, h)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Webhook event listing shows both deliveries.
	w = f.do(t, http.MethodGet, "/api/webhook-events", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[map[string][]store.WebhookEvent](t, w)
	assert.Len(t, list["events"], 2)
}

func TestWebhookConfigValidation(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPut, "/api/webhooks", []byte(`{"endpoint_slug":"x"}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunEventsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.registerGraph(t, "g1", echoGraph)

	w := f.do(t, http.MethodPost, "/api/runs", []byte(`{"graph_id":"g1"}`), nil)
	run := decode[store.Run](t, w)

	w = f.do(t, http.MethodGet, "/api/runs/"+run.ID+"/events", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[map[string][]store.Event](t, w)
	require.NotEmpty(t, list["events"])
	assert.Equal(t, schema.EventRunCreated, list["events"][0].Type)
}

func TestRegisterGraphEndpoint(t *testing.T) {
	f := newFixture(t)

	body := []byte(`{"canvas_id":"canvas-1","definition":` + echoGraph + `}`)
	w := f.do(t, http.MethodPost, "/api/graphs", body, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decode[map[string]string](t, w)
	assert.NotEmpty(t, resp["id"])

	// Cyclic graphs are rejected.
	bad := []byte(`{"canvas_id":"c","definition":{
		"nodes":[
			{"id":"a","type":"worker","config":{"mode":"echo"}},
			{"id":"b","type":"worker","config":{"mode":"echo"}}
		],
		"edges":[
			{"id":"e1","source":"a","target":"b"},
			{"id":"e2","source":"b","target":"a"}
		]}}`)
	w = f.do(t, http.MethodPost, "/api/graphs", bad, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRunsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.registerGraph(t, "g1", echoGraph)

	for i := 0; i < 3; i++ {
		w := f.do(t, http.MethodPost, "/api/runs", []byte(`{"graph_id":"g1"}`), nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := f.do(t, http.MethodGet, "/api/runs?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[map[string][]store.Run](t, w)
	assert.Len(t, list["runs"], 2)
}
