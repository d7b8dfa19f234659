package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/weavehq/weave/internal/engine"
	"github.com/weavehq/weave/internal/store"
	"github.com/weavehq/weave/internal/webhook"
)

// Server exposes the engine over HTTP: webhook ingestion, worker
// callbacks, user completions, and the operator API.
type Server struct {
	engine   *engine.Engine
	pipeline *webhook.Pipeline
	store    store.Store
	logger   *slog.Logger
	http     *http.Server
}

// Options configures a Server.
type Options struct {
	Addr     string
	Engine   *engine.Engine
	Pipeline *webhook.Pipeline
	Store    store.Store
	Logger   *slog.Logger
}

// New creates a Server with all routes registered.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:   opts.Engine,
		pipeline: opts.Pipeline,
		store:    opts.Store,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/{slug}", s.handleWebhook)
	mux.HandleFunc("POST /callback/{runId}/{nodeId}", s.handleCallback)
	mux.HandleFunc("POST /complete/{runId}/{nodeId}", s.handleComplete)

	mux.HandleFunc("POST /api/graphs", s.handleRegisterGraph)
	mux.HandleFunc("POST /api/runs", s.handleStartRun)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("PUT /api/webhooks", s.handleUpsertWebhookConfig)
	mux.HandleFunc("GET /api/webhook-events", s.handleListWebhookEvents)

	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
