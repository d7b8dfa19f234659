package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/weavehq/weave/internal/engine"
	"github.com/weavehq/weave/internal/logging"
	"github.com/weavehq/weave/internal/scheduler"
	"github.com/weavehq/weave/internal/server"
	"github.com/weavehq/weave/internal/store"
	"github.com/weavehq/weave/internal/webhook"
	"github.com/weavehq/weave/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "weave:", err)
		os.Exit(1)
	}
}

func run() error {
	mode := "serve"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}
	if mode == "version" {
		fmt.Println(Version())
		return nil
	}

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	eng, err := engine.New(engine.Options{
		Store:           st,
		Logger:          logger,
		CallbackBase:    cfg.CallbackBase,
		DispatchTimeout: cfg.DispatchTimeout,
	})
	if err != nil {
		return err
	}

	switch mode {
	case "serve":
		return serve(ctx, cfg, logger, st, eng)
	case "mcp":
		logger.Info("mcp server starting", "version", Version())
		return mcp.NewWeaveServer(eng, logger).Serve(ctx)
	default:
		return fmt.Errorf("unknown mode %q (want serve, mcp, or version)", mode)
	}
}

func serve(ctx context.Context, cfg Config, logger *slog.Logger, st store.Store, eng *engine.Engine) error {
	pipeline := webhook.NewPipeline(webhook.PipelineOptions{
		Store:             st,
		Engine:            eng,
		Logger:            logger,
		RequireSignatures: cfg.RequireSignatures,
	})

	sched, err := scheduler.New(scheduler.Options{
		Store:     st,
		Logger:    logger,
		Retention: cfg.Retention,
		StaleAge:  cfg.StaleAge,
	})
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Options{
		Addr:     cfg.Addr,
		Engine:   eng,
		Pipeline: pipeline,
		Store:    st,
		Logger:   logger,
	})

	logger.Info("weave starting", "version", Version(), "addr", cfg.Addr,
		"require_signatures", cfg.RequireSignatures)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(cfg Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var inner slog.Handler
	if cfg.LogFormat == "text" {
		inner = slog.NewTextHandler(os.Stderr, opts)
	} else {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(logging.NewCorrelationHandler(inner))
}
