package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/weavehq/weave/internal/store"
	"github.com/weavehq/weave/pkg/schema"
)

// Scheduler runs background maintenance: webhook event retention,
// database vacuuming, and stale-run detection.
type Scheduler struct {
	cron   *cron.Cron
	store  store.Store
	logger *slog.Logger

	retention time.Duration
	staleAge  time.Duration
}

// Options configures a Scheduler.
type Options struct {
	Store  store.Store
	Logger *slog.Logger
	// Retention is how long webhook event records are kept.
	Retention time.Duration
	// StaleAge is how long a run may stay active before it is flagged.
	StaleAge time.Duration
}

// New creates a Scheduler with the standard maintenance jobs registered.
func New(opts Options) (*Scheduler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	staleAge := opts.StaleAge
	if staleAge <= 0 {
		staleAge = 24 * time.Hour
	}

	s := &Scheduler{
		cron:      cron.New(),
		store:     opts.Store,
		logger:    logger,
		retention: retention,
		staleAge:  staleAge,
	}

	if _, err := s.cron.AddFunc("@hourly", s.sweepWebhookEvents); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc("@hourly", s.flagStaleRuns); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc("@weekly", s.vacuum); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins running maintenance jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("maintenance scheduler started",
		"retention", s.retention.String(), "stale_age", s.staleAge.String())
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// sweepWebhookEvents deletes webhook event records older than the
// retention window.
func (s *Scheduler) sweepWebhookEvents() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.retention)
	n, err := s.store.DeleteWebhookEventsBefore(ctx, store.WebhookEventFilter{Before: &cutoff})
	if err != nil {
		s.logger.Error("webhook event sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("webhook events swept", "deleted", n, "cutoff", cutoff)
	}
}

// flagStaleRuns logs runs that have been active longer than staleAge.
// The engine never times runs out on its own; operators decide.
func (s *Scheduler) flagStaleRuns() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	active := schema.RunStatusActive
	runs, err := s.store.ListRuns(ctx, store.RunFilter{Status: &active})
	if err != nil {
		s.logger.Error("stale run scan failed", "error", err)
		return
	}
	cutoff := time.Now().UTC().Add(-s.staleAge)
	for _, run := range runs {
		if run.UpdatedAt.Before(cutoff) {
			s.logger.Warn("run stale", "run_id", run.ID, "graph_id", run.GraphID,
				"updated_at", run.UpdatedAt)
		}
	}
}

func (s *Scheduler) vacuum() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := s.store.Vacuum(ctx); err != nil {
		s.logger.Error("vacuum failed", "error", err)
		return
	}
	s.logger.Info("database vacuumed")
}
