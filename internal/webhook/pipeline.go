package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/weavehq/weave/internal/engine"
	"github.com/weavehq/weave/internal/expressions"
	"github.com/weavehq/weave/internal/logging"
	"github.com/weavehq/weave/internal/store"
	"github.com/weavehq/weave/pkg/schema"
)

// RunStarter starts workflow runs. Satisfied by *engine.Engine.
type RunStarter interface {
	StartRun(ctx context.Context, opts engine.StartOptions) (*store.Run, error)
}

// Pipeline processes inbound webhook deliveries: audit, verify,
// extract, upsert, place, and fire. Each delivery is recorded before
// any validation so rejected deliveries leave a trail too.
type Pipeline struct {
	store    store.Store
	engine   RunStarter
	registry *Registry
	jq       *expressions.GoJQEngine
	logger   *slog.Logger

	// requireSignatures forces signature verification for every
	// endpoint regardless of per-config settings (hardened profile).
	requireSignatures bool
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	Store             store.Store
	Engine            RunStarter
	Registry          *Registry
	Logger            *slog.Logger
	RequireSignatures bool
}

// NewPipeline creates a webhook ingestion pipeline.
func NewPipeline(opts PipelineOptions) *Pipeline {
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:             opts.Store,
		engine:            opts.Engine,
		registry:          registry,
		jq:                expressions.NewGoJQEngine(),
		logger:            logger,
		requireSignatures: opts.RequireSignatures,
	}
}

// Result reports what a successfully ingested delivery produced.
type Result struct {
	EventID  string `json:"event_id"`
	EntityID string `json:"entity_id,omitempty"`
	RunID    string `json:"run_id,omitempty"`
}

// Ingest processes one delivery to the endpoint identified by slug.
// The returned error's code determines the HTTP status the caller maps
// it to; the delivery's audit record always reflects the outcome.
func (p *Pipeline) Ingest(ctx context.Context, slug string, header http.Header, body []byte) (*Result, error) {
	// Config lookup. Unknown slugs produce no audit record: there is
	// no config to attribute the delivery to.
	cfg, err := p.store.GetWebhookConfigBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	// Audit record before any validation.
	event := &store.WebhookEvent{
		ID:              uuid.NewString(),
		WebhookConfigID: cfg.ID,
		Payload:         json.RawMessage(body),
		Status:          store.WebhookEventPending,
	}
	if err := p.store.CreateWebhookEvent(ctx, event); err != nil {
		return nil, err
	}
	ctx = logging.WithEventID(ctx, event.ID)
	log := logging.LogWith(ctx, p.logger).With("source", cfg.Source, "slug", slug)
	log.Info("webhook received")

	result, err := p.process(ctx, cfg, event, header, body)
	if err != nil {
		p.markFailed(ctx, event.ID, err)
		log.Warn("webhook rejected", "error", err)
		return nil, err
	}
	log.Info("webhook processed", "run_id", result.RunID, "entity_id", result.EntityID)
	return result, nil
}

func (p *Pipeline) process(ctx context.Context, cfg *store.WebhookConfig, event *store.WebhookEvent, header http.Header, body []byte) (*Result, error) {
	// Active check.
	if !cfg.Active {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "webhook endpoint %q is disabled", cfg.EndpointSlug)
	}

	// Signature verification.
	adapter := p.registry.For(cfg.Source)
	mustVerify := cfg.RequireSignature || p.requireSignatures
	switch {
	case cfg.Secret != "":
		if err := adapter.Verify(header, body, cfg.Secret); err != nil {
			return nil, err
		}
	case mustVerify:
		return nil, schema.NewError(schema.ErrCodeAuthentication,
			"signature required but endpoint has no secret configured")
	}

	// Entity extraction plus declarative mapping supplement.
	data, err := adapter.Extract(body)
	if err != nil {
		return nil, err
	}
	if err := applyMapping(ctx, p.jq, cfg.EntityMapping, body, data); err != nil {
		return nil, err
	}

	// Idempotent entity upsert keyed on (canvas, email).
	entity, err := p.upsertEntity(ctx, cfg, data)
	if err != nil {
		return nil, err
	}

	result := &Result{EventID: event.ID}
	update := store.WebhookEventUpdate{}
	if entity != nil {
		result.EntityID = entity.ID
		update.EntityID = &entity.ID

		// Best-effort visual placement at the workflow's entry.
		p.placeEntity(ctx, cfg, entity)
	}

	// Run creation and initial fire.
	startOpts := engine.StartOptions{
		GraphID:     cfg.GraphID,
		EntryEdgeID: cfg.EntryEdgeID,
		Payload:     json.RawMessage(body),
		Trigger: schema.Trigger{
			Type:    schema.TriggerTypeWebhook,
			Source:  cfg.Source,
			EventID: event.ID,
		},
	}
	if entity != nil {
		startOpts.EntityID = entity.ID
	}
	run, err := p.engine.StartRun(ctx, startOpts)
	if err != nil {
		return nil, err
	}
	result.RunID = run.ID
	update.RunID = &run.ID

	// Event completion.
	completed := store.WebhookEventCompleted
	update.Status = &completed
	if err := p.store.UpdateWebhookEvent(ctx, event.ID, update); err != nil {
		return nil, err
	}
	return result, nil
}

// upsertEntity creates or refreshes the entity an extraction produced.
// No email and no name means nothing identifiable arrived; that is not
// an error, the delivery simply has no entity.
func (p *Pipeline) upsertEntity(ctx context.Context, cfg *store.WebhookConfig, data *EntityData) (*store.Entity, error) {
	if data.Email == "" && data.Name == "" {
		return nil, nil
	}

	metadata, err := json.Marshal(data.Metadata)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "marshal entity metadata: %s", err.Error()).WithCause(err)
	}

	entity := &store.Entity{
		CanvasID:   cfg.CanvasID,
		Name:       data.Name,
		Email:      data.Email,
		EntityType: data.EntityType,
		Metadata:   metadata,
	}

	if data.Email != "" {
		if existing, err := p.store.FindEntityByEmail(ctx, cfg.CanvasID, data.Email); err == nil {
			entity.ID = existing.ID
			if entity.Name == "" {
				entity.Name = existing.Name
			}
		}
	}
	if entity.ID == "" {
		entity.ID = uuid.NewString()
	}
	if entity.Name == "" {
		entity.Name = data.Email
	}

	if err := p.store.UpsertEntity(ctx, entity); err != nil {
		return nil, err
	}
	p.appendAudit(ctx, schema.EventEntityUpserted, entity.ID)
	return entity, nil
}

// placeEntity pins the entity at the workflow's entry edge for the
// canvas view. Placement is cosmetic: failures are logged, never fatal.
func (p *Pipeline) placeEntity(ctx context.Context, cfg *store.WebhookConfig, entity *store.Entity) {
	position := "edge:" + cfg.EntryEdgeID
	if err := p.store.PlaceEntity(ctx, entity.ID, position); err != nil {
		logging.LogWith(ctx, p.logger).Warn("entity placement failed", "entity_id", entity.ID, "error", err)
		return
	}
	p.appendAudit(ctx, schema.EventEntityPlaced, entity.ID)
}

func (p *Pipeline) markFailed(ctx context.Context, eventID string, cause error) {
	failed := store.WebhookEventFailed
	msg := cause.Error()
	err := p.store.UpdateWebhookEvent(ctx, eventID, store.WebhookEventUpdate{
		Status: &failed,
		Error:  &msg,
	})
	if err != nil {
		logging.LogWith(ctx, p.logger).Error("mark webhook event failed", "error", err)
	}
}

func (p *Pipeline) appendAudit(ctx context.Context, eventType, entityID string) {
	// Entity lifecycle is visible through the webhook event record and
	// logs; run-scoped audit events are appended by the engine once the
	// run exists.
	logging.LogWith(ctx, p.logger).Info(eventType, "entity_id", entityID)
}
