package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use and provide
// read-after-write consistency: UpdateNodeState returns the full
// post-update run so readiness decisions never act on stale state.
type Store interface {
	// Graphs
	CreateGraph(ctx context.Context, g *GraphRecord) error
	GetGraph(ctx context.Context, id string) (*GraphRecord, error)

	// Runs
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// UpdateNodeState atomically applies patch to one node's state.
	// When patch.ExpectStatus is set the update is conditional; applied
	// reports whether the patch took effect. The returned Run is always
	// the fresh post-operation state.
	UpdateNodeState(ctx context.Context, runID, nodeID string, patch NodeStatePatch) (run *Run, applied bool, err error)

	// InitNodeState inserts a node-state row if one does not already
	// exist. Used when a splitter materializes parallel instances.
	InitNodeState(ctx context.Context, runID, nodeID string, ns *NodeState) error

	// Audit log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)

	// Webhook configs (operator-managed, engine reads by slug)
	UpsertWebhookConfig(ctx context.Context, cfg *WebhookConfig) error
	GetWebhookConfigBySlug(ctx context.Context, slug string) (*WebhookConfig, error)

	// Webhook events (delivery audit trail)
	CreateWebhookEvent(ctx context.Context, ev *WebhookEvent) error
	GetWebhookEvent(ctx context.Context, id string) (*WebhookEvent, error)
	UpdateWebhookEvent(ctx context.Context, id string, update WebhookEventUpdate) error
	ListWebhookEvents(ctx context.Context, filter WebhookEventFilter) ([]*WebhookEvent, error)
	DeleteWebhookEventsBefore(ctx context.Context, filter WebhookEventFilter) (int64, error)

	// Entities
	UpsertEntity(ctx context.Context, e *Entity) error
	GetEntity(ctx context.Context, id string) (*Entity, error)
	FindEntityByEmail(ctx context.Context, canvasID, email string) (*Entity, error)
	PlaceEntity(ctx context.Context, entityID, position string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
