package store

import (
	"encoding/json"
	"time"

	"github.com/weavehq/weave/pkg/schema"
)

// GraphRecord is the persisted representation of a workflow graph version.
type GraphRecord struct {
	ID         string                 `json:"id"`
	CanvasID   string                 `json:"canvas_id"`
	Name       string                 `json:"name,omitempty"`
	Definition schema.GraphDefinition `json:"definition"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Run is one execution instance of a workflow graph.
type Run struct {
	ID         string                `json:"id"`
	GraphID    string                `json:"graph_id"`
	CanvasID   string                `json:"canvas_id"`
	EntityID   string                `json:"entity_id,omitempty"`
	Trigger    schema.Trigger        `json:"trigger"`
	Status     schema.RunStatus      `json:"status"`
	NodeStates map[string]*NodeState `json:"node_states"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// NodeState is the current execution state of one node within a run.
// Parallel instances get their own entry keyed by "{baseId}_{i}".
type NodeState struct {
	Status      schema.NodeStatus `json:"status"`
	Input       json.RawMessage   `json:"input,omitempty"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// NodeStatePatch specifies the fields of a NodeState to update atomically.
// ExpectStatus, when set, makes the update conditional: the patch applies
// only while the node is in that status, which is what makes duplicate
// callback deliveries safe.
type NodeStatePatch struct {
	Status       schema.NodeStatus  `json:"status"`
	ExpectStatus *schema.NodeStatus `json:"expect_status,omitempty"`
	Input        json.RawMessage    `json:"input,omitempty"`
	Output       json.RawMessage    `json:"output,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// WebhookConfig is an operator-managed inbound webhook endpoint.
// Read-only to the engine at request time.
type WebhookConfig struct {
	ID               string            `json:"id"`
	CanvasID         string            `json:"canvas_id"`
	Source           string            `json:"source"`        // stripe, typeform, calendly, ...
	EndpointSlug     string            `json:"endpoint_slug"` // unique
	Secret           string            `json:"secret,omitempty"`
	RequireSignature bool              `json:"require_signature"`
	Active           bool              `json:"active"`
	GraphID          string            `json:"graph_id"`
	EntryEdgeID      string            `json:"entry_edge_id"`
	EntityMapping    map[string]string `json:"entity_mapping,omitempty"` // field -> jq path
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// WebhookEventStatus is the lifecycle state of a webhook delivery record.
type WebhookEventStatus string

const (
	WebhookEventPending    WebhookEventStatus = "pending"
	WebhookEventProcessing WebhookEventStatus = "processing"
	WebhookEventCompleted  WebhookEventStatus = "completed"
	WebhookEventFailed     WebhookEventStatus = "failed"
)

// WebhookEvent is the audit record of one inbound webhook delivery.
// Created before signature validation so rejected deliveries are recorded too.
type WebhookEvent struct {
	ID              string             `json:"id"`
	WebhookConfigID string             `json:"webhook_config_id"`
	Payload         json.RawMessage    `json:"payload,omitempty"`
	EntityID        string             `json:"entity_id,omitempty"`
	RunID           string             `json:"run_id,omitempty"`
	Status          WebhookEventStatus `json:"status"`
	Error           string             `json:"error,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Entity is an externally-originated record (customer, lead, invitee)
// tracked across workflow executions. Dedup key is (canvas_id, email)
// when email is present.
type Entity struct {
	ID         string          `json:"id"`
	CanvasID   string          `json:"canvas_id"`
	Name       string          `json:"name"`
	Email      string          `json:"email,omitempty"`
	EntityType string          `json:"entity_type"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Position   string          `json:"position,omitempty"` // "node:{id}" or "edge:{id}"
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Event is an immutable entry in the run audit log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// --- Filter and update types ---

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status   *schema.RunStatus `json:"status,omitempty"`
	CanvasID string            `json:"canvas_id,omitempty"`
	Since    *time.Time        `json:"since,omitempty"`
	Limit    int               `json:"limit,omitempty"`
	Offset   int               `json:"offset,omitempty"`
}

// RunUpdate specifies mutable run-level fields.
type RunUpdate struct {
	Status   *schema.RunStatus `json:"status,omitempty"`
	EntityID *string           `json:"entity_id,omitempty"`
}

// WebhookEventUpdate specifies mutable webhook-event fields.
type WebhookEventUpdate struct {
	Status   *WebhookEventStatus `json:"status,omitempty"`
	EntityID *string             `json:"entity_id,omitempty"`
	RunID    *string             `json:"run_id,omitempty"`
	Error    *string             `json:"error,omitempty"`
}

// WebhookEventFilter specifies criteria for listing webhook events.
type WebhookEventFilter struct {
	WebhookConfigID string              `json:"webhook_config_id,omitempty"`
	Status          *WebhookEventStatus `json:"status,omitempty"`
	Before          *time.Time          `json:"before,omitempty"`
	Limit           int                 `json:"limit,omitempty"`
}

// EventFilter specifies criteria for listing audit events.
type EventFilter struct {
	RunID  string `json:"run_id,omitempty"`
	NodeID string `json:"node_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}
