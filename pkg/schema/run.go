package schema

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusActive    RunStatus = "active"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// NodeStatus is the execution state of one node within a run.
type NodeStatus string

const (
	NodeStatusPending        NodeStatus = "pending"
	NodeStatusRunning        NodeStatus = "running"
	NodeStatusCompleted      NodeStatus = "completed"
	NodeStatusFailed         NodeStatus = "failed"
	NodeStatusWaitingForUser NodeStatus = "waiting_for_user"
)

// IsTerminal reports whether s is a terminal node status.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed
}

// TriggerType identifies how a run was started.
type TriggerType string

const (
	TriggerTypeManual  TriggerType = "manual"
	TriggerTypeWebhook TriggerType = "webhook"
)

// Trigger records how and why a run was created.
type Trigger struct {
	Type    TriggerType `json:"type"`
	Source  string      `json:"source,omitempty"`   // webhook provider (stripe, typeform, ...)
	EventID string      `json:"event_id,omitempty"` // webhook event audit record
}

// CallbackStatus is the status reported by an external worker callback.
type CallbackStatus string

const (
	CallbackCompleted CallbackStatus = "completed"
	CallbackFailed    CallbackStatus = "failed"
)

// Valid reports whether s is one of the two accepted callback statuses.
func (s CallbackStatus) Valid() bool {
	return s == CallbackCompleted || s == CallbackFailed
}
