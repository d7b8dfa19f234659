package schema

// Event type constants for the run audit log.
const (
	EventRunCreated   = "run_created"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"

	EventNodeFired          = "node_fired"
	EventNodeRunning        = "node_running"
	EventNodeCompleted      = "node_completed"
	EventNodeFailed         = "node_failed"
	EventNodeWaitingForUser = "node_waiting_for_user"

	EventCallbackReceived  = "callback_received"
	EventCallbackDuplicate = "callback_duplicate"
	EventUserCompleted     = "user_completed"

	EventInstancesCreated = "instances_created"
	EventDispatchFailed   = "dispatch_failed"

	EventWebhookReceived  = "webhook_received"
	EventWebhookVerified  = "webhook_verified"
	EventWebhookRejected  = "webhook_rejected"
	EventEntityUpserted   = "entity_upserted"
	EventEntityPlaced     = "entity_placed"
)
