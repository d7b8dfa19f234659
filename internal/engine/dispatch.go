package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/weavehq/weave/pkg/schema"
)

// WorkerPayload is the JSON body posted to an async worker's endpoint.
// The worker acknowledges the dispatch, does its work out of band, and
// reports the result to callback_url.
type WorkerPayload struct {
	RunID       string          `json:"run_id"`
	NodeID      string          `json:"node_id"`
	Config      json.RawMessage `json:"config,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	CallbackURL string          `json:"callback_url"`
}

// Dispatcher delivers work to external workers.
type Dispatcher interface {
	Dispatch(ctx context.Context, endpoint string, timeout time.Duration, payload WorkerPayload) error
}

// HTTPDispatcher posts worker payloads over HTTP. A non-2xx response or
// a transport failure is a dispatch error: the caller fails the node.
type HTTPDispatcher struct {
	client *http.Client
}

// NewHTTPDispatcher creates a dispatcher with the given default client
// timeout. Per-node timeouts override it per request.
func NewHTTPDispatcher(defaultTimeout time.Duration) *HTTPDispatcher {
	return &HTTPDispatcher{
		client: &http.Client{Timeout: defaultTimeout},
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, endpoint string, timeout time.Duration, payload WorkerPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeDispatch, "marshal worker payload: %s", err.Error()).
			WithNode(payload.NodeID).WithCause(err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeDispatch, "build dispatch request: %s", err.Error()).
			WithNode(payload.NodeID).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeDispatch, "dispatch to %s failed: %s", endpoint, err.Error()).
			WithNode(payload.NodeID).WithCause(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return schema.NewErrorf(schema.ErrCodeDispatch,
			"worker at %s returned %s", endpoint, resp.Status).
			WithNode(payload.NodeID).
			WithDetails(map[string]any{"status_code": resp.StatusCode})
	}
	return nil
}

// ParseTimeout converts a worker config timeout string to a duration.
// An empty string falls back to def; a malformed or non-positive value
// is rejected.
func ParseTimeout(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "invalid timeout %q: %s", s, err.Error()).WithCause(err)
	}
	if d <= 0 {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "timeout must be positive, got %s", s)
	}
	return d, nil
}

var _ Dispatcher = (*HTTPDispatcher)(nil)
