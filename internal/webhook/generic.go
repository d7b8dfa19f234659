package webhook

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/weavehq/weave/pkg/schema"
)

// GenericAdapter is the fallback for sources with no dedicated
// integration. It verifies "X-Webhook-Signature: <hex>" as a plain
// HMAC-SHA256 over the raw body and probes common top-level fields
// for identity.
type GenericAdapter struct{}

func (a *GenericAdapter) Source() string { return "generic" }

func (a *GenericAdapter) Verify(header http.Header, body []byte, secret string) error {
	sig := header.Get("X-Webhook-Signature")
	if sig == "" {
		return schema.NewError(schema.ErrCodeAuthentication, "missing X-Webhook-Signature header")
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return schema.NewError(schema.ErrCodeAuthentication, "malformed signature header")
	}
	if !constantTimeEqual(got, hmacSHA256(secret, body)) {
		return schema.NewError(schema.ErrCodeAuthentication, "signature mismatch")
	}
	return nil
}

func (a *GenericAdapter) Extract(body []byte) (*EntityData, error) {
	return extractGeneric(body)
}

func extractGeneric(body []byte) (*EntityData, error) {
	var payload struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Type  string `json:"type"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid JSON payload: %s", err.Error()).WithCause(err)
	}
	entityType := payload.Type
	if entityType == "" {
		entityType = "contact"
	}
	return &EntityData{
		Name:       payload.Name,
		Email:      payload.Email,
		EntityType: entityType,
		Metadata:   map[string]any{},
	}, nil
}

var _ Adapter = (*GenericAdapter)(nil)
