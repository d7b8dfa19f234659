package webhook

import (
	"net/http"

	"github.com/weavehq/weave/pkg/schema"
)

// TokenAdapter accepts deliveries that carry the shared secret verbatim
// in the x-webhook-secret header. The weakest scheme: no payload
// binding, no replay protection. Intended for internal senders only.
type TokenAdapter struct{}

func (a *TokenAdapter) Source() string { return "token" }

func (a *TokenAdapter) Verify(header http.Header, body []byte, secret string) error {
	got := header.Get("x-webhook-secret")
	if got == "" {
		return schema.NewError(schema.ErrCodeAuthentication, "missing x-webhook-secret header")
	}
	if !constantTimeEqual([]byte(got), []byte(secret)) {
		return schema.NewError(schema.ErrCodeAuthentication, "webhook secret mismatch")
	}
	return nil
}

func (a *TokenAdapter) Extract(body []byte) (*EntityData, error) {
	return extractGeneric(body)
}

var _ Adapter = (*TokenAdapter)(nil)
