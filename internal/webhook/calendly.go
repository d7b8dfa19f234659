package webhook

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/weavehq/weave/pkg/schema"
)

// CalendlyAdapter verifies Calendly webhook deliveries and extracts the
// invitee identity from event payloads.
//
// Calendly signs with "Calendly-Webhook-Signature: t=<unix>,v1=<base64>"
// where v1 is HMAC-SHA256 over "{t}.{body}".
type CalendlyAdapter struct {
	Now func() time.Time
}

func (a *CalendlyAdapter) Source() string { return "calendly" }

func (a *CalendlyAdapter) Verify(header http.Header, body []byte, secret string) error {
	sig := header.Get("Calendly-Webhook-Signature")
	if sig == "" {
		return schema.NewError(schema.ErrCodeAuthentication, "missing Calendly-Webhook-Signature header")
	}
	timestamp, sigs, err := parseTimestampedHeader(sig)
	if err != nil {
		return err
	}
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}
	if err := checkFreshness(timestamp, now); err != nil {
		return err
	}

	want := hmacSHA256(secret, signedPayload(timestamp, body))
	for _, s := range sigs {
		got, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			continue
		}
		if constantTimeEqual(got, want) {
			return nil
		}
	}
	return schema.NewError(schema.ErrCodeAuthentication, "calendly signature mismatch")
}

func (a *CalendlyAdapter) Extract(body []byte) (*EntityData, error) {
	var event struct {
		Event   string `json:"event"`
		Payload struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid calendly payload: %s", err.Error()).WithCause(err)
	}
	return &EntityData{
		Name:       event.Payload.Name,
		Email:      event.Payload.Email,
		EntityType: "invitee",
		Metadata:   map[string]any{"calendly_event": event.Event},
	}, nil
}

var _ Adapter = (*CalendlyAdapter)(nil)
