package webhook

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/weavehq/weave/pkg/schema"
)

// StripeAdapter verifies Stripe webhook deliveries and extracts the
// customer identity from event payloads.
//
// Stripe signs with "Stripe-Signature: t=<unix>,v1=<hex>" where v1 is
// HMAC-SHA256 over "{t}.{body}". Multiple v1 values may appear during
// secret rotation; any valid one accepts the delivery.
type StripeAdapter struct {
	// Now is overridable for tests; nil means time.Now.
	Now func() time.Time
}

func (a *StripeAdapter) Source() string { return "stripe" }

func (a *StripeAdapter) Verify(header http.Header, body []byte, secret string) error {
	sig := header.Get("Stripe-Signature")
	if sig == "" {
		return schema.NewError(schema.ErrCodeAuthentication, "missing Stripe-Signature header")
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
		got, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		if constantTimeEqual(got, want) {
			return nil
		}
	}
	return schema.NewError(schema.ErrCodeAuthentication, "stripe signature mismatch")
}

// stripeIdentity holds the customer identity fields Stripe objects
// carry. Checkout sessions use customer_details, charges use
// billing_details, invoices carry a bare customer_email.
type stripeIdentity struct {
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
	BillingDetails struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"billing_details"`
}

func (id stripeIdentity) pick() (email, name string) {
	switch {
	case id.CustomerDetails.Email != "":
		return id.CustomerDetails.Email, id.CustomerDetails.Name
	case id.BillingDetails.Email != "":
		return id.BillingDetails.Email, id.BillingDetails.Name
	default:
		return id.CustomerEmail, ""
	}
}

func (a *StripeAdapter) Extract(body []byte) (*EntityData, error) {
	var event struct {
		Type string `json:"type"`
		Data struct {
			Object stripeIdentity `json:"object"`
		} `json:"data"`
		stripeIdentity
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid stripe payload: %s", err.Error()).WithCause(err)
	}

	data := &EntityData{
		EntityType: "customer",
		Metadata:   map[string]any{"stripe_event_type": event.Type},
	}
	data.Email, data.Name = event.Data.Object.pick()
	if data.Email == "" {
		// Not a full event envelope; the identity sits at the top level.
		data.Email, data.Name = event.stripeIdentity.pick()
	}
	return data, nil
}

var _ Adapter = (*StripeAdapter)(nil)
