package webhook

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavehq/weave/pkg/schema"
)

const testSecret = "whsec_test"

func stripeHeader(t *testing.T, body []byte, ts time.Time, secret string) http.Header {
	t.Helper()
	unix := strconv.FormatInt(ts.Unix(), 10)
	sig := hex.EncodeToString(hmacSHA256(secret, signedPayload(unix, body)))
	h := http.Header{}
	h.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", unix, sig))
	return h
}

func TestStripeVerify(t *testing.T) {
	now := time.Now()
	a := &StripeAdapter{Now: func() time.Time { return now }}
	body := []byte(`{"type":"checkout.session.completed"}`)

	require.NoError(t, a.Verify(stripeHeader(t, body, now, testSecret), body, testSecret))

	t.Run("wrong secret", func(t *testing.T) {
		err := a.Verify(stripeHeader(t, body, now, "other"), body, testSecret)
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeAuthentication, schema.CodeOf(err))
	})

	t.Run("tampered body", func(t *testing.T) {
		err := a.Verify(stripeHeader(t, body, now, testSecret), []byte(`{}`), testSecret)
		require.Error(t, err)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		err := a.Verify(stripeHeader(t, body, now.Add(-10*time.Minute), testSecret), body, testSecret)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tolerance")
	})

	t.Run("missing header", func(t *testing.T) {
		err := a.Verify(http.Header{}, body, testSecret)
		require.Error(t, err)
	})

	t.Run("rotated secret accepts any valid v1", func(t *testing.T) {
		unix := strconv.FormatInt(now.Unix(), 10)
		stale := hex.EncodeToString(hmacSHA256("old-secret", signedPayload(unix, body)))
		good := hex.EncodeToString(hmacSHA256(testSecret, signedPayload(unix, body)))
		h := http.Header{}
		h.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s,v1=%s", unix, stale, good))
		require.NoError(t, a.Verify(h, body, testSecret))
	})
}

func TestStripeExtract(t *testing.T) {
	a := &StripeAdapter{}
	data, err := a.Extract([]byte(`{
		"type": "checkout.session.completed",
		"data": {"object": {"customer_details": {"email": "buyer@example.com", "name": "Buyer"}}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", data.Email)
	assert.Equal(t, "Buyer", data.Name)
	assert.Equal(t, "customer", data.EntityType)
	assert.Equal(t, "checkout.session.completed", data.Metadata["stripe_event_type"])

	t.Run("top-level identity without event envelope", func(t *testing.T) {
		data, err := a.Extract([]byte(`{"customer_details": {"email": "a@b.com", "name": "A"}}`))
		require.NoError(t, err)
		assert.Equal(t, "a@b.com", data.Email)
		assert.Equal(t, "A", data.Name)
		assert.Equal(t, "customer", data.EntityType)
	})

	t.Run("billing details fallback", func(t *testing.T) {
		data, err := a.Extract([]byte(`{
			"type": "charge.succeeded",
			"data": {"object": {"billing_details": {"email": "payer@example.com", "name": "Payer"}}}
		}`))
		require.NoError(t, err)
		assert.Equal(t, "payer@example.com", data.Email)
		assert.Equal(t, "Payer", data.Name)
	})
}

func TestTypeformVerify(t *testing.T) {
	a := &TypeformAdapter{}
	body := []byte(`{"form_response":{}}`)

	sig := base64.StdEncoding.EncodeToString(hmacSHA256(testSecret, body))
	h := http.Header{}
	h.Set("Typeform-Signature", "sha256="+sig)
	require.NoError(t, a.Verify(h, body, testSecret))

	h.Set("Typeform-Signature", "sha256="+base64.StdEncoding.EncodeToString(hmacSHA256("wrong", body)))
	require.Error(t, a.Verify(h, body, testSecret))

	h.Set("Typeform-Signature", "md5=abc")
	require.Error(t, a.Verify(h, body, testSecret))
}

func TestTypeformExtract(t *testing.T) {
	a := &TypeformAdapter{}
	data, err := a.Extract([]byte(`{
		"form_response": {
			"answers": [
				{"type": "text", "text": "Grace Hopper"},
				{"type": "email", "email": "grace@example.com"}
			]
		}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", data.Email)
	assert.Equal(t, "Grace Hopper", data.Name)
	assert.Equal(t, "respondent", data.EntityType)
}

func TestTypeformExtractHiddenFields(t *testing.T) {
	a := &TypeformAdapter{}
	data, err := a.Extract([]byte(`{
		"form_response": {"hidden": {"email": "h@example.com", "name": "Hidden"}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "h@example.com", data.Email)
	assert.Equal(t, "Hidden", data.Name)
}

func TestCalendlyVerify(t *testing.T) {
	now := time.Now()
	a := &CalendlyAdapter{Now: func() time.Time { return now }}
	body := []byte(`{"event":"invitee.created"}`)

	unix := strconv.FormatInt(now.Unix(), 10)
	sig := base64.StdEncoding.EncodeToString(hmacSHA256(testSecret, signedPayload(unix, body)))
	h := http.Header{}
	h.Set("Calendly-Webhook-Signature", fmt.Sprintf("t=%s,v1=%s", unix, sig))
	require.NoError(t, a.Verify(h, body, testSecret))

	h.Set("Calendly-Webhook-Signature", fmt.Sprintf("t=%s,v1=%s", unix, "bm90LXZhbGlk"))
	require.Error(t, a.Verify(h, body, testSecret))
}

func TestCalendlyExtract(t *testing.T) {
	a := &CalendlyAdapter{}
	data, err := a.Extract([]byte(`{
		"event": "invitee.created",
		"payload": {"email": "inv@example.com", "name": "Invitee"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "inv@example.com", data.Email)
	assert.Equal(t, "invitee", data.EntityType)
}

func TestTokenVerify(t *testing.T) {
	a := &TokenAdapter{}
	h := http.Header{}
	h.Set("x-webhook-secret", testSecret)
	require.NoError(t, a.Verify(h, nil, testSecret))

	h.Set("x-webhook-secret", "wrong")
	require.Error(t, a.Verify(h, nil, testSecret))

	require.Error(t, a.Verify(http.Header{}, nil, testSecret))
}

func TestGenericVerifyAndExtract(t *testing.T) {
	a := &GenericAdapter{}
	body := []byte(`{"name":"Lin","email":"lin@example.com"}`)

	h := http.Header{}
	h.Set("X-Webhook-Signature", hex.EncodeToString(hmacSHA256(testSecret, body)))
	require.NoError(t, a.Verify(h, body, testSecret))

	data, err := a.Extract(body)
	require.NoError(t, err)
	assert.Equal(t, "Lin", data.Name)
	assert.Equal(t, "lin@example.com", data.Email)
	assert.Equal(t, "contact", data.EntityType)
}

func TestRegistryFallsBackToGeneric(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, "stripe", r.For("stripe").Source())
	assert.Equal(t, "generic", r.For("homegrown-crm").Source())
}

func TestConstantTimeEqualLengthMismatch(t *testing.T) {
	assert.False(t, constantTimeEqual([]byte("short"), []byte("a-longer-value")))
	assert.True(t, constantTimeEqual([]byte("same"), []byte("same")))
}
