package webhook

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/weavehq/weave/pkg/schema"
)

// TypeformAdapter verifies Typeform webhook deliveries and extracts the
// respondent identity from form responses.
//
// Typeform signs with "Typeform-Signature: sha256=<base64>" where the
// value is a plain HMAC-SHA256 over the raw body.
type TypeformAdapter struct{}

func (a *TypeformAdapter) Source() string { return "typeform" }

func (a *TypeformAdapter) Verify(header http.Header, body []byte, secret string) error {
	sig := header.Get("Typeform-Signature")
	if sig == "" {
		return schema.NewError(schema.ErrCodeAuthentication, "missing Typeform-Signature header")
	}
	encoded, ok := strings.CutPrefix(sig, "sha256=")
	if !ok {
		return schema.NewError(schema.ErrCodeAuthentication, "malformed signature header")
	}
	got, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return schema.NewError(schema.ErrCodeAuthentication, "malformed signature header")
	}
	if !constantTimeEqual(got, hmacSHA256(secret, body)) {
		return schema.NewError(schema.ErrCodeAuthentication, "typeform signature mismatch")
	}
	return nil
}

func (a *TypeformAdapter) Extract(body []byte) (*EntityData, error) {
	var event struct {
		FormResponse struct {
			Hidden  map[string]string `json:"hidden"`
			Answers []struct {
				Type  string `json:"type"`
				Email string `json:"email"`
				Text  string `json:"text"`
			} `json:"answers"`
		} `json:"form_response"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid typeform payload: %s", err.Error()).WithCause(err)
	}

	data := &EntityData{EntityType: "respondent", Metadata: map[string]any{}}
	for _, answer := range event.FormResponse.Answers {
		switch answer.Type {
		case "email":
			if data.Email == "" {
				data.Email = answer.Email
			}
		case "text":
			if data.Name == "" {
				data.Name = answer.Text
			}
		}
	}
	if data.Email == "" {
		data.Email = event.FormResponse.Hidden["email"]
	}
	if data.Name == "" {
		data.Name = event.FormResponse.Hidden["name"]
	}
	return data, nil
}

var _ Adapter = (*TypeformAdapter)(nil)
