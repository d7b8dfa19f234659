package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weavehq/weave/internal/expressions"
	"github.com/weavehq/weave/pkg/schema"
)

// applyMapping supplements adapter-extracted identity with a config's
// declarative field mapping. Each mapping value is a jq path evaluated
// against the raw payload; the keys "name", "email", and "entity_type"
// fill the corresponding identity fields (only when the adapter left
// them empty), everything else lands in metadata.
func applyMapping(ctx context.Context, jq *expressions.GoJQEngine, mapping map[string]string, body []byte, data *EntityData) error {
	if len(mapping) == 0 {
		return nil
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid JSON payload: %s", err.Error()).WithCause(err)
	}
	if data.Metadata == nil {
		data.Metadata = map[string]any{}
	}

	for field, path := range mapping {
		results, err := jq.EvaluateAll(ctx, path, payload)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"mapping for %q failed: %s", field, err.Error()).WithCause(err)
		}
		if len(results) == 0 || results[0] == nil {
			continue
		}
		value := results[0]

		switch field {
		case "name":
			if data.Name == "" {
				data.Name = stringValue(value)
			}
		case "email":
			if data.Email == "" {
				data.Email = stringValue(value)
			}
		case "entity_type":
			if s := stringValue(value); s != "" {
				data.EntityType = s
			}
		default:
			data.Metadata[field] = value
		}
	}
	return nil
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
