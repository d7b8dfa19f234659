package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateGraphJSONAccepts(t *testing.T) {
	valid := []string{
		`{
			"nodes": [{"id": "t", "type": "trigger"}],
			"edges": []
		}`,
		`{
			"nodes": [
				{"id": "t", "type": "trigger"},
				{"id": "w", "type": "worker", "config": {"endpoint": "http://w/do", "timeout": "10s"}}
			],
			"edges": [
				{"id": "e1", "source": "t", "target": "w", "kind": "conditional", "condition": "output.ok", "engine": "expr"}
			]
		}`,
		`{
			"nodes": [{"id": "t", "type": "trigger"}],
			"edges": [],
			"metadata": {"name": "demo"}
		}`,
	}
	for _, raw := range valid {
		assert.NoError(t, ValidateGraphJSON(json.RawMessage(raw)), raw)
	}
}

func TestValidateGraphJSONRejects(t *testing.T) {
	cases := map[string]string{
		"not JSON":        `{nodes}`,
		"missing edges":   `{"nodes": [{"id": "t", "type": "trigger"}]}`,
		"empty nodes":     `{"nodes": [], "edges": []}`,
		"unknown type":    `{"nodes": [{"id": "t", "type": "cron"}], "edges": []}`,
		"missing node id": `{"nodes": [{"type": "trigger"}], "edges": []}`,
		"unknown engine": `{
			"nodes": [{"id": "a", "type": "trigger"}, {"id": "b", "type": "ux"}],
			"edges": [{"id": "e", "source": "a", "target": "b", "engine": "lua"}]
		}`,
		"extra node field": `{"nodes": [{"id": "t", "type": "trigger", "color": "red"}], "edges": []}`,
		"edge without target": `{
			"nodes": [{"id": "t", "type": "trigger"}],
			"edges": [{"id": "e", "source": "t"}]
		}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateGraphJSON(json.RawMessage(raw))
			require.Error(t, err)
			assert.Equal(t, ErrCodeValidation, CodeOf(err))
		})
	}
}
