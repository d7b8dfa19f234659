package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// graphSchemaJSON is the JSON Schema for GraphDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://weavehq.dev/schemas/graph.json",
  "type": "object",
  "required": ["nodes", "edges"],
  "properties": {
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["worker", "ux", "splitter", "collector", "trigger"]
        },
        "config": {}
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["id", "source", "target"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "kind": {
          "type": "string",
          "enum": ["default", "conditional", "system"]
        },
        "condition": { "type": "string" },
        "engine": { "type": "string", "enum": ["expr", "cel"] }
      },
      "additionalProperties": false
    }
  }
}`

var (
	graphSchemaOnce sync.Once
	graphSchema     *jsonschema.Schema
	graphSchemaErr  error
)

func compiledGraphSchema() (*jsonschema.Schema, error) {
	graphSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(graphSchemaJSON))
		if err != nil {
			graphSchemaErr = fmt.Errorf("unmarshal graph schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("graph.json", doc); err != nil {
			graphSchemaErr = fmt.Errorf("add graph schema resource: %w", err)
			return
		}
		graphSchema, graphSchemaErr = c.Compile("graph.json")
	})
	return graphSchema, graphSchemaErr
}

// ValidateGraphJSON validates raw graph-definition JSON against the embedded
// schema. Structural constraints beyond the schema (dangling edges, cycles)
// are checked by the engine's graph compiler.
func ValidateGraphJSON(raw json.RawMessage) error {
	compiled, err := compiledGraphSchema()
	if err != nil {
		return NewErrorf(ErrCodeValidation, "graph schema unavailable: %s", err.Error()).WithCause(err)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return NewErrorf(ErrCodeValidation, "graph definition is not valid JSON: %s", err.Error()).WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return NewErrorf(ErrCodeValidation, "graph definition rejected: %s", err.Error()).WithCause(err)
	}
	return nil
}
