package expressions

import (
	"context"

	"github.com/weavehq/weave/pkg/schema"
)

// Conditions routes edge-condition evaluation to the engine the edge
// declares. Expr is the default; edges may opt into CEL per edge.
type Conditions struct {
	engines map[string]Engine
}

// NewConditions builds the condition router with both engines registered.
func NewConditions() (*Conditions, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Conditions{
		engines: map[string]Engine{
			"expr": NewExprEngine(),
			"cel":  celEngine,
		},
	}, nil
}

// EvaluateBool evaluates expression with the named engine and coerces the
// result to a boolean. A nil result is false. Any other non-bool result is
// a validation error: conditions must be predicates, not transforms.
func (c *Conditions) EvaluateBool(ctx context.Context, engine, expression string, data map[string]any) (bool, error) {
	if engine == "" {
		engine = "expr"
	}
	eng, ok := c.engines[engine]
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown condition engine %q", engine)
	}

	out, err := eng.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}

	switch v := out.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q evaluated to %T, want bool", expression, out)
	}
}
