package expressions

import "context"

// Engine evaluates edge conditions and data transforms.
// Two condition engines (Expr, CEL) plus GoJQ for JSON extraction.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
