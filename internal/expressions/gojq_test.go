package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavehq/weave/pkg/schema"
)

func TestGoJQEvaluate(t *testing.T) {
	e := NewGoJQEngine()
	ctx := context.Background()

	got, err := e.Evaluate(ctx, ".customer.email", map[string]any{
		"customer": map[string]any{"email": "a@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got)
}

func TestGoJQEvaluateAllWithArrayInput(t *testing.T) {
	e := NewGoJQEngine()

	results, err := e.EvaluateAll(context.Background(), ".[].id", []any{
		map[string]any{"id": 1.0},
		map[string]any{"id": 2.0},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, results)
}

func TestGoJQSelectsArray(t *testing.T) {
	e := NewGoJQEngine()

	results, err := e.EvaluateAll(context.Background(), ".items", map[string]any{
		"items": []any{"a", "b"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []any{"a", "b"}, results[0])
}

func TestGoJQMissingPathYieldsNil(t *testing.T) {
	e := NewGoJQEngine()

	got, err := e.Evaluate(context.Background(), ".nope", map[string]any{"a": 1.0})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGoJQParseError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), ".[unclosed", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestGoJQEnvBlocked(t *testing.T) {
	e := NewGoJQEngine()

	t.Setenv("SECRET_TOKEN", "leaky")
	got, err := e.Evaluate(context.Background(), `env.SECRET_TOKEN`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, got)
}
