package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavehq/weave/pkg/schema"
)

func TestConditionsDefaultEngine(t *testing.T) {
	c, err := NewConditions()
	require.NoError(t, err)

	ok, err := c.EvaluateBool(context.Background(), "", "output.n > 1", map[string]any{
		"output": map[string]any{"n": 2},
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConditionsCELEngine(t *testing.T) {
	c, err := NewConditions()
	require.NoError(t, err)

	ok, err := c.EvaluateBool(context.Background(), "cel", `output.kind == "x"`, map[string]any{
		"output": map[string]any{"kind": "x"},
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConditionsNilIsFalse(t *testing.T) {
	c, err := NewConditions()
	require.NoError(t, err)

	ok, err := c.EvaluateBool(context.Background(), "expr", "output.missing", map[string]any{
		"output": map[string]any{},
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConditionsNonBoolRejected(t *testing.T) {
	c, err := NewConditions()
	require.NoError(t, err)

	_, err = c.EvaluateBool(context.Background(), "expr", `"a string"`, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestConditionsUnknownEngine(t *testing.T) {
	c, err := NewConditions()
	require.NoError(t, err)

	_, err = c.EvaluateBool(context.Background(), "lua", "true", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}
