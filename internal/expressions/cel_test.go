package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavehq/weave/pkg/schema"
)

func TestCELEvaluate(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name string
		expr string
		data map[string]any
		want any
	}{
		{
			name: "output field comparison",
			expr: `output.plan == "pro"`,
			data: map[string]any{"output": map[string]any{"plan": "pro"}},
			want: true,
		},
		{
			name: "run metadata",
			expr: `run.source == "stripe"`,
			data: map[string]any{"run": map[string]any{"source": "stripe"}},
			want: true,
		},
		{
			name: "missing keys default to empty maps",
			expr: `"plan" in output`,
			data: map[string]any{},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(ctx, tt.expr, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCELCompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "output ==", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestCELUnknownVariableRejected(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	// Only the four scope variables are declared.
	_, err = e.Evaluate(context.Background(), "secrets.key", nil)
	require.Error(t, err)
}
