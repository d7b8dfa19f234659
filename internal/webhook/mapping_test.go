package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavehq/weave/internal/expressions"
)

func TestApplyMappingSupplements(t *testing.T) {
	jq := expressions.NewGoJQEngine()
	data := &EntityData{EntityType: "customer"}

	err := applyMapping(context.Background(), jq, map[string]string{
		"name":  ".customer.full_name",
		"email": ".customer.contact.email",
		"plan":  ".subscription.plan",
	}, []byte(`{
		"customer": {"full_name": "Ada Lovelace", "contact": {"email": "ada@example.com"}},
		"subscription": {"plan": "pro"}
	}`), data)
	require.NoError(t, err)

	assert.Equal(t, "Ada Lovelace", data.Name)
	assert.Equal(t, "ada@example.com", data.Email)
	assert.Equal(t, "pro", data.Metadata["plan"])
}

func TestApplyMappingDoesNotOverrideAdapterFields(t *testing.T) {
	jq := expressions.NewGoJQEngine()
	data := &EntityData{Name: "From Adapter", Email: "adapter@example.com"}

	err := applyMapping(context.Background(), jq, map[string]string{
		"name":  ".other_name",
		"email": ".other_email",
	}, []byte(`{"other_name":"Mapped","other_email":"mapped@example.com"}`), data)
	require.NoError(t, err)

	assert.Equal(t, "From Adapter", data.Name)
	assert.Equal(t, "adapter@example.com", data.Email)
}

func TestApplyMappingMissingPathSkipped(t *testing.T) {
	jq := expressions.NewGoJQEngine()
	data := &EntityData{}

	err := applyMapping(context.Background(), jq, map[string]string{
		"email": ".nope.email",
	}, []byte(`{"a":1}`), data)
	require.NoError(t, err)
	assert.Empty(t, data.Email)
}

func TestApplyMappingEntityTypeOverrides(t *testing.T) {
	jq := expressions.NewGoJQEngine()
	data := &EntityData{EntityType: "contact"}

	err := applyMapping(context.Background(), jq, map[string]string{
		"entity_type": ".kind",
	}, []byte(`{"kind":"lead"}`), data)
	require.NoError(t, err)
	assert.Equal(t, "lead", data.EntityType)
}

func TestApplyMappingBadExpression(t *testing.T) {
	jq := expressions.NewGoJQEngine()
	err := applyMapping(context.Background(), jq, map[string]string{
		"email": ".[unclosed",
	}, []byte(`{}`), &EntityData{})
	require.Error(t, err)
}
