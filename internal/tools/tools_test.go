package tools_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simage-ai/convoengine/internal/tools"
)

func specOf(name tools.Ident, schema string, requires ...tools.Capability) *tools.Spec {
	return &tools.Spec{
		Name:        name,
		Description: string(name) + " does something",
		InputSchema: []byte(schema),
		Requires:    requires,
		Execute: func(ctx *tools.Context, input map[string]any) (tools.Result, error) {
			return tools.Result{Success: true}, nil
		},
	}
}

func TestNewRegistryCompilesSchemasAndLooksUpByName(t *testing.T) {
	reg, err := tools.NewRegistry(specOf("zeta", `{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`))
	require.NoError(t, err)

	spec := reg.Lookup("zeta")
	require.NotNil(t, spec)
	assert.NoError(t, spec.Validate(map[string]any{"q": "hello"}))
	assert.Error(t, spec.Validate(map[string]any{}))
}

func TestRegistryLookupUnknownReturnsNil(t *testing.T) {
	reg, err := tools.NewRegistry()
	require.NoError(t, err)
	assert.Nil(t, reg.Lookup("missing"))
}

func TestRegistryAvailableFiltersByCapabilityAndOrdersByName(t *testing.T) {
	reg, err := tools.NewRegistry(
		specOf("zeta", ``),
		specOf("alpha", ``, tools.CapabilityWebSearch),
		specOf("beta", ``),
	)
	require.NoError(t, err)

	ctx := &tools.Context{} // no WebSearch configured
	available := reg.Available(ctx)

	require.Len(t, available, 2)
	assert.Equal(t, tools.Ident("beta"), available[0].Name)
	assert.Equal(t, tools.Ident("zeta"), available[1].Name)
}

func TestSpecValidateAcceptsAnyInputWithoutSchema(t *testing.T) {
	s := specOf("no_schema", "")
	assert.NoError(t, s.Validate(map[string]any{"anything": 1}))
}
