package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loglinehq/ubl/pkg/schema"
	"github.com/loglinehq/ubl/pkg/ubltypes"
)

func TestValidateNoDeclaredInputsAcceptsAnything(t *testing.T) {
	program := ubltypes.Program{Name: "p"}
	err := schema.Validate(program, map[string]any{"anything": "goes", "n": 1})
	assert.NoError(t, err)
}

func TestValidateRequiredFieldMissing(t *testing.T) {
	program := ubltypes.Program{
		Name: "p",
		Inputs: []ubltypes.ProgramInput{
			{Name: "amount", Type: "number", Required: true},
		},
	}
	err := schema.Validate(program, map[string]any{})
	assert.Error(t, err)
}

func TestValidateTypeMismatch(t *testing.T) {
	program := ubltypes.Program{
		Name: "p",
		Inputs: []ubltypes.ProgramInput{
			{Name: "amount", Type: "number", Required: true},
		},
	}
	err := schema.Validate(program, map[string]any{"amount": "not-a-number"})
	assert.Error(t, err)
}

func TestValidateAcceptsWellFormedInput(t *testing.T) {
	program := ubltypes.Program{
		Name: "p",
		Inputs: []ubltypes.ProgramInput{
			{Name: "amount", Type: "number", Required: true},
			{Name: "note", Type: "string"},
		},
	}
	err := schema.Validate(program, map[string]any{"amount": 42.0})
	assert.NoError(t, err)
}

func TestValidateOptionalFieldMayBeOmitted(t *testing.T) {
	program := ubltypes.Program{
		Name: "p",
		Inputs: []ubltypes.ProgramInput{
			{Name: "amount", Type: "number"},
		},
	}
	err := schema.Validate(program, map[string]any{})
	assert.NoError(t, err)
}

func TestCompileUnknownTypeDefaultsToString(t *testing.T) {
	compiled, err := schema.Compile([]ubltypes.ProgramInput{
		{Name: "weird", Type: "not-a-real-type", Required: true},
	})
	require.NoError(t, err)
	require.NotNil(t, compiled)

	assert.NoError(t, compiled.Validate(map[string]any{"weird": "a string value"}))
	assert.Error(t, compiled.Validate(map[string]any{"weird": 5.0}))
}
