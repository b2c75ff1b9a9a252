// Package schema compiles a Program's declared ProgramInput fields into a
// JSON Schema and validates /execute request inputs against it before
// evaluation begins.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/loglinehq/ubl/pkg/ubltypes"
)

// typeToJSONSchema maps the kernel's declared input types onto JSON Schema
// primitive type names.
var typeToJSONSchema = map[string]string{
	"string":  "string",
	"number":  "number",
	"boolean": "boolean",
	"array":   "array",
	"object":  "object",
}

// Compile builds a JSON Schema document from a Program's input
// declarations and returns a compiled validator.
func Compile(inputs []ubltypes.ProgramInput) (*jsonschema.Schema, error) {
	properties := map[string]any{}
	required := make([]string, 0, len(inputs))

	for _, in := range inputs {
		jsType, ok := typeToJSONSchema[in.Type]
		if !ok {
			jsType = "string"
		}
		properties[in.Name] = map[string]any{"type": jsType}
		if in.Required {
			required = append(required, in.Name)
		}
	}

	doc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal generated schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	const resourceName = "program-inputs.json"
	if err := compiler.AddResource(resourceName, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	return compiler.Compile(resourceName)
}

// Validate compiles program's declared inputs (if any) and validates
// inputs against the result. A program with no declared inputs accepts
// anything.
func Validate(program ubltypes.Program, inputs map[string]any) error {
	if len(program.Inputs) == 0 {
		return nil
	}

	compiled, err := Compile(program.Inputs)
	if err != nil {
		return err
	}

	// jsonschema validates against json.Unmarshal-produced generic values,
	// so round-trip the already-decoded inputs map through encoding/json.
	raw, err := json.Marshal(inputs)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}

	if err := compiled.Validate(generic); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
