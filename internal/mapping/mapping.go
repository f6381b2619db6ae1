// internal/mapping/mapping.go
// Package mapping applies JSONata expressions to JSON values and validates
// the results against JSON Schemas.
package mapping

import (
	"encoding/json"
	"fmt"

	jsonata "github.com/blues/jsonata-go"
	"github.com/google/jsonschema-go/jsonschema"
)

// Apply evaluates a JSONata expression against value and returns the result
// normalized to plain JSON types.
func Apply(value any, expr string) (any, error) {
	e, err := jsonata.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", err)
	}
	out, err := e.Eval(value)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression: %w", err)
	}
	return normalize(out)
}

// ValidateSchema checks value against a JSON Schema document.
func ValidateSchema(value any, schemaJSON json.RawMessage) error {
	var schema jsonschema.Schema
	if err := json.Unmarshal(schemaJSON, &schema); err != nil {
		return fmt.Errorf("failed to parse schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("failed to resolve schema: %w", err)
	}
	norm, err := normalize(value)
	if err != nil {
		return err
	}
	if err := resolved.Validate(norm); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// Result reports a combined apply-and-validate outcome.
type Result struct {
	Success bool
	Data    any
	Error   string
}

// ValidateAndApply runs Apply then validates the output against schemaJSON.
// The returned error string carries the first failure so synthesis loops can
// feed it back to the model.
func ValidateAndApply(value any, expr string, schemaJSON json.RawMessage) Result {
	data, err := Apply(value, expr)
	if err != nil {
		return Result{Error: err.Error()}
	}
	if len(schemaJSON) > 0 {
		if err := ValidateSchema(data, schemaJSON); err != nil {
			return Result{Data: data, Error: err.Error()}
		}
	}
	return Result{Success: true, Data: data}
}

// normalize round-trips a value through JSON so downstream consumers only see
// map[string]any / []any / float64 / string / bool / nil.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	return out, nil
}
