// internal/synth/schema.go
package synth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/apiweld/apiweld/internal/llm"
)

const maxSchemaAttempts = 3

const schemaResponseSchema = `{
	"type": "object",
	"properties": {
		"jsonSchema": {"type": "object"}
	},
	"required": ["jsonSchema"]
}`

const schemaSystemPrompt = `You are a JSON Schema engineer. Given an instruction and optionally a sample response, produce the JSON Schema describing the output shape the instruction implies.

Respond with a JSON object of the form {"jsonSchema": <schema>}.`

// GenerateSchema produces a JSON Schema from an instruction and optional
// sample response text, using the schema-generation model.
func (s *Synthesizer) GenerateSchema(ctx context.Context, instruction, responseData string) (json.RawMessage, error) {
	if instruction == "" {
		return nil, fmt.Errorf("instruction is required")
	}

	userPrompt := fmt.Sprintf("Instruction: %s\n", instruction)
	if responseData != "" {
		if len(responseData) > maxSampleChars {
			responseData = responseData[:maxSampleChars]
		}
		userPrompt += fmt.Sprintf("\nSample response:\n%s\n", responseData)
	}
	messages := []llm.Message{
		{Role: "system", Content: schemaSystemPrompt},
		{Role: "user", Content: userPrompt},
	}

	var lastErr error
	for attempt := 0; attempt < maxSchemaAttempts; attempt++ {
		raw, err := s.llm.CompleteForSchema(ctx, messages, json.RawMessage(schemaResponseSchema), temperatureFor(s.llm.SchemaModel(), attempt))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("failed to generate schema: %w", err)
			continue
		}
		messages = append(messages, llm.Message{Role: "assistant", Content: raw})

		schema, err := unwrapSchema(raw)
		if err != nil {
			lastErr = err
			messages = append(messages, llm.Message{Role: "user", Content: err.Error() + "\nRespond with a corrected JSON object."})
			continue
		}
		return schema, nil
	}
	return nil, lastErr
}

// unwrapSchema accepts both {"jsonSchema": {...}} and a bare schema object.
func unwrapSchema(raw string) (json.RawMessage, error) {
	var wrapper struct {
		JSONSchema json.RawMessage `json:"jsonSchema"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapper); err != nil {
		return nil, fmt.Errorf("failed to parse schema response: %w", err)
	}
	if len(wrapper.JSONSchema) > 0 && string(wrapper.JSONSchema) != "null" {
		return wrapper.JSONSchema, nil
	}
	var bare map[string]any
	if err := json.Unmarshal([]byte(raw), &bare); err != nil || len(bare) == 0 {
		return nil, fmt.Errorf("schema response carries no jsonSchema")
	}
	return json.RawMessage(raw), nil
}
