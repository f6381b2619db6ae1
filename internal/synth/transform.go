// internal/synth/transform.go
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/apiweld/apiweld/internal/datastore"
	"github.com/apiweld/apiweld/internal/llm"
	"github.com/apiweld/apiweld/internal/mapping"
	"github.com/apiweld/apiweld/internal/types"
)

const maxMappingAttempts = 5

// TransformInput carries the instruction, the target schema and an optional
// caller-supplied mapping.
type TransformInput struct {
	Instruction     string
	ResponseSchema  json.RawMessage
	ResponseMapping string
}

// TransformID derives the cache key for a transform request: the instruction
// plus the shape of the data. Morphologically identical payloads share a key.
func TransformID(instruction string, data any) string {
	return hashID(instruction, inferSchemaJSON(data))
}

const mappingResponseSchema = `{
	"type": "object",
	"properties": {
		"jsonata": {"type": "string"},
		"confidence": {"type": "integer", "minimum": 0, "maximum": 100},
		"confidence_reasoning": {"type": "string"}
	},
	"required": ["jsonata", "confidence", "confidence_reasoning"]
}`

type llmMapping struct {
	JSONata             string `json:"jsonata"`
	Confidence          int    `json:"confidence"`
	ConfidenceReasoning string `json:"confidence_reasoning"`
}

const transformSystemPrompt = `You are a data transformation engineer. Produce a JSONata expression that reshapes the source data into the target JSON Schema.

The expression is evaluated against the source data as its context. Respond with a JSON object containing the jsonata expression, a confidence score from 0 to 100, and your confidence reasoning.`

// PrepareTransform resolves a transform config for (input, data): from the
// cache when allowed, from the caller's mapping when supplied, otherwise by
// generating and validating a mapping. Returns nil with no error when there
// is nothing to transform; returns nil with the last error when generation
// exhausts its attempts.
func (s *Synthesizer) PrepareTransform(ctx context.Context, store datastore.Store, fromCache bool, input TransformInput, data any) (*types.TransformConfig, error) {
	if len(input.ResponseSchema) == 0 || isEmptyData(data) {
		return nil, nil
	}

	id := TransformID(input.Instruction, data)
	now := time.Now().UTC()

	if fromCache && store != nil {
		if cached, err := store.GetTransformConfig(ctx, id); err == nil && cached.ResponseMapping != "" {
			cached.Instruction = input.Instruction
			cached.ResponseSchema = input.ResponseSchema
			return cached, nil
		}
	}

	if input.ResponseMapping != "" {
		return &types.TransformConfig{
			ID:              id,
			CreatedAt:       now,
			UpdatedAt:       now,
			Instruction:     input.Instruction,
			ResponseSchema:  input.ResponseSchema,
			ResponseMapping: input.ResponseMapping,
			Confidence:      100,
		}, nil
	}

	gen, err := s.generateMapping(ctx, input, data)
	if err != nil {
		return nil, err
	}
	return &types.TransformConfig{
		ID:                  id,
		CreatedAt:           now,
		UpdatedAt:           now,
		Instruction:         input.Instruction,
		ResponseSchema:      input.ResponseSchema,
		ResponseMapping:     gen.JSONata,
		Confidence:          gen.Confidence,
		ConfidenceReasoning: gen.ConfidenceReasoning,
	}, nil
}

// generateMapping is the retry loop: each failed application or validation is
// appended to the conversation and the model tries again with a slightly
// higher temperature.
func (s *Synthesizer) generateMapping(ctx context.Context, input TransformInput, data any) (*llmMapping, error) {
	messages := []llm.Message{
		{Role: "system", Content: transformSystemPrompt},
		{Role: "user", Content: transformUserPrompt(input, data)},
	}

	var lastErr error
	for attempt := 0; attempt < maxMappingAttempts; attempt++ {
		raw, err := s.llm.Complete(ctx, messages, json.RawMessage(mappingResponseSchema), temperatureFor(s.llm.Model(), attempt))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("failed to generate mapping: %w", err)
			continue
		}
		messages = append(messages, llm.Message{Role: "assistant", Content: raw})

		var gen llmMapping
		if err := json.Unmarshal([]byte(raw), &gen); err != nil {
			lastErr = fmt.Errorf("failed to parse mapping response: %w", err)
			messages = append(messages, llm.Message{Role: "user", Content: lastErr.Error() + "\nRespond with a corrected JSON object."})
			continue
		}

		res := mapping.ValidateAndApply(data, gen.JSONata, input.ResponseSchema)
		if res.Success {
			return &gen, nil
		}
		lastErr = fmt.Errorf("mapping failed: %s", res.Error)
		messages = append(messages, llm.Message{
			Role:    "user",
			Content: fmt.Sprintf("The expression failed:\n%s\n\nRespond with a corrected JSON object.", res.Error),
		})
	}
	return nil, lastErr
}

func transformUserPrompt(input TransformInput, data any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target schema:\n%s\n", string(input.ResponseSchema))
	if input.Instruction != "" {
		fmt.Fprintf(&b, "\nInstruction: %s\n", input.Instruction)
	}
	fmt.Fprintf(&b, "\nSource data schema:\n%s\n", inferSchemaJSON(data))
	fmt.Fprintf(&b, "\nSource data sample:\n%s\n", sampleData(data))
	return b.String()
}
