// internal/synth/endpoint.go
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/apiweld/apiweld/internal/docs"
	"github.com/apiweld/apiweld/internal/llm"
	"github.com/apiweld/apiweld/internal/types"
)

// EndpointInput carries the caller's instruction plus any request fields the
// caller has pinned. Pinned fields survive synthesis untouched; the model
// output only fills the gaps.
type EndpointInput struct {
	ID               string
	Instruction      string
	URLHost          string
	URLPath          string
	Method           string
	Headers          map[string]string
	QueryParams      map[string]string
	Body             string
	Authentication   types.AuthType
	Pagination       *types.Pagination
	DataPath         string
	DocumentationURL string
	ResponseSchema   json.RawMessage
	ResponseMapping  string
}

// apiConfigSchema constrains the model's response to the request-template
// fields.
const apiConfigSchema = `{
	"type": "object",
	"properties": {
		"urlHost": {"type": "string"},
		"urlPath": {"type": "string"},
		"method": {"type": "string", "enum": ["GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"]},
		"headers": {"type": "object", "additionalProperties": {"type": "string"}},
		"queryParams": {"type": "object", "additionalProperties": {"type": "string"}},
		"body": {"type": "string"},
		"authentication": {"type": "string", "enum": ["NONE", "HEADER", "QUERY_PARAM", "OAUTH2"]},
		"pagination": {
			"type": "object",
			"properties": {
				"type": {"type": "string", "enum": ["OFFSET_BASED", "PAGE_BASED", "DISABLED"]},
				"pageSize": {"type": "integer"}
			},
			"required": ["type", "pageSize"]
		},
		"dataPath": {"type": "string"}
	},
	"required": ["urlHost", "method"]
}`

type llmEndpoint struct {
	URLHost        string            `json:"urlHost"`
	URLPath        string            `json:"urlPath"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers"`
	QueryParams    map[string]string `json:"queryParams"`
	Body           string            `json:"body"`
	Authentication string            `json:"authentication"`
	Pagination     *types.Pagination `json:"pagination"`
	DataPath       string            `json:"dataPath"`
}

// EndpointID derives the cache key for an endpoint request: identical
// (input, payload-shape) pairs map to the same ID.
func EndpointID(input EndpointInput, payload, credentials map[string]any) string {
	return hashID(input.Instruction, input.URLHost, payloadShape(payload, credentials))
}

const endpointSystemPrompt = `You are an API integration engineer. Given an instruction, the target API's base URL and its documentation, produce the HTTP request configuration that fulfills the instruction.

Use {variable} placeholders for values supplied at execution time; only the listed available variables plus the reserved pagination variables page, offset and limit may be referenced. Configure pagination only when the documentation describes it. Set dataPath to the dot-separated path of the payload inside the response body, using $ for the root.

Respond with a JSON object matching the required schema.`

// PrepareEndpoint generates an ApiConfig for the instruction. When prior is
// non-empty the conversation continues: the previous assistant turn stays in
// context and lastError is appended as a user message, giving the model the
// repair context. The returned message log includes the new assistant turn so
// the caller can resume the loop after executing the config.
func (s *Synthesizer) PrepareEndpoint(ctx context.Context, input EndpointInput, payload, credentials map[string]any, lastError string, prior []llm.Message, retry int) (*types.ApiConfig, []llm.Message, error) {
	if input.Instruction == "" {
		return nil, nil, &types.ConfigError{Msg: "instruction is required"}
	}
	if input.URLHost == "" {
		return nil, nil, &types.ConfigError{Msg: "urlHost is required"}
	}

	id := input.ID
	if id == "" {
		id = EndpointID(input, payload, credentials)
	}
	now := time.Now().UTC()

	messages := prior
	if len(messages) == 0 {
		docText := s.fetchDocs(ctx, input)
		messages = []llm.Message{
			{Role: "system", Content: endpointSystemPrompt},
			{Role: "user", Content: endpointUserPrompt(input, payload, credentials, docText)},
		}
	} else {
		messages = append(messages, llm.Message{
			Role:    "user",
			Content: fmt.Sprintf("The previous configuration failed:\n%s\n\nFix the configuration and respond with the corrected JSON object.", lastError),
		})
	}

	raw, err := s.llm.Complete(ctx, messages, json.RawMessage(apiConfigSchema), temperatureFor(s.llm.Model(), retry))
	if err != nil {
		return nil, messages, fmt.Errorf("failed to generate endpoint config: %w", err)
	}
	messages = append(messages, llm.Message{Role: "assistant", Content: raw})

	var gen llmEndpoint
	if err := json.Unmarshal([]byte(raw), &gen); err != nil {
		return nil, messages, fmt.Errorf("failed to parse generated config: %w", err)
	}

	cfg := &types.ApiConfig{
		ID:               id,
		CreatedAt:        now,
		UpdatedAt:        now,
		Instruction:      input.Instruction,
		URLHost:          firstNonEmpty(input.URLHost, gen.URLHost),
		URLPath:          firstNonEmpty(input.URLPath, gen.URLPath),
		Method:           firstNonEmpty(input.Method, gen.Method, "GET"),
		Headers:          mergeMaps(gen.Headers, input.Headers),
		QueryParams:      mergeMaps(gen.QueryParams, input.QueryParams),
		Body:             firstNonEmpty(input.Body, gen.Body),
		DataPath:         firstNonEmpty(input.DataPath, gen.DataPath),
		DocumentationURL: input.DocumentationURL,
		ResponseSchema:   input.ResponseSchema,
		ResponseMapping:  input.ResponseMapping,
	}
	cfg.Authentication = input.Authentication
	if cfg.Authentication == "" && types.AuthType(gen.Authentication).Valid() {
		cfg.Authentication = types.AuthType(gen.Authentication)
	}
	cfg.Pagination = input.Pagination
	if cfg.Pagination == nil && gen.Pagination != nil && gen.Pagination.Type.Valid() {
		cfg.Pagination = gen.Pagination
	}

	return cfg, messages, nil
}

func (s *Synthesizer) fetchDocs(ctx context.Context, input EndpointInput) string {
	docURL := input.DocumentationURL
	if docURL == "" {
		docURL = input.URLHost
	}
	text, err := s.docs.Fetch(ctx, docURL, nil, nil)
	if err != nil {
		// Documentation is best-effort; the model can often work from the
		// instruction and URL alone.
		return ""
	}
	return docs.Truncate(text)
}

func endpointUserPrompt(input EndpointInput, payload, credentials map[string]any, docText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instruction: %s\n", input.Instruction)
	fmt.Fprintf(&b, "Base URL: %s\n", input.URLHost)
	if input.URLPath != "" {
		fmt.Fprintf(&b, "Path (fixed by caller): %s\n", input.URLPath)
	}
	if input.Method != "" {
		fmt.Fprintf(&b, "Method (fixed by caller): %s\n", input.Method)
	}
	if len(input.Headers) > 0 {
		fmt.Fprintf(&b, "Headers (fixed by caller): %s\n", mustJSON(input.Headers))
	}
	if len(input.QueryParams) > 0 {
		fmt.Fprintf(&b, "Query params (fixed by caller): %s\n", mustJSON(input.QueryParams))
	}
	if input.Body != "" {
		fmt.Fprintf(&b, "Body (fixed by caller): %s\n", input.Body)
	}
	if input.Authentication != "" {
		fmt.Fprintf(&b, "Authentication (fixed by caller): %s\n", input.Authentication)
	}
	if input.Pagination != nil {
		fmt.Fprintf(&b, "Pagination (fixed by caller): %s\n", mustJSON(input.Pagination))
	}
	if input.DataPath != "" {
		fmt.Fprintf(&b, "Data path (fixed by caller): %s\n", input.DataPath)
	}
	vars := availableVars(payload, credentials)
	if len(vars) > 0 {
		fmt.Fprintf(&b, "Available variables: %s\n", strings.Join(vars, ", "))
	}
	if docText != "" {
		fmt.Fprintf(&b, "\nDocumentation:\n%s\n", docText)
	}
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// mergeMaps overlays pinned caller entries on top of generated ones.
func mergeMaps(generated, pinned map[string]string) map[string]string {
	if len(generated) == 0 && len(pinned) == 0 {
		return nil
	}
	out := make(map[string]string, len(generated)+len(pinned))
	for k, v := range generated {
		out[k] = v
	}
	for k, v := range pinned {
		out[k] = v
	}
	return out
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
