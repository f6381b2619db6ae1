// internal/synth/extract.go
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/apiweld/apiweld/internal/llm"
	"github.com/apiweld/apiweld/internal/types"
)

// ExtractInput mirrors EndpointInput for file and URL sources.
type ExtractInput struct {
	ID                  string
	Instruction         string
	URLHost             string
	URLPath             string
	Method              string
	Headers             map[string]string
	QueryParams         map[string]string
	Body                string
	Authentication      types.AuthType
	DecompressionMethod types.DecompressionMethod
	FileType            types.FileType
	DataPath            string
	DocumentationURL    string
	ResponseSchema      json.RawMessage
	ResponseMapping     string
}

const extractConfigSchema = `{
	"type": "object",
	"properties": {
		"urlHost": {"type": "string"},
		"urlPath": {"type": "string"},
		"method": {"type": "string", "enum": ["GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"]},
		"headers": {"type": "object", "additionalProperties": {"type": "string"}},
		"queryParams": {"type": "object", "additionalProperties": {"type": "string"}},
		"body": {"type": "string"},
		"authentication": {"type": "string", "enum": ["NONE", "HEADER", "QUERY_PARAM", "OAUTH2"]},
		"decompressionMethod": {"type": "string", "enum": ["GZIP", "DEFLATE", "ZIP", "AUTO", "NONE"]},
		"fileType": {"type": "string", "enum": ["CSV", "JSON", "XML", "AUTO"]},
		"dataPath": {"type": "string"}
	},
	"required": ["urlHost", "method"]
}`

type llmExtract struct {
	URLHost             string            `json:"urlHost"`
	URLPath             string            `json:"urlPath"`
	Method              string            `json:"method"`
	Headers             map[string]string `json:"headers"`
	QueryParams         map[string]string `json:"queryParams"`
	Body                string            `json:"body"`
	Authentication      string            `json:"authentication"`
	DecompressionMethod string            `json:"decompressionMethod"`
	FileType            string            `json:"fileType"`
	DataPath            string            `json:"dataPath"`
}

// ExtractID derives the cache key for an extract request.
func ExtractID(input ExtractInput, payload, credentials map[string]any) string {
	return hashID(input.Instruction, input.URLHost, payloadShape(payload, credentials))
}

const extractSystemPrompt = `You are a data ingestion engineer. Given an instruction and a file or API source, produce the request configuration that fetches the file, including how it is compressed and what format it is in.

Use {variable} placeholders for values supplied at execution time. Prefer AUTO for decompressionMethod and fileType unless the instruction or documentation says otherwise.

Respond with a JSON object matching the required schema.`

// PrepareExtract generates an ExtractConfig for a file or URL source, with
// the same conversation-resumption contract as PrepareEndpoint.
func (s *Synthesizer) PrepareExtract(ctx context.Context, input ExtractInput, payload, credentials map[string]any, lastError string, prior []llm.Message, retry int) (*types.ExtractConfig, []llm.Message, error) {
	if input.Instruction == "" {
		return nil, nil, &types.ConfigError{Msg: "instruction is required"}
	}
	if input.URLHost == "" {
		return nil, nil, &types.ConfigError{Msg: "urlHost is required"}
	}

	id := input.ID
	if id == "" {
		id = ExtractID(input, payload, credentials)
	}
	now := time.Now().UTC()

	messages := prior
	if len(messages) == 0 {
		messages = []llm.Message{
			{Role: "system", Content: extractSystemPrompt},
			{Role: "user", Content: extractUserPrompt(input, payload, credentials)},
		}
	} else {
		messages = append(messages, llm.Message{
			Role:    "user",
			Content: fmt.Sprintf("The previous configuration failed:\n%s\n\nFix the configuration and respond with the corrected JSON object.", lastError),
		})
	}

	raw, err := s.llm.Complete(ctx, messages, json.RawMessage(extractConfigSchema), temperatureFor(s.llm.Model(), retry))
	if err != nil {
		return nil, messages, fmt.Errorf("failed to generate extract config: %w", err)
	}
	messages = append(messages, llm.Message{Role: "assistant", Content: raw})

	var gen llmExtract
	if err := json.Unmarshal([]byte(raw), &gen); err != nil {
		return nil, messages, fmt.Errorf("failed to parse generated config: %w", err)
	}

	cfg := &types.ExtractConfig{
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
	cfg.DecompressionMethod = input.DecompressionMethod
	if cfg.DecompressionMethod == "" && types.DecompressionMethod(gen.DecompressionMethod).Valid() {
		cfg.DecompressionMethod = types.DecompressionMethod(gen.DecompressionMethod)
	}
	if cfg.DecompressionMethod == "" {
		cfg.DecompressionMethod = types.DecompressAuto
	}
	cfg.FileType = input.FileType
	if cfg.FileType == "" && types.FileType(gen.FileType).Valid() {
		cfg.FileType = types.FileType(gen.FileType)
	}
	if cfg.FileType == "" {
		cfg.FileType = types.FileAuto
	}

	return cfg, messages, nil
}

func extractUserPrompt(input ExtractInput, payload, credentials map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instruction: %s\n", input.Instruction)
	fmt.Fprintf(&b, "Source URL: %s\n", input.URLHost)
	if input.URLPath != "" {
		fmt.Fprintf(&b, "Path (fixed by caller): %s\n", input.URLPath)
	}
	if input.DecompressionMethod != "" {
		fmt.Fprintf(&b, "Decompression (fixed by caller): %s\n", input.DecompressionMethod)
	}
	if input.FileType != "" {
		fmt.Fprintf(&b, "File type (fixed by caller): %s\n", input.FileType)
	}
	if input.DataPath != "" {
		fmt.Fprintf(&b, "Data path (fixed by caller): %s\n", input.DataPath)
	}
	vars := availableVars(payload, credentials)
	if len(vars) > 0 {
		fmt.Fprintf(&b, "Available variables: %s\n", strings.Join(vars, ", "))
	}
	return b.String()
}
