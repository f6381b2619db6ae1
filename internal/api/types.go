// internal/api/types.go
package api

import (
	"encoding/json"
	"time"

	"github.com/apiweld/apiweld/internal/service"
	"github.com/apiweld/apiweld/internal/types"
)

// EndpointInputDTO is the caller's view of an endpoint request: either an ID
// of a stored config, or the fields to synthesize one from.
type EndpointInputDTO struct {
	ID               string                    `json:"id,omitempty"`
	Instruction      string                    `json:"instruction,omitempty"`
	URLHost          string                    `json:"urlHost,omitempty"`
	URLPath          string                    `json:"urlPath,omitempty"`
	Method           string                    `json:"method,omitempty"`
	Headers          map[string]string         `json:"headers,omitempty"`
	QueryParams      map[string]string         `json:"queryParams,omitempty"`
	Body             string                    `json:"body,omitempty"`
	Authentication   types.AuthType            `json:"authentication,omitempty"`
	Pagination       *types.Pagination         `json:"pagination,omitempty"`
	DataPath         string                    `json:"dataPath,omitempty"`
	DocumentationURL string                    `json:"documentationUrl,omitempty"`
	ResponseSchema   json.RawMessage           `json:"responseSchema,omitempty"`
	ResponseMapping  string                    `json:"responseMapping,omitempty"`
	Decompression    types.DecompressionMethod `json:"decompressionMethod,omitempty"`
	FileType         types.FileType            `json:"fileType,omitempty"`
}

// OptionsDTO tunes one invocation. Durations are milliseconds.
type OptionsDTO struct {
	CacheMode  types.CacheMode `json:"cacheMode,omitempty"`
	Timeout    int             `json:"timeout,omitempty"`
	Retries    int             `json:"retries,omitempty"`
	RetryDelay int             `json:"retryDelay,omitempty"`
	WebhookURL string          `json:"webhookUrl,omitempty"`
}

// ToOptions converts the DTO to service options.
func (o OptionsDTO) ToOptions() service.Options {
	return service.Options{
		CacheMode:  o.CacheMode,
		Timeout:    time.Duration(o.Timeout) * time.Millisecond,
		Retries:    o.Retries,
		RetryDelay: time.Duration(o.RetryDelay) * time.Millisecond,
		WebhookURL: o.WebhookURL,
	}
}

// CallRequest is the body of POST /v1/call and POST /v1/extract.
type CallRequest struct {
	Input       EndpointInputDTO `json:"input"`
	Payload     map[string]any   `json:"payload,omitempty"`
	Credentials map[string]any   `json:"credentials,omitempty"`
	Options     OptionsDTO       `json:"options,omitempty"`
}

// TransformRequest is the body of POST /v1/transform.
type TransformRequest struct {
	Input struct {
		Instruction     string          `json:"instruction,omitempty"`
		ResponseSchema  json.RawMessage `json:"responseSchema"`
		ResponseMapping string          `json:"responseMapping,omitempty"`
	} `json:"input"`
	Data    any        `json:"data"`
	Options OptionsDTO `json:"options,omitempty"`
}

// SchemaRequest is the body of POST /v1/schema.
type SchemaRequest struct {
	Instruction  string `json:"instruction"`
	ResponseData string `json:"responseData,omitempty"`
}

// SchemaResponse wraps a generated schema.
type SchemaResponse struct {
	JSONSchema json.RawMessage `json:"jsonSchema"`
}

// RunResponse wraps a run result.
type RunResponse struct {
	Run *types.RunResult `json:"run"`
}

// RunsResponse wraps a run listing.
type RunsResponse struct {
	Runs []*types.RunResult `json:"runs"`
}

// RenameRequest is the body of the config rename endpoint.
type RenameRequest struct {
	NewID string `json:"newId"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
