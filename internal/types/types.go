// internal/types/types.go
// Package types contains the shared config and run entities. It has no
// dependencies outside the standard library so every other package can import it.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNotFound is returned when a config or run is not found in the datastore.
var ErrNotFound = errors.New("not found")

// AuthType describes how credentials are attached to a request.
type AuthType string

const (
	AuthNone       AuthType = "NONE"
	AuthHeader     AuthType = "HEADER"
	AuthQueryParam AuthType = "QUERY_PARAM"
	AuthOAuth2     AuthType = "OAUTH2"
)

// Valid returns true if the AuthType is a known valid type
func (t AuthType) Valid() bool {
	switch t {
	case AuthNone, AuthHeader, AuthQueryParam, AuthOAuth2:
		return true
	}
	return false
}

// PaginationType selects the iteration strategy for paged endpoints.
type PaginationType string

const (
	PaginationOffset   PaginationType = "OFFSET_BASED"
	PaginationPage     PaginationType = "PAGE_BASED"
	PaginationDisabled PaginationType = "DISABLED"
)

// Valid returns true if the PaginationType is a known valid type
func (t PaginationType) Valid() bool {
	switch t {
	case PaginationOffset, PaginationPage, PaginationDisabled:
		return true
	}
	return false
}

// Pagination configures the page loop of the executor. The reserved variables
// page, offset and limit are bound from it at execution time.
type Pagination struct {
	Type     PaginationType `json:"type"`
	PageSize int            `json:"pageSize"`
}

// DecompressionMethod selects how a fetched file is decompressed.
type DecompressionMethod string

const (
	DecompressGzip    DecompressionMethod = "GZIP"
	DecompressDeflate DecompressionMethod = "DEFLATE"
	DecompressZip     DecompressionMethod = "ZIP"
	DecompressAuto    DecompressionMethod = "AUTO"
	DecompressNone    DecompressionMethod = "NONE"
)

// Valid returns true if the DecompressionMethod is a known valid method
func (m DecompressionMethod) Valid() bool {
	switch m {
	case DecompressGzip, DecompressDeflate, DecompressZip, DecompressAuto, DecompressNone:
		return true
	}
	return false
}

// FileType selects the parser applied to a fetched file.
type FileType string

const (
	FileCSV  FileType = "CSV"
	FileJSON FileType = "JSON"
	FileXML  FileType = "XML"
	FileAuto FileType = "AUTO"
)

// Valid returns true if the FileType is a known valid type
func (t FileType) Valid() bool {
	switch t {
	case FileCSV, FileJSON, FileXML, FileAuto:
		return true
	}
	return false
}

// CacheMode controls read/write interaction with the config cache.
type CacheMode string

const (
	CacheEnabled   CacheMode = "ENABLED"
	CacheReadOnly  CacheMode = "READONLY"
	CacheWriteOnly CacheMode = "WRITEONLY"
	CacheDisabled  CacheMode = "DISABLED"
)

// Reads reports whether cache hits should be returned.
func (m CacheMode) Reads() bool {
	return m == CacheEnabled || m == CacheReadOnly || m == ""
}

// Writes reports whether results should populate the cache.
func (m CacheMode) Writes() bool {
	return m == CacheEnabled || m == CacheWriteOnly || m == ""
}

// ApiConfig is a fully-resolved HTTP request template. String fields may
// contain {var} placeholders bound at execution time.
type ApiConfig struct {
	ID        string    `json:"id"`
	Version   string    `json:"version,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	URLHost          string            `json:"urlHost"`
	URLPath          string            `json:"urlPath,omitempty"`
	Method           string            `json:"method"`
	Headers          map[string]string `json:"headers,omitempty"`
	QueryParams      map[string]string `json:"queryParams,omitempty"`
	Body             string            `json:"body,omitempty"`
	Authentication   AuthType          `json:"authentication,omitempty"`
	Pagination       *Pagination       `json:"pagination,omitempty"`
	DataPath         string            `json:"dataPath,omitempty"`
	Instruction      string            `json:"instruction"`
	DocumentationURL string            `json:"documentationUrl,omitempty"`
	ResponseSchema   json.RawMessage   `json:"responseSchema,omitempty"`
	ResponseMapping  string            `json:"responseMapping,omitempty"`
}

// ExtractConfig describes a file or URL source: the same request template as
// ApiConfig minus pagination, plus decompression and file-type selection.
type ExtractConfig struct {
	ID        string    `json:"id"`
	Version   string    `json:"version,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	URLHost             string              `json:"urlHost"`
	URLPath             string              `json:"urlPath,omitempty"`
	Method              string              `json:"method"`
	Headers             map[string]string   `json:"headers,omitempty"`
	QueryParams         map[string]string   `json:"queryParams,omitempty"`
	Body                string              `json:"body,omitempty"`
	Authentication      AuthType            `json:"authentication,omitempty"`
	DecompressionMethod DecompressionMethod `json:"decompressionMethod,omitempty"`
	FileType            FileType            `json:"fileType,omitempty"`
	DataPath            string              `json:"dataPath,omitempty"`
	Instruction         string              `json:"instruction"`
	DocumentationURL    string              `json:"documentationUrl,omitempty"`
	ResponseSchema      json.RawMessage     `json:"responseSchema,omitempty"`
	ResponseMapping     string              `json:"responseMapping,omitempty"`
}

// TransformConfig pairs a target schema with the JSONata mapping that
// produces it.
type TransformConfig struct {
	ID        string    `json:"id"`
	Version   string    `json:"version,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Instruction         string          `json:"instruction"`
	ResponseSchema      json.RawMessage `json:"responseSchema"`
	ResponseMapping     string          `json:"responseMapping,omitempty"`
	Confidence          int             `json:"confidence,omitempty"`
	ConfidenceReasoning string          `json:"confidence_reasoning,omitempty"`
}

// RunResult records one invocation. Runs are created per call and never
// mutated afterwards.
type RunResult struct {
	ID          string    `json:"id"`
	Success     bool      `json:"success"`
	Data        any       `json:"data,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	ConfigID    string    `json:"configId,omitempty"`
	Config      any       `json:"config,omitempty"`
}

// UnresolvedVariablesError reports placeholders with no binding. It is fatal
// for the request that raised it; no HTTP call is made.
type UnresolvedVariablesError struct {
	Variables []string
}

func (e *UnresolvedVariablesError) Error() string {
	sorted := append([]string(nil), e.Variables...)
	sort.Strings(sorted)
	return fmt.Sprintf("unresolved variables: %v", sorted)
}

// HTTPError captures a failed HTTP exchange together with a summary of the
// request that produced it, so the synthesizer can repair the config.
type HTTPError struct {
	Status  int
	Body    string
	Headers map[string]string
	Request string
}

func (e *HTTPError) Error() string {
	if e.Request != "" {
		return fmt.Sprintf("http %d from %s: %s", e.Status, e.Request, e.Body)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// HTMLResponseError indicates the endpoint answered with an HTML document
// where JSON was expected, usually a login or error page.
type HTMLResponseError struct {
	Request string
}

func (e *HTMLResponseError) Error() string {
	if e.Request != "" {
		return fmt.Sprintf("received HTML instead of JSON from %s", e.Request)
	}
	return "received HTML instead of JSON"
}

// ConfigError reports invalid or missing configuration. User-visible, never
// retried.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }
