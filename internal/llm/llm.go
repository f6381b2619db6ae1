// internal/llm/llm.go
// Package llm performs structured-JSON chat completions against an
// OpenAI-compatible endpoint. Two provider modes exist: openai (default) and
// openrouter, which only differ in base URL, key and identification headers.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"

	defaultOpenAIBaseURL     = "https://api.openai.com/v1"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// Config selects the provider and models. SchemaModel falls back to Model
// when unset.
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	SchemaModel string

	// OpenRouter identification headers.
	Referer string
	Title   string
}

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client performs chat completions.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Client, filling in provider defaults.
func New(cfg Config) *Client {
	if cfg.Provider == "" {
		cfg.Provider = ProviderOpenAI
	}
	if cfg.BaseURL == "" {
		switch cfg.Provider {
		case ProviderOpenRouter:
			cfg.BaseURL = defaultOpenRouterBaseURL
		default:
			cfg.BaseURL = defaultOpenAIBaseURL
		}
	}
	if cfg.SchemaModel == "" {
		cfg.SchemaModel = cfg.Model
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Model returns the default completion model.
func (c *Client) Model() string { return c.cfg.Model }

// SchemaModel returns the model used for schema-generation calls.
func (c *Client) SchemaModel() string { return c.cfg.SchemaModel }

// IsReasoningModel reports whether the model rejects a temperature parameter.
func IsReasoningModel(name string) bool {
	return strings.Contains(name, "gpt-4o") || strings.Contains(name, "o3")
}

type completionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string         `json:"type"`
	JSONSchema respSchemaBody `json:"json_schema"`
}

type respSchemaBody struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete performs a chat completion with the default model. The response
// format is constrained to schema when given; temperature is omitted when nil
// (reasoning models reject it). The raw completion string is returned so
// retry loops can log and replay it.
func (c *Client) Complete(ctx context.Context, messages []Message, schema json.RawMessage, temperature *float64) (string, error) {
	return c.complete(ctx, c.cfg.Model, messages, schema, temperature)
}

// CompleteForSchema performs a completion with the schema-generation model.
func (c *Client) CompleteForSchema(ctx context.Context, messages []Message, schema json.RawMessage, temperature *float64) (string, error) {
	return c.complete(ctx, c.cfg.SchemaModel, messages, schema, temperature)
}

func (c *Client) complete(ctx context.Context, model string, messages []Message, schema json.RawMessage, temperature *float64) (string, error) {
	reqBody := completionRequest{
		Model:    model,
		Messages: messages,
	}
	if IsReasoningModel(model) {
		reqBody.Temperature = nil
	} else {
		reqBody.Temperature = temperature
	}
	if len(schema) > 0 {
		reqBody.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: respSchemaBody{
				Name:   "response",
				Strict: true,
				Schema: schema,
			},
		}
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.Provider == ProviderOpenRouter {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call completion endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("completion endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var compResp completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&compResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if compResp.Error != nil {
		return "", fmt.Errorf("completion error: %s", compResp.Error.Message)
	}
	if len(compResp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return compResp.Choices[0].Message.Content, nil
}
