// Package gateway issues batched classification requests to an
// OpenAI-compatible chat-completion endpoint and maps transport failures to
// the pipeline error taxonomy. Structured mode attaches a JSON-schema
// response-format directive; fallback mode parses free text defensively.
package gateway

import (
	"context"
	"encoding/json"
	"time"
)

// Client is the interface for inference providers.
type Client interface {
	// Name returns the provider identifier (e.g. "openai-gpt-4o-mini").
	Name() string

	// Complete sends a completion request and returns the raw response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// SupportsStructured reports whether the provider honors JSON-schema
	// constrained output.
	SupportsStructured() bool

	// Close releases provider resources.
	Close() error
}

// CompletionRequest represents a request to the model.
type CompletionRequest struct {
	// SystemPrompt is the domain rubric and output instructions.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Prompt is the batch payload: items, signals, correlated context.
	Prompt string `json:"prompt"`

	// MaxTokens limits response length (0 = provider default).
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0 = provider default).
	Temperature float32 `json:"temperature,omitempty"`

	// ResponseSchema, when non-nil, requests schema-constrained output.
	// Providers that do not support structured output ignore it; the
	// response is then parsed leniently.
	ResponseSchema *ResponseSchema `json:"response_schema,omitempty"`
}

// ResponseSchema is a JSON-schema response-format directive naming the exact
// shape the model must return.
type ResponseSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// CompletionResponse represents a response from the model.
type CompletionResponse struct {
	// Content is the raw text response.
	Content string `json:"content"`

	// Model is the actual model used (may differ from requested).
	Model string `json:"model"`

	// TokensUsed tracks token consumption as reported by the provider.
	// A zero Total means the provider reported no usage; callers fall
	// back to an estimate.
	TokensUsed TokenUsage `json:"tokens_used"`

	// FinishReason indicates why the model stopped generating.
	// "stop" = natural end, "length" = hit max_tokens limit.
	FinishReason string `json:"finish_reason,omitempty"`

	// LatencyMs is the response time in milliseconds.
	LatencyMs int `json:"latency_ms"`
}

// Classification is one element of the array-of-classification wire shape
// the gateway demands from the model.
type Classification struct {
	ItemIndex    int     `json:"item_index"`
	Label        string  `json:"label"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning,omitempty"`
	LastActivity string  `json:"last_activity,omitempty"` // ISO date, progress domain only
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Config configures an inference provider.
type Config struct {
	// BaseURL of the OpenAI-compatible endpoint, e.g. "https://api.openai.com".
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as a bearer token when non-empty.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier to request.
	Model string `yaml:"model"`

	// Structured enables JSON-schema constrained output for providers
	// that support it.
	Structured bool `yaml:"structured"`

	// Timeout bounds a single HTTP request. Default 120s.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns provider defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:11434",
		Model:      "gpt-4o-mini",
		Structured: true,
		Timeout:    120 * time.Second,
	}
}

// ClassificationSchema returns the JSON-schema descriptor for the
// array-of-classification response shape, parameterized by the domain's
// allowed labels.
func ClassificationSchema(labels []string) *ResponseSchema {
	type prop struct {
		Type        string   `json:"type"`
		Description string   `json:"description,omitempty"`
		Enum        []string `json:"enum,omitempty"`
		Minimum     *float64 `json:"minimum,omitempty"`
		Maximum     *float64 `json:"maximum,omitempty"`
	}
	zero, one := 0.0, 1.0
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"classifications": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]prop{
						"item_index":    {Type: "integer", Description: "zero-based index of the item within the batch"},
						"label":         {Type: "string", Enum: labels},
						"confidence":    {Type: "number", Minimum: &zero, Maximum: &one},
						"reasoning":     {Type: "string"},
						"last_activity": {Type: "string", Description: "ISO-8601 date of the most recent activity, if known"},
					},
					"required":             []string{"item_index", "label", "confidence"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"classifications"},
		"additionalProperties": false,
	}
	raw, _ := json.Marshal(schema)
	return &ResponseSchema{Name: "work_item_classifications", Schema: raw}
}
