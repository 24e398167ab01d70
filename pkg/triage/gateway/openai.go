package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pferrors "github.com/otherjamesbrown/triaged/pkg/errors"
)

// OpenAIProvider implements Client against any OpenAI-compatible
// /v1/chat/completions endpoint (OpenAI itself, vLLM, Ollama, LM Studio).
type OpenAIProvider struct {
	config     Config
	httpClient *http.Client
	name       string
}

// NewOpenAIProvider creates a provider from config.
func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OpenAIProvider{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		name: fmt.Sprintf("openai-%s", cfg.Model),
	}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// SupportsStructured reports whether structured output is enabled.
func (p *OpenAIProvider) SupportsStructured() bool {
	return p.config.Structured
}

// chatMessage represents a message in the chat conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responseFormat is the OpenAI json_schema response-format directive.
type responseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *jsonSchemaSpec `json:"json_schema,omitempty"`
}

type jsonSchemaSpec struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// chatRequest is the OpenAI-compatible chat completion request.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float32         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// chatChoice represents a completion choice.
type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// chatUsage represents token usage.
type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// chatResponse is the OpenAI-compatible chat completion response.
type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// apiError is the error envelope OpenAI-compatible servers return.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Complete sends a completion request and returns the raw response.
// Failures are mapped to the pipeline taxonomy: 429 is rate-limited, 5xx is
// server-class (both retryable), insufficient-quota and everything else
// aborts without retry.
func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	var messages []chatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	chatReq := chatRequest{
		Model:    p.config.Model,
		Messages: messages,
	}

	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	} else {
		chatReq.Temperature = 0.1 // low temperature for deterministic classification
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	} else {
		chatReq.MaxTokens = 4096
	}
	if req.ResponseSchema != nil && p.config.Structured {
		chatReq.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaSpec{
				Name:   req.ResponseSchema.Name,
				Strict: true,
				Schema: req.ResponseSchema.Schema,
			},
		}
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, pferrors.New(pferrors.ErrSchemaViolation, "gateway", fmt.Sprintf("marshal request: %v", err), err)
	}

	url := strings.TrimRight(p.config.BaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, pferrors.New(pferrors.ErrTransport, "gateway", fmt.Sprintf("create request: %v", err), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, pferrors.New(pferrors.ErrTimeout, "gateway", "request timeout", err)
		}
		if ctx.Err() == context.Canceled {
			return nil, pferrors.New(pferrors.ErrContextCancelled, "gateway", "request cancelled", err)
		}
		return nil, pferrors.New(pferrors.ErrTransport, "gateway", fmt.Sprintf("request failed: %v", err), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pferrors.New(pferrors.ErrTransport, "gateway", fmt.Sprintf("read response: %v", err), err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError(resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, pferrors.New(pferrors.ErrSchemaViolation, "gateway", fmt.Sprintf("parse response: %v", err), err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, pferrors.New(pferrors.ErrSchemaViolation, "gateway", "no choices in response", nil)
	}

	latency := time.Since(start)
	return &CompletionResponse{
		Content:      chatResp.Choices[0].Message.Content,
		Model:        chatResp.Model,
		FinishReason: chatResp.Choices[0].FinishReason,
		LatencyMs:    int(latency.Milliseconds()),
		TokensUsed: TokenUsage{
			Prompt:     chatResp.Usage.PromptTokens,
			Completion: chatResp.Usage.CompletionTokens,
			Total:      chatResp.Usage.TotalTokens,
		},
	}, nil
}

// statusError maps a non-200 HTTP response to the pipeline error taxonomy.
func (p *OpenAIProvider) statusError(status int, body []byte) error {
	var ae apiError
	detail := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &ae) == nil && ae.Error.Message != "" {
		detail = ae.Error.Message
	}

	switch {
	case status == http.StatusTooManyRequests:
		// A 429 with an insufficient_quota code is account exhaustion,
		// not rate pressure; retrying it is pointless.
		if ae.Error.Code == "insufficient_quota" || strings.Contains(ae.Error.Type, "insufficient_quota") {
			return pferrors.New(pferrors.ErrQuotaExceeded, "gateway", detail, nil)
		}
		return pferrors.New(pferrors.ErrRateLimit, "gateway", detail, nil)
	case status == http.StatusPaymentRequired:
		return pferrors.New(pferrors.ErrQuotaExceeded, "gateway", detail, nil)
	case status >= 500:
		return pferrors.New(pferrors.ErrServerError, "gateway", fmt.Sprintf("HTTP %d: %s", status, detail), nil)
	default:
		return pferrors.New(pferrors.ErrTransport, "gateway", fmt.Sprintf("HTTP %d: %s", status, detail), nil)
	}
}

// Close releases provider resources.
func (p *OpenAIProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
