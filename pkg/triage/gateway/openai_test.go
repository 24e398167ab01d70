package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pferrors "github.com/otherjamesbrown/triaged/pkg/errors"
)

func newTestProvider(url string) *OpenAIProvider {
	return NewOpenAIProvider(Config{
		BaseURL:    url,
		APIKey:     "test-key",
		Model:      "gpt-4o-mini",
		Structured: true,
		Timeout:    5 * time.Second,
	})
}

func chatOK(content string, usage chatUsage) string {
	resp := chatResponse{
		ID:    "chatcmpl-test",
		Model: "gpt-4o-mini-2024",
		Choices: []chatChoice{
			{Message: chatMessage{Role: "assistant", Content: content}, FinishReason: "stop"},
		},
		Usage: usage,
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestComplete_Success(t *testing.T) {
	var gotBody chatRequest
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, chatOK(`{"classifications":[]}`, chatUsage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150}))
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	resp, err := p.Complete(context.Background(), &CompletionRequest{
		SystemPrompt:   "You triage work items.",
		Prompt:         "batch payload",
		ResponseSchema: ClassificationSchema([]string{"urgent", "high", "medium", "low"}),
	})
	require.NoError(t, err)

	assert.Equal(t, `{"classifications":[]}`, resp.Content)
	assert.Equal(t, "gpt-4o-mini-2024", resp.Model)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 150, resp.TokensUsed.Total)
	assert.Equal(t, 120, resp.TokensUsed.Prompt)

	assert.Equal(t, "Bearer test-key", gotAuth)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "system", gotBody.Messages[0].Role)
	assert.Equal(t, "user", gotBody.Messages[1].Role)
	require.NotNil(t, gotBody.ResponseFormat, "structured mode must send a response_format")
	assert.Equal(t, "json_schema", gotBody.ResponseFormat.Type)
	assert.Equal(t, "work_item_classifications", gotBody.ResponseFormat.JSONSchema.Name)
	assert.True(t, gotBody.ResponseFormat.JSONSchema.Strict)
}

func TestComplete_StructuredDisabledOmitsResponseFormat(t *testing.T) {
	var gotBody chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		io.WriteString(w, chatOK("[]", chatUsage{}))
	}))
	defer server.Close()

	cfg := Config{BaseURL: server.URL, Model: "gpt-4o-mini", Structured: false, Timeout: 5 * time.Second}
	p := NewOpenAIProvider(cfg)
	assert.False(t, p.SupportsStructured())

	_, err := p.Complete(context.Background(), &CompletionRequest{
		Prompt:         "batch payload",
		ResponseSchema: ClassificationSchema([]string{"done"}),
	})
	require.NoError(t, err)
	assert.Nil(t, gotBody.ResponseFormat)
}

func TestComplete_StatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCode  pferrors.ErrorCode
		retryable bool
	}{
		{
			name:      "429 is retryable rate limit",
			status:    http.StatusTooManyRequests,
			body:      `{"error":{"message":"slow down","type":"rate_limit_error"}}`,
			wantCode:  pferrors.ErrRateLimit,
			retryable: true,
		},
		{
			name:      "429 insufficient_quota is terminal",
			status:    http.StatusTooManyRequests,
			body:      `{"error":{"message":"quota used up","type":"insufficient_quota","code":"insufficient_quota"}}`,
			wantCode:  pferrors.ErrQuotaExceeded,
			retryable: false,
		},
		{
			name:      "402 is terminal quota",
			status:    http.StatusPaymentRequired,
			body:      `{"error":{"message":"billing hard limit"}}`,
			wantCode:  pferrors.ErrQuotaExceeded,
			retryable: false,
		},
		{
			name:      "503 is retryable server error",
			status:    http.StatusServiceUnavailable,
			body:      `{"error":{"message":"overloaded"}}`,
			wantCode:  pferrors.ErrServerError,
			retryable: true,
		},
		{
			name:      "401 is plain transport",
			status:    http.StatusUnauthorized,
			body:      `{"error":{"message":"bad key"}}`,
			wantCode:  pferrors.ErrTransport,
			retryable: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			p := newTestProvider(server.URL)
			_, err := p.Complete(context.Background(), &CompletionRequest{Prompt: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, pferrors.CodeOf(err))
			assert.Equal(t, tt.retryable, pferrors.IsErrorRetryable(err))
		})
	}
}

func TestComplete_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":"x","model":"m","choices":[]}`)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	_, err := p.Complete(context.Background(), &CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, pferrors.ErrSchemaViolation, pferrors.CodeOf(err))
}

func TestComplete_ContextCancelled(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background read and can
		// observe the client disconnect; otherwise r.Context() never
		// cancels and server.Close deadlocks.
		io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	p := newTestProvider(server.URL)
	_, err := p.Complete(ctx, &CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, pferrors.ErrContextCancelled, pferrors.CodeOf(err))
	assert.False(t, pferrors.IsErrorRetryable(err))
}

func TestProviderName(t *testing.T) {
	p := newTestProvider("http://localhost:11434")
	assert.Equal(t, "openai-gpt-4o-mini", p.Name())
	assert.NoError(t, p.Close())
}
