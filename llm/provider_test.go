package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantType string
	}{
		{"anthropic", "*llm.anthropicProvider"},
		{"ollama", "*llm.openAICompatProvider"},
		{"openai", "*llm.openAICompatProvider"},
		{"gemini", "*llm.openAICompatProvider"},
		{"custom", "*llm.openAICompatProvider"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, Model: "test-model"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, fmt.Sprintf("%T", p))
		})
	}
}

func TestNewProviderErrors(t *testing.T) {
	_, err := NewProvider(Config{Provider: "doesnotexist"})
	require.EqualError(t, err, "unknown llm provider: doesnotexist")

	_, err = NewProvider(Config{})
	require.EqualError(t, err, "llm provider not specified")
}

func TestDefaultBaseURLs(t *testing.T) {
	tests := []struct {
		provider   string
		wantURL    string
		wantPrefix string
	}{
		{"ollama", "http://localhost:11434", "/v1"},
		{"lmstudio", "http://localhost:1234", "/v1"},
		{"openrouter", "https://openrouter.ai/api", "/v1"},
		{"gemini", "https://generativelanguage.googleapis.com/v1beta/openai", ""},
		{"custom", "", "/v1"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, Model: "m"})
			require.NoError(t, err)
			base := p.(*openAICompatProvider).base
			assert.Equal(t, tt.wantURL, base.cfg.BaseURL)
			assert.Equal(t, tt.wantPrefix, base.pathPrefix)
		})
	}

	p, err := NewProvider(Config{Provider: "ollama", BaseURL: "http://my-server:9999"})
	require.NoError(t, err)
	assert.Equal(t, "http://my-server:9999", p.(*openAICompatProvider).base.cfg.BaseURL)

	a := NewAnthropic(Config{}).(*anthropicProvider)
	assert.Equal(t, anthropicBaseURL, a.cfg.BaseURL)
	assert.Equal(t, defaultAnthropicModel, a.cfg.Model)
}

func TestAnthropicChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "be brief", req.System)
		assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
		assert.Equal(t, defaultAnthropicModel, req.Model)
		if assert.Len(t, req.Messages, 1) {
			assert.Equal(t, "user", req.Messages[0].Role)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"claude-test","stop_reason":"end_turn",
			"content":[{"type":"text","text":"The Star "},{"type":"text","text":"shines."}],
			"usage":{"input_tokens":10,"output_tokens":4}}`)
	}))
	defer srv.Close()

	p := NewAnthropic(Config{BaseURL: srv.URL, APIKey: "sk-ant-test"})
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "draw a card"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "The Star shines.", resp.Content)
	assert.Equal(t, 14, resp.TotalTokens)

	_, err = p.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrEmbeddingsUnsupported)
}

func TestAnthropicAPIErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	p := NewAnthropic(Config{BaseURL: srv.URL, APIKey: "bad"})
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid x-api-key", apiErr.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAICompatRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":"busy"}`)
			return
		}
		fmt.Fprint(w, `{"model":"m","choices":[{"message":{"content":"ok"},"finish_reason":"stop"}],"usage":{"total_tokens":3}}`)
	}))
	defer srv.Close()

	p, err := NewProvider(Config{Provider: "custom", BaseURL: srv.URL, APIKey: "k", Model: "m"})
	require.NoError(t, err)
	p.(*openAICompatProvider).base.http.baseDelay = time.Millisecond

	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAICompatEmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	p, err := NewProvider(Config{Provider: "custom", BaseURL: srv.URL, Model: "e"})
	require.NoError(t, err)

	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

type stubProvider struct {
	got ChatRequest
}

func (s *stubProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.got = req
	return &ChatResponse{Content: "reply", Model: "stub"}, nil
}

func (s *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrEmbeddingsUnsupported
}

func TestCompleterSendsSystemAndUser(t *testing.T) {
	stub := &stubProvider{}
	c := NewCompleter(stub, CompleterOptions{Model: "m"})

	out, err := c.Complete(context.Background(), "sys", "msg")
	require.NoError(t, err)
	assert.Equal(t, "reply", out)
	assert.Equal(t, []Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "msg"}}, stub.got.Messages)
	assert.Equal(t, DefaultMaxTokens, stub.got.MaxTokens)
	assert.Equal(t, "m", stub.got.Model)
}

func TestNewAPIErrorShapes(t *testing.T) {
	assert.Equal(t, "nested", newAPIError(400, []byte(`{"error":{"message":"nested"}}`)).Message)
	assert.Equal(t, "flat", newAPIError(400, []byte(`{"error":"flat"}`)).Message)
	assert.Equal(t, "API request failed with status 502", newAPIError(502, []byte(`<html>`)).Message)
	assert.True(t, newAPIError(529, nil).Temporary())
	assert.False(t, newAPIError(400, nil).Temporary())
}
