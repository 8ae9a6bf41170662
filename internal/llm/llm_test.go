package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/basket/redflow/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewClientRequiresModel(t *testing.T) {
	_, err := NewClient(config.LLMConfig{Provider: "deepseek"}, testLogger())
	if err == nil {
		t.Fatalf("expected error for missing model")
	}
}

func TestGenerateAgainstStubServer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["model"] != "deepseek-chat" {
			t.Errorf("unexpected model %v", req["model"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "这家店看起来不错"}},
			},
			"usage": map[string]any{
				"prompt_tokens":     20,
				"completion_tokens": 12,
				"total_tokens":      32,
			},
		})
	}))
	defer srv.Close()

	c, err := NewClient(config.LLMConfig{
		Model:   "deepseek-chat",
		APIKey:  "test-key",
		BaseURL: srv.URL,
	}, testLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	res, err := c.Generate(context.Background(), "你是一个真实的用户", "写一条评论")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Text != "这家店看起来不错" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.TotalTokens != 32 {
		t.Fatalf("unexpected token count %d", res.TotalTokens)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
}

func TestGenerateEstimatesWhenUsageMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "这家店看起来不错"}},
			},
		})
	}))
	defer srv.Close()

	c, err := NewClient(config.LLMConfig{
		Model:   "deepseek-chat",
		APIKey:  "test-key",
		BaseURL: srv.URL,
	}, testLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	res, err := c.Generate(context.Background(), "你是一个真实的用户", "写一条评论")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.PromptTokens == 0 {
		t.Fatal("prompt tokens not estimated")
	}
	if res.CompletionTokens == 0 {
		t.Fatal("completion tokens not estimated")
	}
	if res.TotalTokens != res.PromptTokens+res.CompletionTokens {
		t.Fatalf("total %d != prompt %d + completion %d",
			res.TotalTokens, res.PromptTokens, res.CompletionTokens)
	}
}

func TestProviderBaseURLTable(t *testing.T) {
	if providerBaseURLs["deepseek"] == "" || providerBaseURLs["dashscope"] == "" {
		t.Fatalf("provider table incomplete: %v", providerBaseURLs)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("empty text estimated %d tokens", got)
	}
	if got := EstimateTokens("a"); got != 1 {
		t.Fatalf("minimum estimate = %d, want 1", got)
	}
	// Pure CJK counts one token per rune.
	if got := EstimateTokens("这家店不错"); got != 5 {
		t.Fatalf("cjk estimate = %d, want 5", got)
	}
	// ASCII counts one token per four bytes.
	if got := EstimateTokens("abcdefgh"); got != 2 {
		t.Fatalf("ascii estimate = %d, want 2", got)
	}
	// Mixed text sums both parts.
	if got := EstimateTokens("好店abcd"); got != 3 {
		t.Fatalf("mixed estimate = %d, want 3", got)
	}
}
