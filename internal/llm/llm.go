// Package llm wraps an OpenAI-compatible chat endpoint behind the
// small Generator contract the persona engine consumes.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/basket/redflow/internal/config"
	"github.com/basket/redflow/internal/shared"
)

// Result carries the generated text plus the token accounting the cost
// manager needs.
type Result struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// EstimateTokens approximates the token count of text when the provider
// omits usage data. CJK characters tokenize near one token per rune;
// the rest is estimated at one token per four bytes.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	cjk := 0
	other := 0
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			cjk++
		} else {
			other += len(string(r))
		}
	}
	est := cjk + other/4
	if est == 0 {
		est = 1
	}
	return est
}

// Generator produces text for a prompt. Implementations must return an
// error rather than panic; the scheduler treats failures as transient.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (Result, error)
}

// Known OpenAI-compatible base URLs per provider. An explicit base_url
// in config always wins.
var providerBaseURLs = map[string]string{
	"deepseek":    "https://api.deepseek.com",
	"dashscope":   "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"siliconflow": "https://api.siliconflow.cn/v1",
	"ollama":      "http://localhost:11434/v1",
}

type Client struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	logger      *slog.Logger
}

func NewClient(cfg config.LLMConfig, logger *slog.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.HTTPClient = newHTTPClient()
	switch {
	case cfg.BaseURL != "":
		clientConfig.BaseURL = cfg.BaseURL
	default:
		if base, ok := providerBaseURLs[cfg.Provider]; ok {
			clientConfig.BaseURL = base
		}
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}

	return &Client{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
		logger:      logger,
	}, nil
}

func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userPrompt,
	})

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages:    messages,
	})
	if err != nil {
		c.logger.Error("generate failed", "trace_id", shared.TraceID(ctx), "model", c.model, "error", err)
		return Result{}, fmt.Errorf("llm generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("empty response from llm")
	}

	res := Result{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if res.TotalTokens == 0 {
		// Some gateways strip the usage block. Estimate both sides so
		// the budget still gets charged.
		res.PromptTokens = EstimateTokens(systemPrompt) + EstimateTokens(userPrompt)
		res.CompletionTokens = EstimateTokens(res.Text)
		res.TotalTokens = res.PromptTokens + res.CompletionTokens
	}
	c.logger.Debug("generate completed",
		"trace_id", shared.TraceID(ctx),
		"model", c.model,
		"total_tokens", res.TotalTokens,
		"duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
