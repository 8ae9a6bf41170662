// Package platform talks to the target social platform. The concrete
// HTTP transport is isolated behind Client so the rest of the agent
// never sees wire details and tests can substitute a fake.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/basket/redflow/internal/config"
	"github.com/basket/redflow/internal/shared"
)

// Item is one piece of platform content.
type Item struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Topic   string `json:"topic"`
	Author  string `json:"author"`

	Likes     int `json:"likes"`
	Comments  int `json:"comments"`
	Favorites int `json:"favorites"`
	Shares    int `json:"shares"`
}

// Result is the typed outcome of a mutating platform call. Calls may
// fail transiently; Success false with a reason is not a Go error.
type Result struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Client is the platform contract consumed by the scheduler. All calls
// take a context and may fail without crashing a cycle.
type Client interface {
	Search(ctx context.Context, keyword string) ([]Item, error)
	GetDetail(ctx context.Context, id string) (Item, error)
	Like(ctx context.Context, id string) (Result, error)
	Comment(ctx context.Context, id, text string) (Result, error)
	Publish(ctx context.Context, title, body string) (Result, error)
}

// HTTPClient implements Client against a JSON REST surface.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

func NewHTTPClient(cfg config.PlatformConfig, logger *slog.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("platform base_url is required")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

func (c *HTTPClient) Search(ctx context.Context, keyword string) ([]Item, error) {
	var out struct {
		Items []Item `json:"items"`
	}
	path := "/api/v1/search?keyword=" + url.QueryEscape(keyword)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("search %q: %w", keyword, err)
	}
	return out.Items, nil
}

func (c *HTTPClient) GetDetail(ctx context.Context, id string) (Item, error) {
	var item Item
	if err := c.do(ctx, http.MethodGet, "/api/v1/items/"+url.PathEscape(id), nil, &item); err != nil {
		return Item{}, fmt.Errorf("get detail %s: %w", id, err)
	}
	return item, nil
}

func (c *HTTPClient) Like(ctx context.Context, id string) (Result, error) {
	return c.mutate(ctx, "/api/v1/items/"+url.PathEscape(id)+"/like", nil)
}

func (c *HTTPClient) Comment(ctx context.Context, id, text string) (Result, error) {
	return c.mutate(ctx, "/api/v1/items/"+url.PathEscape(id)+"/comments", map[string]string{"text": text})
}

func (c *HTTPClient) Publish(ctx context.Context, title, body string) (Result, error) {
	return c.mutate(ctx, "/api/v1/posts", map[string]string{"title": title, "body": body})
}

func (c *HTTPClient) mutate(ctx context.Context, path string, payload any) (Result, error) {
	var res Result
	if err := c.do(ctx, http.MethodPost, path, payload, &res); err != nil {
		return Result{}, err
	}
	if !res.Success {
		c.logger.Warn("platform rejected action",
			"trace_id", shared.TraceID(ctx), "path", path, "code", res.Code, "message", res.Message)
	}
	return res, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("platform status %d: %s", resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
