package platform

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

func newStub(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(config.PlatformConfig{BaseURL: srv.URL, Token: "tok-123"}, testLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestSearch(t *testing.T) {
	c := newStub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("keyword"); got != "手冲咖啡" {
			t.Errorf("unexpected keyword %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("unexpected auth %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "n1", "title": "手冲入门", "topic": "咖啡", "likes": 12},
			},
		})
	})

	items, err := c.Search(context.Background(), "手冲咖啡")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(items) != 1 || items[0].ID != "n1" || items[0].Likes != 12 {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestCommentSendsBody(t *testing.T) {
	c := newStub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["text"] != "评论内容" {
			t.Errorf("unexpected text %q", body["text"])
		}
		_ = json.NewEncoder(w).Encode(Result{Success: true})
	})

	res, err := c.Comment(context.Background(), "n1", "评论内容")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestPlatformRejectionIsNotAnError(t *testing.T) {
	c := newStub(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Result{Success: false, Code: "RATE_LIMITED", Message: "slow down"})
	})

	res, err := c.Like(context.Background(), "n1")
	if err != nil {
		t.Fatalf("a platform-level rejection must not be a transport error: %v", err)
	}
	if res.Success || res.Code != "RATE_LIMITED" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestHTTPErrorSurfaces(t *testing.T) {
	c := newStub(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	if _, err := c.GetDetail(context.Background(), "n1"); err == nil {
		t.Fatalf("expected error for 502 response")
	}
}

func TestNewHTTPClientRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPClient(config.PlatformConfig{}, testLogger()); err == nil {
		t.Fatalf("expected error for missing base_url")
	}
}
