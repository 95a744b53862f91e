package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/claude-gateway-go/internal/model"
)

func TestOpenRouterProvider_Name(t *testing.T) {
	assert.Equal(t, "openrouter", NewOpenRouterProvider(OpenRouterConfig{}).Name())
}

func TestOpenRouterProvider_Complete_Auth(t *testing.T) {
	var gotAuth, gotReferer, gotTitle, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReferer = r.Header.Get("HTTP-Referer")
		gotTitle = r.Header.Get("X-Title")
		gotPath = r.URL.Path
		w.Write([]byte(`{"id":"1","choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(OpenRouterConfig{
		APIKey: "or-key", BaseURL: srv.URL, SiteURL: "https://example.com", AppName: "my-app",
	})

	_, err := p.Complete(context.Background(), &model.BackendRequest{Model: "gpt-4o"}, "req-1")
	require.NoError(t, err)

	assert.Equal(t, "Bearer or-key", gotAuth)
	assert.Equal(t, "https://example.com", gotReferer)
	assert.Equal(t, "my-app", gotTitle)
	assert.Equal(t, "/chat/completions", gotPath)
}

func TestOpenRouterProvider_Complete_OptionalHeadersOmitted(t *testing.T) {
	var sawReferer, sawTitle bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawReferer = r.Header.Get("HTTP-Referer") != ""
		sawTitle = r.Header.Get("X-Title") != ""
		w.Write([]byte(`{"id":"1","choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(OpenRouterConfig{APIKey: "or-key", BaseURL: srv.URL})

	_, err := p.Complete(context.Background(), &model.BackendRequest{Model: "gpt-4o"}, "req-2")
	require.NoError(t, err)

	assert.False(t, sawReferer)
	assert.False(t, sawTitle)
}

func TestOpenRouterProvider_DefaultBaseURL(t *testing.T) {
	p := NewOpenRouterProvider(OpenRouterConfig{})
	assert.Equal(t, "https://openrouter.ai/api/v1/chat/completions", p.endpoint())
}

func TestOpenRouterProvider_Stream_CancelUnregisters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(OpenRouterConfig{APIKey: "k", BaseURL: srv.URL})

	lines, err := p.Stream(context.Background(), &model.BackendRequest{Model: "gpt-4o"}, "req-3")
	require.NoError(t, err)

	for range lines {
	}

	assert.False(t, p.Cancel("req-3"), "registry entry is cleared once the draining goroutine exits")
}
