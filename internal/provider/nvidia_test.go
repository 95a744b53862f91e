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

func TestNvidiaProvider_Name(t *testing.T) {
	assert.Equal(t, "nvidia", NewNvidiaProvider(NvidiaConfig{}).Name())
}

func TestNvidiaProvider_DefaultBaseURL(t *testing.T) {
	p := NewNvidiaProvider(NvidiaConfig{})
	assert.Equal(t, "https://integrate.api.nvidia.com/v1/chat/completions", p.endpoint())
}

func TestNvidiaProvider_Complete_Auth(t *testing.T) {
	var gotAuth, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Write([]byte(`{"id":"1","choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := NewNvidiaProvider(NvidiaConfig{APIKey: "nv-key", BaseURL: srv.URL})

	_, err := p.Complete(context.Background(), &model.BackendRequest{Model: "meta/llama3-70b-instruct"}, "req-1")
	require.NoError(t, err)

	assert.Equal(t, "Bearer nv-key", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
}

func TestNvidiaProvider_Complete_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	p := NewNvidiaProvider(NvidiaConfig{APIKey: "bad", BaseURL: srv.URL})

	_, err := p.Complete(context.Background(), &model.BackendRequest{Model: "m"}, "req-2")

	var pErr *Error
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, KindAuthentication, pErr.Kind)
}
