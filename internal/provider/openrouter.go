package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Davincible/claude-gateway-go/internal/model"
	"github.com/Davincible/claude-gateway-go/internal/translate"
)

// OpenRouterConfig configures the OpenRouter adapter, grounded on the
// teacher's internal/providers/openrouter.go and the Rust OpenRouterConfig.
type OpenRouterConfig struct {
	APIKey  string
	BaseURL string // defaults to https://openrouter.ai/api/v1
	SiteURL string // optional, sent as HTTP-Referer
	AppName string // optional, sent as X-Title
	Timeout time.Duration
}

// OpenRouterProvider talks to OpenRouter's OpenAI-compatible chat
// completions endpoint.
type OpenRouterProvider struct {
	cfg    OpenRouterConfig
	client *http.Client
	reg    *registry
}

func NewOpenRouterProvider(cfg OpenRouterConfig) *OpenRouterProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}

	return &OpenRouterProvider{cfg: cfg, client: newHTTPClient(cfg.Timeout), reg: newRegistry()}
}

func (p *OpenRouterProvider) Name() string { return "openrouter" }

func (p *OpenRouterProvider) endpoint() string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"
}

func (p *OpenRouterProvider) applyAuth(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	if p.cfg.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.cfg.SiteURL)
	}

	if p.cfg.AppName != "" {
		req.Header.Set("X-Title", p.cfg.AppName)
	}
}

func (p *OpenRouterProvider) Complete(ctx context.Context, req *model.BackendRequest, requestID string) (*model.BackendResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.reg.register(requestID, cancel)
	defer p.reg.unregister(requestID)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindUnexpected, Message: err.Error()}
	}

	return doComplete(ctx, p.client, p.Name(), p.endpoint(), body, p.applyAuth)
}

func (p *OpenRouterProvider) Stream(ctx context.Context, req *model.BackendRequest, requestID string) (<-chan translate.Line, error) {
	ctx, cancel := context.WithCancel(ctx)

	p.reg.register(requestID, cancel)

	body, err := encodeStreamingRequest(req)
	if err != nil {
		cancel()
		p.reg.unregister(requestID)

		return nil, &Error{Kind: KindUnexpected, Message: err.Error()}
	}

	lines, err := doStream(ctx, p.client, p.Name(), p.endpoint(), body, p.applyAuth, nil)
	if err != nil {
		cancel()
		p.reg.unregister(requestID)

		return nil, err
	}

	out := make(chan translate.Line, 16)

	go func() {
		defer close(out)
		defer cancel()
		defer p.reg.unregister(requestID)

		for ln := range lines {
			out <- ln
		}
	}()

	return out, nil
}

func (p *OpenRouterProvider) Cancel(requestID string) bool {
	return p.reg.cancel(requestID)
}
