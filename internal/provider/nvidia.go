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

// NvidiaConfig configures the NVIDIA NIM adapter, grounded on the teacher's
// internal/providers/nvidia.go. NVIDIA speaks the OpenAI chat completions
// wire format, so this adapter is a thin specialization of the OpenAI one
// with its own default endpoint.
type NvidiaConfig struct {
	APIKey  string
	BaseURL string // defaults to https://integrate.api.nvidia.com/v1
	Timeout time.Duration
}

type NvidiaProvider struct {
	cfg    NvidiaConfig
	client *http.Client
	reg    *registry
}

func NewNvidiaProvider(cfg NvidiaConfig) *NvidiaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://integrate.api.nvidia.com/v1"
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}

	return &NvidiaProvider{cfg: cfg, client: newHTTPClient(cfg.Timeout), reg: newRegistry()}
}

func (p *NvidiaProvider) Name() string { return "nvidia" }

func (p *NvidiaProvider) endpoint() string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"
}

func (p *NvidiaProvider) applyAuth(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
}

func (p *NvidiaProvider) Complete(ctx context.Context, req *model.BackendRequest, requestID string) (*model.BackendResponse, error) {
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

func (p *NvidiaProvider) Stream(ctx context.Context, req *model.BackendRequest, requestID string) (<-chan translate.Line, error) {
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

func (p *NvidiaProvider) Cancel(requestID string) bool {
	return p.reg.cancel(requestID)
}
