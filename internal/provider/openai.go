package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Davincible/claude-gateway-go/internal/model"
	"github.com/Davincible/claude-gateway-go/internal/translate"
)

// OpenAIConfig configures the OpenAI/Azure OpenAI adapter, grounded on the
// teacher's internal/providers/openai.go and the Rust core/config.rs schema.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string // defaults to https://api.openai.com/v1
	AzureAPIVersion string // non-empty selects the Azure wire shape
	Timeout         time.Duration
}

// OpenAIProvider talks to OpenAI's or Azure OpenAI's chat completions
// endpoint. Azure is selected by the presence of AzureAPIVersion: Azure
// authenticates with an api-key header and addresses the deployment by
// model name in the URL path (the request body still carries the model).
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
	reg    *registry
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}

	return &OpenAIProvider{cfg: cfg, client: newHTTPClient(cfg.Timeout), reg: newRegistry()}
}

func (p *OpenAIProvider) Name() string {
	if p.isAzure() {
		return "azure"
	}

	return "openai"
}

func (p *OpenAIProvider) isAzure() bool {
	return p.cfg.AzureAPIVersion != ""
}

func (p *OpenAIProvider) endpoint(model string) string {
	base := strings.TrimRight(p.cfg.BaseURL, "/")

	if p.isAzure() {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", base, model, p.cfg.AzureAPIVersion)
	}

	return base + "/chat/completions"
}

func (p *OpenAIProvider) applyAuth(req *http.Request) {
	if p.isAzure() {
		req.Header.Set("api-key", p.cfg.APIKey)
		return
	}

	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *model.BackendRequest, requestID string) (*model.BackendResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.reg.register(requestID, cancel)
	defer p.reg.unregister(requestID)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindUnexpected, Message: err.Error()}
	}

	return doComplete(ctx, p.client, p.Name(), p.endpoint(req.Model), body, p.applyAuth)
}

func (p *OpenAIProvider) Stream(ctx context.Context, req *model.BackendRequest, requestID string) (<-chan translate.Line, error) {
	ctx, cancel := context.WithCancel(ctx)

	p.reg.register(requestID, cancel)

	body, err := encodeStreamingRequest(req)
	if err != nil {
		cancel()
		p.reg.unregister(requestID)

		return nil, &Error{Kind: KindUnexpected, Message: err.Error()}
	}

	lines, err := doStream(ctx, p.client, p.Name(), p.endpoint(req.Model), body, p.applyAuth, nil)
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

func (p *OpenAIProvider) Cancel(requestID string) bool {
	return p.reg.cancel(requestID)
}
