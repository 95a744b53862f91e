package provider

import (
	"fmt"
	"time"

	"github.com/Davincible/claude-gateway-go/internal/config"
)

// Build constructs the single active Provider named by cfg.Provider,
// grounded on the Rust `ProviderType` dispatch in core/provider.rs.
func Build(cfg *config.Config) (Provider, error) {
	timeout := time.Duration(cfg.Request.RequestTimeout) * time.Second

	switch cfg.Provider {
	case "openai":
		// Azure OpenAI is not a separate top-level provider: it is selected
		// by populating azure_api_version under the openai section (spec
		// §4.5 "selected when an api_version is configured").
		return NewOpenAIProvider(OpenAIConfig{
			APIKey: cfg.OpenAI.APIKey, BaseURL: cfg.OpenAI.BaseURL,
			AzureAPIVersion: cfg.OpenAI.AzureAPIVersion, Timeout: timeout,
		}), nil
	case "openrouter":
		return NewOpenRouterProvider(OpenRouterConfig{
			APIKey: cfg.OpenRouter.APIKey, BaseURL: cfg.OpenRouter.BaseURL,
			SiteURL: cfg.OpenRouter.SiteURL, AppName: cfg.OpenRouter.AppName, Timeout: timeout,
		}), nil
	case "vertexai":
		return NewVertexAIProvider(VertexAIConfig{
			ProjectID: cfg.VertexAI.ProjectID, Location: cfg.VertexAI.Location,
			AccessToken: cfg.VertexAI.AccessToken, Timeout: timeout,
		}), nil
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey: cfg.Anthropic.APIKey, BaseURL: cfg.Anthropic.BaseURL,
			AnthropicBeta: cfg.Anthropic.AnthropicBeta, Timeout: timeout,
		}), nil
	case "nvidia":
		return NewNvidiaProvider(NvidiaConfig{
			APIKey: cfg.Nvidia.APIKey, BaseURL: cfg.Nvidia.BaseURL, Timeout: timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
