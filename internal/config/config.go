// Package config loads, caches and saves the gateway's TOML configuration,
// keeping the teacher's atomic.Value-backed Manager idiom but restructured
// around the Rust original's TOML schema (spec §6).
package config

import (
	"crypto/subtle"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigFilename = "config.toml"
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 8082
	DefaultLogLevel       = "info"

	DefaultMaxTokensLimit      = 4096
	DefaultMinTokensLimit      = 100
	DefaultMaxMessagesLimit    = 30
	DefaultRequestTimeout      = 90
	DefaultMaxRetries          = 2
	DefaultMaxContextTokens    = 128000
	DefaultTargetContextTokens = 64000
)

// Config is the fully-resolved configuration for one gateway process,
// grounded on the Rust `TomlConfig`/`Config` pair in core/config.rs.
type Config struct {
	Provider        string `toml:"provider"`
	AnthropicAPIKey string `toml:"anthropic_api_key"`

	OpenAI     OpenAIConfig     `toml:"openai"`
	OpenRouter OpenRouterConfig `toml:"openrouter"`
	VertexAI   VertexAIConfig   `toml:"vertexai"`
	Anthropic  AnthropicConfig  `toml:"anthropic_backend"`
	Nvidia     NvidiaConfig     `toml:"nvidia"`

	Models  ModelConfig   `toml:"models"`
	Server  ServerConfig  `toml:"server"`
	Request RequestConfig `toml:"request"`
}

type OpenAIConfig struct {
	APIKey          string `toml:"api_key"`
	BaseURL         string `toml:"base_url"`
	AzureAPIVersion string `toml:"azure_api_version"`
}

type OpenRouterConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	SiteURL string `toml:"site_url"`
	AppName string `toml:"app_name"`
}

type VertexAIConfig struct {
	ProjectID   string `toml:"project_id"`
	Location    string `toml:"location"`
	AccessToken string `toml:"access_token"`
}

type AnthropicConfig struct {
	APIKey        string `toml:"api_key"`
	BaseURL       string `toml:"base_url"`
	AnthropicBeta string `toml:"anthropic_beta"`
}

type NvidiaConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
}

// ModelConfig is the big/middle/small model targets C2's mapper resolves
// against (spec §4.1).
type ModelConfig struct {
	BigModel    string `toml:"big_model"`
	MiddleModel string `toml:"middle_model"`
	SmallModel  string `toml:"small_model"`
}

type ServerConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	LogLevel string `toml:"log_level"`
}

type RequestConfig struct {
	MaxTokensLimit      uint `toml:"max_tokens_limit"`
	MinTokensLimit      uint `toml:"min_tokens_limit"`
	MaxMessagesLimit    int  `toml:"max_messages_limit"`
	RequestTimeout      int  `toml:"request_timeout"`
	MaxRetries          int  `toml:"max_retries"`
	MaxContextTokens    int  `toml:"max_context_tokens"`
	TargetContextTokens int  `toml:"target_context_tokens"`
}

// Manager loads Config from disk and caches the latest value behind an
// atomic.Value, mirroring the teacher's internal/config/config.go Manager
// (adapted from its YAML/JSON pair to this gateway's single TOML file).
type Manager struct {
	path        string
	configValue atomic.Value
}

// NewManager builds a Manager for the file at path. If path is empty, it
// resolves CONFIG_PATH, falling back to DefaultConfigFilename (spec §6).
func NewManager(path string) *Manager {
	if path == "" {
		path = ResolvePath()
	}

	return &Manager{path: path}
}

// ResolvePath implements the $CONFIG_PATH / ./config.toml lookup order.
func ResolvePath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}

	return DefaultConfigFilename
}

func (m *Manager) Load() (*Config, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", m.path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("decode TOML config: %w", err)
	}

	applyDefaults(&cfg)

	m.configValue.Store(&cfg)

	return &cfg, nil
}

// Save writes cfg to the Manager's path as TOML and refreshes the cache.
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.OpenFile(m.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open config file %s: %w", m.path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode TOML config: %w", err)
	}

	applyDefaults(cfg)
	m.configValue.Store(cfg)

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}

	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}

	if cfg.Request.MaxTokensLimit == 0 {
		cfg.Request.MaxTokensLimit = DefaultMaxTokensLimit
	}

	if cfg.Request.MinTokensLimit == 0 {
		cfg.Request.MinTokensLimit = DefaultMinTokensLimit
	}

	if cfg.Request.MaxMessagesLimit == 0 {
		cfg.Request.MaxMessagesLimit = DefaultMaxMessagesLimit
	}

	if cfg.Request.RequestTimeout == 0 {
		cfg.Request.RequestTimeout = DefaultRequestTimeout
	}

	if cfg.Request.MaxRetries == 0 {
		cfg.Request.MaxRetries = DefaultMaxRetries
	}

	if cfg.Request.MaxContextTokens == 0 {
		cfg.Request.MaxContextTokens = DefaultMaxContextTokens
	}

	if cfg.Request.TargetContextTokens == 0 {
		cfg.Request.TargetContextTokens = DefaultTargetContextTokens
	}
}

// Get returns the most recently loaded Config, loading it from disk on
// first access.
func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		fallback := Config{Server: ServerConfig{Host: DefaultHost, Port: DefaultPort, LogLevel: DefaultLogLevel}}
		applyDefaults(&fallback)

		return &fallback
	}

	return cfg
}

// Path reports the resolved config file path this Manager reads.
func (m *Manager) Path() string {
	return m.path
}

// Exists reports whether the configured path is present on disk.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// ValidateAPIKey reports whether the active provider's API key looks
// well-formed, grounded on the Rust `validate_api_key` (OpenAI requires an
// "sk-" prefix; other vendors accept any non-empty key). Azure OpenAI is not
// a distinct provider value (spec §4.5): it is the openai section with
// azure_api_version populated, and Azure keys don't follow the "sk-" shape,
// so that case only requires non-empty.
func (cfg *Config) ValidateAPIKey() bool {
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAI.AzureAPIVersion != "" {
			return cfg.OpenAI.APIKey != ""
		}

		return len(cfg.OpenAI.APIKey) > 3 && cfg.OpenAI.APIKey[:3] == "sk-"
	case "openrouter":
		return cfg.OpenRouter.APIKey != ""
	case "vertexai":
		return cfg.VertexAI.AccessToken != "" && cfg.VertexAI.ProjectID != ""
	case "anthropic":
		return cfg.Anthropic.APIKey != ""
	case "nvidia":
		return cfg.Nvidia.APIKey != ""
	default:
		return false
	}
}

// ValidateClientAPIKey constant-time-compares key against the configured
// client-facing key, grounded on the Rust `validate_client_api_key`.
func (cfg *Config) ValidateClientAPIKey(key string) bool {
	if cfg.AnthropicAPIKey == "" {
		return true
	}

	return subtle.ConstantTimeCompare([]byte(key), []byte(cfg.AnthropicAPIKey)) == 1
}
