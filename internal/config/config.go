package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/edgecoach/internal/ai"
)

// KeychainService is the secret store service name for all credentials.
const KeychainService = "edgecoach"

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	AI        AIConfig
	Providers ProvidersConfig
	Context   ContextConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port           int
	RequestTimeout string
}

type StorageConfig struct {
	DataDir string
	// Backend is "sqlite" or "memory".
	Backend string
}

type AIConfig struct {
	DefaultProvider     string
	AnthropicModel      string
	OpenAIModel         string
	MaxTokens           int
	Temperature         float64
	EnableCaching       bool
	CacheTimeoutSeconds int
}

type ProvidersConfig struct {
	AnthropicAPIKey  string
	OpenAIAPIKey     string
	AnthropicBaseURL string
	OpenAIBaseURL    string
}

type ContextConfig struct {
	MaxTokens        int
	RecentPairs      int
	SummaryMaxTokens int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           4100,
			RequestTimeout: "30s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
			Backend: "sqlite",
		},
		AI: AIConfig{
			DefaultProvider:     string(ai.ProviderAnthropic),
			AnthropicModel:      "claude-3-5-sonnet-20241022",
			OpenAIModel:         "gpt-4o",
			MaxTokens:           1024,
			Temperature:         0.7,
			EnableCaching:       true,
			CacheTimeoutSeconds: 3600,
		},
		Providers: ProvidersConfig{
			AnthropicBaseURL: "https://api.anthropic.com/v1",
			OpenAIBaseURL:    "https://api.openai.com/v1",
		},
		Context: ContextConfig{
			MaxTokens:        8000,
			RecentPairs:      4,
			SummaryMaxTokens: 500,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// RequestTimeoutDuration parses Server.RequestTimeout.
func (c Config) RequestTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Server.RequestTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Provider returns the parsed default provider.
func (c Config) Provider() ai.Provider {
	p, err := ai.ParseProvider(c.AI.DefaultProvider)
	if err != nil {
		return ai.ProviderAnthropic
	}
	return p
}

// SlogLevel maps Log.Level to a slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.edgecoach.app) and secrets
// fall back to macOS Keychain.
// Elsewhere the backend is a TOML file at $XDG_CONFIG_HOME/edgecoach/config.toml
// and secrets fall back to $XDG_DATA_HOME/edgecoach/secrets.json.
//
// Environment variables (EDGECOACH_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// LoadFrom is Load with an explicit TOML config file.
func LoadFrom(path string) (Config, error) {
	return loadFromPath(path, NewKeychain())
}

func loadFromPath(path string, kc Keychain) (Config, error) {
	return loadWith(newFileBackend(path), kc)
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Fall back to the secret store for provider keys still empty.
	if cfg.Providers.AnthropicAPIKey == "" {
		if key, err := kc.Get(KeychainService, "anthropic_api_key"); err == nil && key != "" {
			cfg.Providers.AnthropicAPIKey = key
		}
	}
	if cfg.Providers.OpenAIAPIKey == "" {
		if key, err := kc.Get(KeychainService, "openai_api_key"); err == nil && key != "" {
			cfg.Providers.OpenAIAPIKey = key
		}
	}

	if cfg.Providers.AnthropicAPIKey == "" && cfg.Providers.OpenAIAPIKey == "" {
		msg := "missing required config: no provider API key. " +
			"Set EDGECOACH_ANTHROPIC_API_KEY or EDGECOACH_OPENAI_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if _, err := ai.ParseProvider(cfg.AI.DefaultProvider); err != nil {
		return fmt.Errorf("invalid ai.default_provider: %w", err)
	}
	if cfg.Storage.Backend != "sqlite" && cfg.Storage.Backend != "memory" {
		return fmt.Errorf("invalid storage.backend %q: must be sqlite or memory", cfg.Storage.Backend)
	}
	if _, err := time.ParseDuration(cfg.Server.RequestTimeout); err != nil {
		return fmt.Errorf("invalid server.request_timeout: %w", err)
	}
	if cfg.Context.MaxTokens <= 0 {
		return fmt.Errorf("invalid context.max_tokens %d: must be positive", cfg.Context.MaxTokens)
	}
	return nil
}
