package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "EDGECOACH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.request_timeout", typ: kString, env: "EDGECOACH_SERVER_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Server.RequestTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.RequestTimeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "EDGECOACH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.backend", typ: kString, env: "EDGECOACH_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "ai.default_provider", typ: kString, env: "EDGECOACH_AI_DEFAULT_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.AI.DefaultProvider = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.DefaultProvider },
	},
	{
		key: "ai.anthropic_model", typ: kString, env: "EDGECOACH_AI_ANTHROPIC_MODEL",
		apply:   func(cfg *Config, v any) { cfg.AI.AnthropicModel = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.AnthropicModel },
	},
	{
		key: "ai.openai_model", typ: kString, env: "EDGECOACH_AI_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.AI.OpenAIModel = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.OpenAIModel },
	},
	{
		key: "ai.max_tokens", typ: kInt, env: "EDGECOACH_AI_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.AI.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.AI.MaxTokens },
	},
	{
		key: "ai.temperature", typ: kFloat, env: "EDGECOACH_AI_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.AI.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.AI.Temperature },
	},
	{
		key: "ai.enable_caching", typ: kBool, env: "EDGECOACH_AI_ENABLE_CACHING",
		apply:   func(cfg *Config, v any) { cfg.AI.EnableCaching = v.(bool) },
		extract: func(cfg Config) any { return cfg.AI.EnableCaching },
	},
	{
		key: "ai.cache_timeout_seconds", typ: kInt, env: "EDGECOACH_AI_CACHE_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.AI.CacheTimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.AI.CacheTimeoutSeconds },
	},
	{
		key: "providers.anthropic_api_key", typ: kString, env: "EDGECOACH_ANTHROPIC_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Providers.AnthropicAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.AnthropicAPIKey },
	},
	{
		key: "providers.openai_api_key", typ: kString, env: "EDGECOACH_OPENAI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Providers.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.OpenAIAPIKey },
	},
	{
		key: "providers.anthropic_base_url", typ: kString, env: "EDGECOACH_ANTHROPIC_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Providers.AnthropicBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.AnthropicBaseURL },
	},
	{
		key: "providers.openai_base_url", typ: kString, env: "EDGECOACH_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Providers.OpenAIBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.OpenAIBaseURL },
	},
	{
		key: "context.max_tokens", typ: kInt, env: "EDGECOACH_CONTEXT_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Context.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Context.MaxTokens },
	},
	{
		key: "context.recent_pairs", typ: kInt, env: "EDGECOACH_CONTEXT_RECENT_PAIRS",
		apply:   func(cfg *Config, v any) { cfg.Context.RecentPairs = v.(int) },
		extract: func(cfg Config) any { return cfg.Context.RecentPairs },
	},
	{
		key: "context.summary_max_tokens", typ: kInt, env: "EDGECOACH_CONTEXT_SUMMARY_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Context.SummaryMaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Context.SummaryMaxTokens },
	},
	{
		key: "log.level", typ: kString, env: "EDGECOACH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
