// Package service is the provider-agnostic entry point for chat generation:
// validation, response caching, a single provider fallback and usage stats.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/edgecoach/internal/ai"
	"github.com/kalambet/edgecoach/internal/cache"
	"github.com/kalambet/edgecoach/internal/provider"
)

const defaultCacheTimeout = time.Hour

// Adapter is a provider binding. Implemented by provider.Anthropic and
// provider.OpenAI.
type Adapter interface {
	Generate(ctx context.Context, msgs []ai.Message, cfg ai.ServiceConfig) (ai.Response, error)
	GenerateStreaming(ctx context.Context, msgs []ai.Message, cfg ai.ServiceConfig) (<-chan ai.StreamChunk, error)
}

// ModelLister is implemented by adapters that can enumerate models. It is
// used for credential checks.
type ModelLister interface {
	ListModels(ctx context.Context) ([]provider.Model, error)
}

// Options configures a Service.
type Options struct {
	// Adapters holds one entry per provider that has credentials. A provider
	// without an entry is never used as a fallback target.
	Adapters map[ai.Provider]Adapter
	// DefaultProvider is used when a call does not name one.
	DefaultProvider ai.Provider
	// DefaultModels gives the model used for a provider when the call does not
	// name one, and always for fallback attempts.
	DefaultModels map[ai.Provider]string
	// CacheTimeout applies when a call leaves CacheTimeoutSeconds at zero.
	CacheTimeout time.Duration
	// Cache may be nil, in which case a private cache is created.
	Cache *cache.ResponseCache
	// Registerer receives the service metrics. Nil disables registration.
	Registerer prometheus.Registerer
}

// Stats is a diagnostic snapshot of the service counters.
type Stats struct {
	RequestCount int     `json:"requestCount"`
	ErrorCount   int     `json:"errorCount"`
	CacheSize    int     `json:"cacheSize"`
	ErrorRate    float64 `json:"errorRate"`
}

// Service orchestrates generation across providers. It is safe for
// concurrent use.
type Service struct {
	adapters        map[ai.Provider]Adapter
	defaultProvider ai.Provider
	defaultModels   map[ai.Provider]string
	cacheTimeout    time.Duration
	cache           *cache.ResponseCache
	metrics         *metrics

	mu           sync.Mutex
	requestCount int
	errorCount   int
}

// New creates a Service from opts.
func New(opts Options) *Service {
	s := &Service{
		adapters:        opts.Adapters,
		defaultProvider: opts.DefaultProvider,
		defaultModels: map[ai.Provider]string{
			ai.ProviderAnthropic: provider.DefaultAnthropicModel,
			ai.ProviderOpenAI:    provider.DefaultOpenAIModel,
		},
		cacheTimeout: opts.CacheTimeout,
		cache:        opts.Cache,
	}
	if s.adapters == nil {
		s.adapters = map[ai.Provider]Adapter{}
	}
	if s.defaultProvider == "" {
		s.defaultProvider = ai.ProviderAnthropic
	}
	for p, m := range opts.DefaultModels {
		if m != "" {
			s.defaultModels[p] = m
		}
	}
	if s.cacheTimeout <= 0 {
		s.cacheTimeout = defaultCacheTimeout
	}
	if s.cache == nil {
		s.cache = cache.New()
	}
	s.metrics = newMetrics(opts.Registerer, func() float64 { return float64(s.cache.Size()) })
	return s
}

// Configured reports whether p has an adapter.
func (s *Service) Configured(p ai.Provider) bool {
	_, ok := s.adapters[p]
	return ok
}

// DefaultProvider returns the provider used when a call names none.
func (s *Service) DefaultProvider() ai.Provider { return s.defaultProvider }

// DefaultModel returns the model used for p when a call names none.
func (s *Service) DefaultModel(p ai.Provider) string { return s.defaultModels[p] }

// Generate runs a non-streaming completion.
//
// A cache hit returns immediately. Otherwise the configured provider is
// called; on any failure the alternate provider, if it has credentials, is
// tried once with its default model. Fallback results are returned but not
// cached. When both attempts fail the fallback's error is returned.
func (s *Service) Generate(ctx context.Context, msgs []ai.Message, cfg ai.ServiceConfig) (ai.Response, error) {
	s.countRequest()

	if err := ai.ValidateMessages(msgs); err != nil {
		s.countError()
		return ai.Response{}, err
	}

	cfg = s.resolve(cfg)
	caching := cfg.CachingEnabled()
	if caching {
		if resp, ok := s.cache.Get(msgs, cfg.Model, s.timeout(cfg)); ok {
			s.metrics.cacheHits.Inc()
			slog.Debug("ai cache hit", "provider", cfg.Provider, "model", cfg.Model)
			return resp, nil
		}
	}

	resp, err := s.attempt(ctx, cfg, msgs)
	if err == nil {
		if caching {
			s.cache.Set(msgs, cfg.Model, resp)
		}
		return resp, nil
	}

	alt := cfg.Provider.Alternate()
	if !s.Configured(alt) {
		s.countError()
		return ai.Response{}, err
	}

	slog.Warn("ai provider failed, falling back",
		"provider", cfg.Provider,
		"fallback", alt,
		"error", err,
	)
	fallbackCfg := cfg
	fallbackCfg.Provider = alt
	fallbackCfg.Model = s.defaultModels[alt]

	resp, err = s.attempt(ctx, fallbackCfg, msgs)
	if err != nil {
		s.countError()
		return ai.Response{}, err
	}
	s.metrics.fallbacks.Inc()
	return resp, nil
}

// GenerateStreaming runs a streaming completion against the configured
// provider only. There is no caching and no fallback. Failures before the
// stream starts are returned; later failures arrive as a chunk with Err set,
// and the channel closes without a Done chunk.
func (s *Service) GenerateStreaming(ctx context.Context, msgs []ai.Message, cfg ai.ServiceConfig) (<-chan ai.StreamChunk, error) {
	s.countRequest()

	if err := ai.ValidateMessages(msgs); err != nil {
		s.countError()
		return nil, err
	}

	cfg = s.resolve(cfg)
	adapter, ok := s.adapters[cfg.Provider]
	if !ok {
		s.countError()
		return nil, notConfigured(cfg.Provider)
	}

	upstream, err := adapter.GenerateStreaming(ctx, msgs, cfg)
	if err != nil {
		e := ai.Normalize(cfg.Provider, err)
		s.metrics.providerErrors.WithLabelValues(string(cfg.Provider), string(e.Code)).Inc()
		s.countError()
		return nil, e
	}

	out := make(chan ai.StreamChunk)
	go func() {
		defer close(out)
		for chunk := range upstream {
			if chunk.Err != nil {
				e := ai.Normalize(cfg.Provider, chunk.Err)
				chunk.Err = e
				s.metrics.providerErrors.WithLabelValues(string(cfg.Provider), string(e.Code)).Inc()
				s.countError()
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				// Drain so the adapter goroutine can observe ctx and exit.
				for range upstream {
				}
				return
			}
		}
	}()
	return out, nil
}

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	st := Stats{RequestCount: s.requestCount, ErrorCount: s.errorCount}
	s.mu.Unlock()

	st.CacheSize = s.cache.Size()
	if st.RequestCount > 0 {
		st.ErrorRate = float64(st.ErrorCount) / float64(st.RequestCount)
	}
	return st
}

// ClearCache empties the response cache.
func (s *Service) ClearCache() {
	s.cache.Clear()
}

// CheckProviders lists models on every configured provider concurrently and
// returns the per-provider error (nil when healthy).
func (s *Service) CheckProviders(ctx context.Context) map[ai.Provider]error {
	results := make(map[ai.Provider]error, len(s.adapters))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for p, a := range s.adapters {
		lister, ok := a.(ModelLister)
		if !ok {
			continue
		}
		g.Go(func() error {
			_, err := lister.ListModels(gctx)
			mu.Lock()
			results[p] = err
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

func (s *Service) attempt(ctx context.Context, cfg ai.ServiceConfig, msgs []ai.Message) (ai.Response, error) {
	adapter, ok := s.adapters[cfg.Provider]
	if !ok {
		err := notConfigured(cfg.Provider)
		s.metrics.providerErrors.WithLabelValues(string(cfg.Provider), string(err.Code)).Inc()
		return ai.Response{}, err
	}

	start := time.Now()
	resp, err := adapter.Generate(ctx, msgs, cfg)
	s.metrics.latency.WithLabelValues(string(cfg.Provider)).Observe(time.Since(start).Seconds())
	if err != nil {
		e := ai.Normalize(cfg.Provider, err)
		s.metrics.providerErrors.WithLabelValues(string(cfg.Provider), string(e.Code)).Inc()
		return ai.Response{}, e
	}
	if resp.Provider == "" {
		resp.Provider = cfg.Provider
	}
	if resp.Model == "" {
		resp.Model = cfg.Model
	}
	return resp, nil
}

// resolve fills in the provider and model defaults.
func (s *Service) resolve(cfg ai.ServiceConfig) ai.ServiceConfig {
	if cfg.Provider == "" {
		cfg.Provider = s.defaultProvider
	}
	if cfg.Model == "" {
		cfg.Model = s.defaultModels[cfg.Provider]
	}
	return cfg
}

func (s *Service) timeout(cfg ai.ServiceConfig) time.Duration {
	if cfg.CacheTimeoutSeconds > 0 {
		return time.Duration(cfg.CacheTimeoutSeconds) * time.Second
	}
	return s.cacheTimeout
}

func (s *Service) countRequest() {
	s.metrics.requests.Inc()
	s.mu.Lock()
	s.requestCount++
	s.mu.Unlock()
}

func (s *Service) countError() {
	s.metrics.errors.Inc()
	s.mu.Lock()
	s.errorCount++
	s.mu.Unlock()
}

func notConfigured(p ai.Provider) *ai.Error {
	return ai.NewError(ai.CodeAuthentication, p, nil, "provider %s is not configured", p)
}
