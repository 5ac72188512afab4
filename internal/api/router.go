// Package api exposes the coach over HTTP and MCP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/edgecoach/internal/ai"
	"github.com/kalambet/edgecoach/internal/memory"
	"github.com/kalambet/edgecoach/internal/pipeline"
	"github.com/kalambet/edgecoach/internal/profile"
	"github.com/kalambet/edgecoach/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Coach runs chat exchanges. Implemented by pipeline.Coach.
type Coach interface {
	Chat(ctx context.Context, in pipeline.ChatInput) (pipeline.ChatResult, error)
	ChatStream(ctx context.Context, in pipeline.ChatInput) (pipeline.StreamInfo, <-chan ai.StreamChunk, error)
}

// StatsService exposes service diagnostics. Implemented by service.Service.
type StatsService interface {
	Stats() service.Stats
	ClearCache()
}

type Deps struct {
	Coach    Coach
	Service  StatsService
	Memory   *memory.Manager
	Profiles *profile.Manager
	Token    string
	// Metrics serves /metrics when non-nil.
	Metrics http.Handler
	// RequestTimeout bounds non-streaming routes. Zero means 30s.
	RequestTimeout time.Duration
}

// NewHandler returns the HTTP API. /health and /metrics are public; every
// /v1 route requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		// Streams are bounded by the provider's streaming deadline instead.
		r.Post("/chat/stream", handleChatStream(deps))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))

			r.Post("/chat", handleChat(deps))

			r.Get("/conversations", handleListConversations(deps))
			r.Post("/conversations", handleCreateConversation(deps))
			r.Get("/conversations/{id}", handleGetConversation(deps))
			r.Delete("/conversations/{id}", handleDeleteConversation(deps))

			r.Get("/profile/{userId}", handleGetProfile(deps))
			r.Patch("/profile/{userId}", handlePatchProfile(deps))

			r.Get("/stats", handleStats(deps))
			r.Delete("/cache", handleClearCache(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
