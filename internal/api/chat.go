package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/edgecoach/internal/ai"
	"github.com/kalambet/edgecoach/internal/pipeline"
)

// ChatRequest is the body of POST /v1/chat and /v1/chat/stream. Provider
// credentials are never accepted here; unknown fields are rejected.
type ChatRequest struct {
	Messages       []ai.Message `json:"messages,omitempty"`
	Context        string       `json:"context,omitempty"`
	UserMessage    string       `json:"userMessage,omitempty"`
	ConversationID string       `json:"conversationId,omitempty"`
	UserID         string       `json:"userId,omitempty"`
	SystemPrompt   string       `json:"systemPrompt,omitempty"`
	// Persist starts a stored conversation when ConversationID is empty.
	Persist       bool     `json:"persist,omitempty"`
	Provider      string   `json:"provider,omitempty"`
	Model         string   `json:"model,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	MaxTokens     int      `json:"maxTokens,omitempty"`
	EnableCaching *bool    `json:"enableCaching,omitempty"`
}

// input converts the request into a pipeline call.
func (req ChatRequest) input() (pipeline.ChatInput, error) {
	in := pipeline.ChatInput{
		Messages:       req.Messages,
		Context:        req.Context,
		UserMessage:    req.UserMessage,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		SystemPrompt:   req.SystemPrompt,
		Persist:        req.Persist,
		Config: ai.ServiceConfig{
			Model:         req.Model,
			MaxTokens:     req.MaxTokens,
			Temperature:   req.Temperature,
			EnableCaching: req.EnableCaching,
		},
	}
	if req.Provider != "" {
		p, err := ai.ParseProvider(req.Provider)
		if err != nil {
			return pipeline.ChatInput{}, ai.ValidationError("%v", err)
		}
		in.Config.Provider = p
	}
	if req.MaxTokens < 0 {
		return pipeline.ChatInput{}, ai.ValidationError("maxTokens must not be negative")
	}
	if t := req.Temperature; t != nil && (*t < 0 || *t > 2) {
		return pipeline.ChatInput{}, ai.ValidationError("temperature must be between 0 and 2")
	}
	return in, nil
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (pipeline.ChatInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req ChatRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "validation_error", "invalid request body: %v", err)
		return pipeline.ChatInput{}, false
	}
	in, err := req.input()
	if err != nil {
		writeErr(w, r, err)
		return pipeline.ChatInput{}, false
	}
	return in, true
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, ok := decodeChatRequest(w, r)
		if !ok {
			return
		}

		res, err := deps.Coach.Chat(r.Context(), in)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		slog.Debug("chat completed",
			"request_id", middleware.GetReqID(r.Context()),
			"provider", res.Response.Provider,
			"cached", res.Response.Cached,
			"conversation_id", res.ConversationID,
		)
		writeJSON(w, http.StatusOK, res)
	}
}

func handleChatStream(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		in, ok := decodeChatRequest(w, r)
		if !ok {
			return
		}

		info, chunks, err := deps.Coach.ChatStream(r.Context(), in)
		if err != nil {
			writeErr(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		if info.ConversationID != "" {
			w.Header().Set("X-Conversation-Id", info.ConversationID)
		}
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		done := false
		for chunk := range chunks {
			if chunk.Err != nil {
				writeStreamError(w, chunk.Err)
				flusher.Flush()
				continue
			}
			payload, err := json.Marshal(chunk)
			if err != nil {
				slog.Error("failed to marshal stream chunk", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			if chunk.Done {
				done = true
				fmt.Fprint(w, "data: [DONE]\n\n")
			}
			flusher.Flush()
		}

		if !done && r.Context().Err() == nil {
			slog.Warn("stream ended without completion", "request_id", middleware.GetReqID(r.Context()))
		}
	}
}

// writeStreamError sends an error frame. The stream then closes without the
// [DONE] sentinel.
func writeStreamError(w http.ResponseWriter, err error) {
	_, detail := errorDetailFor(err)
	payload, marshalErr := json.Marshal(errorBody{Error: detail})
	if marshalErr != nil {
		slog.Error("failed to marshal stream error payload", "error", marshalErr)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
