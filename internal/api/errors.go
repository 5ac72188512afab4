package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kalambet/edgecoach/internal/ai"
	"github.com/kalambet/edgecoach/internal/memory"
	"github.com/kalambet/edgecoach/internal/pipeline"
)

// errorBody is the JSON error envelope of every failed request.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message   string      `json:"message"`
	Type      string      `json:"type"`
	Code      string      `json:"code,omitempty"`
	Provider  ai.Provider `json:"provider,omitempty"`
	Retryable bool        `json:"retryable"`
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeError(w, code, errorDetail{Message: fmt.Sprintf(format, args...), Type: errType})
}

func writeError(w http.ResponseWriter, status int, detail errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: detail})
}

// aiErrorStatus maps a normalized error code to an HTTP status.
func aiErrorStatus(code ai.Code) int {
	switch code {
	case ai.CodeValidation:
		return http.StatusBadRequest
	case ai.CodeRateLimit:
		return http.StatusTooManyRequests
	case ai.CodeAuthentication, ai.CodeModel:
		return http.StatusBadGateway
	case ai.CodeNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorDetailFor builds the client-facing description of err. Authentication
// failures never echo provider detail.
func errorDetailFor(err error) (int, errorDetail) {
	var aiErr *ai.Error
	switch {
	case errors.As(err, &aiErr):
		msg := aiErr.Message
		if aiErr.Code == ai.CodeAuthentication {
			msg = "the AI provider rejected or is missing credentials"
		}
		return aiErrorStatus(aiErr.Code), errorDetail{
			Message:   msg,
			Type:      strings.ToLower(string(aiErr.Code)),
			Code:      string(aiErr.Code),
			Provider:  aiErr.Provider,
			Retryable: aiErr.Retryable(),
		}
	case errors.Is(err, pipeline.ErrConversationNotFound), errors.Is(err, memory.ErrNotFound):
		return http.StatusNotFound, errorDetail{Message: "conversation not found", Type: "not_found_error"}
	default:
		return http.StatusInternalServerError, errorDetail{Message: "internal error", Type: "api_error"}
	}
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := errorDetailFor(err)
	if status >= 500 {
		slog.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		slog.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, detail)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
