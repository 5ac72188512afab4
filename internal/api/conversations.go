package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/edgecoach/internal/memory"
	"github.com/kalambet/edgecoach/internal/pipeline"
	"github.com/kalambet/edgecoach/internal/profile"
)

// ConversationSummary is the list view of a stored conversation.
type ConversationSummary struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	UpdatedAt      time.Time `json:"updatedAt"`
	TotalMessages  int       `json:"totalMessages"`
	KeyInsights    []string  `json:"keyInsights"`
}

func summarizeConversation(c *memory.ConversationMemory) ConversationSummary {
	insights := c.Summary.KeyInsights
	if insights == nil {
		insights = []string{}
	}
	return ConversationSummary{
		ConversationID: c.ConversationID,
		UserID:         c.UserID,
		UpdatedAt:      c.UpdatedAt,
		TotalMessages:  c.Summary.TotalMessages,
		KeyInsights:    insights,
	}
}

// listConversations returns the retained conversations, most recent first,
// optionally restricted to one user.
func listConversations(m *memory.Manager, userID string) ([]ConversationSummary, error) {
	ids, err := m.List()
	if err != nil {
		return nil, err
	}
	out := []ConversationSummary{}
	for _, id := range ids {
		c, err := m.Load(id)
		if errors.Is(err, memory.ErrNotFound) {
			slog.Warn("conversation listed but missing", "conversation_id", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if userID != "" && c.UserID != userID {
			continue
		}
		out = append(out, summarizeConversation(c))
	}
	return out, nil
}

func handleListConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := listConversations(deps.Memory, r.URL.Query().Get("userId"))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
	}
}

type createConversationRequest struct {
	UserID string `json:"userId"`
}

func handleCreateConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createConversationRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "validation_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			req.UserID = pipeline.DefaultUserID
		}

		conv := deps.Memory.CreateNewConversation(req.UserID)
		if deps.Profiles != nil {
			if p, err := deps.Profiles.GetProfile(req.UserID); err == nil {
				conv.UserProfile = memory.UserProfile{FocusAreas: p.FocusAreas, Stage: p.Stage}
			}
		}
		if err := deps.Memory.Save(conv); err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	}
}

func handleGetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := deps.Memory.Load(chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

func handleDeleteConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Memory.Load(id); err != nil {
			writeErr(w, r, err)
			return
		}
		if err := deps.Memory.Delete(id); err != nil {
			writeErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profiles.GetProfile(chi.URLParam(r, "userId"))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, normalizeProfile(p))
	}
}

func handlePatchProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		userID := chi.URLParam(r, "userId")

		var patch profile.Patch
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&patch); err != nil {
			httpError(w, http.StatusBadRequest, "validation_error", "invalid request body: %v", err)
			return
		}
		if err := deps.Profiles.Update(userID, patch); err != nil {
			httpError(w, http.StatusBadRequest, "validation_error", "%v", err)
			return
		}

		p, err := deps.Profiles.GetProfile(userID)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, normalizeProfile(p))
	}
}

// normalizeProfile renders empty lists as [] rather than null.
func normalizeProfile(p profile.Profile) profile.Profile {
	if p.FocusAreas == nil {
		p.FocusAreas = []string{}
	}
	if p.Goals == nil {
		p.Goals = []string{}
	}
	return p
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Service.Stats())
	}
}

func handleClearCache(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Service.ClearCache()
		w.WriteHeader(http.StatusNoContent)
	}
}
