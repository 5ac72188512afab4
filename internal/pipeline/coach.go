// Package pipeline runs one coaching exchange end to end: conversation
// memory, profile-aware system prompt, context window and generation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/edgecoach/internal/ai"
	"github.com/kalambet/edgecoach/internal/composer"
	"github.com/kalambet/edgecoach/internal/memory"
	"github.com/kalambet/edgecoach/internal/profile"
)

// DefaultUserID owns conversations created without a user id.
const DefaultUserID = "anonymous"

// ErrConversationNotFound is returned when ChatInput names a conversation
// that does not exist or belongs to another user.
var ErrConversationNotFound = errors.New("conversation not found")

// Generator is the generation surface of service.Service.
type Generator interface {
	Generate(ctx context.Context, msgs []ai.Message, cfg ai.ServiceConfig) (ai.Response, error)
	GenerateStreaming(ctx context.Context, msgs []ai.Message, cfg ai.ServiceConfig) (<-chan ai.StreamChunk, error)
}

// ChatInput is one inbound chat turn.
type ChatInput struct {
	// Messages, when set, are the new turns to send. Otherwise UserMessage
	// (optionally prefixed by Context) forms a single user turn.
	Messages    []ai.Message
	Context     string
	UserMessage string

	ConversationID string
	UserID         string
	SystemPrompt   string
	// Persist starts a new stored conversation when ConversationID is empty.
	Persist bool

	Config ai.ServiceConfig
}

// ContextInfo describes the context window that was sent.
type ContextInfo struct {
	TotalTokens   int  `json:"totalTokens"`
	WasSummarized bool `json:"wasSummarized"`
}

// ChatResult is the outcome of Coach.Chat.
type ChatResult struct {
	Response       ai.Response `json:"response"`
	ConversationID string      `json:"conversationId,omitempty"`
	Context        ContextInfo `json:"context"`
}

// StreamInfo describes a started stream.
type StreamInfo struct {
	ConversationID string      `json:"conversationId,omitempty"`
	Context        ContextInfo `json:"context"`
}

// Options configures a Coach.
type Options struct {
	Generator Generator
	// Memory may be nil, in which case every call is stateless.
	Memory *memory.Manager
	// Profiles may be nil, in which case no profile is injected.
	Profiles         *profile.Manager
	Window           *composer.WindowManager
	MaxContextTokens int
	// Defaults fills unset fields of ChatInput.Config.
	Defaults ai.ServiceConfig
}

// Coach ties the components of a coaching exchange together.
type Coach struct {
	gen       Generator
	memory    *memory.Manager
	profiles  *profile.Manager
	window    *composer.WindowManager
	maxTokens int
	defaults  ai.ServiceConfig
}

func NewCoach(opts Options) *Coach {
	c := &Coach{
		gen:       opts.Generator,
		memory:    opts.Memory,
		profiles:  opts.Profiles,
		window:    opts.Window,
		maxTokens: opts.MaxContextTokens,
		defaults:  opts.Defaults,
	}
	if c.window == nil {
		c.window = composer.NewWindowManager(0, 0)
	}
	if c.maxTokens <= 0 {
		c.maxTokens = 8000
	}
	return c
}

// exchange is the prepared state of one turn.
type exchange struct {
	conv    *memory.ConversationMemory
	turns   []ai.Message
	managed composer.ManagedContext
	cfg     ai.ServiceConfig
}

func (e *exchange) info() ContextInfo {
	return ContextInfo{TotalTokens: e.managed.TotalTokens, WasSummarized: e.managed.WasSummarized}
}

func (e *exchange) conversationID() string {
	if e.conv == nil {
		return ""
	}
	return e.conv.ConversationID
}

// Chat runs a non-streaming exchange. The conversation is updated only after
// generation succeeds.
func (c *Coach) Chat(ctx context.Context, in ChatInput) (ChatResult, error) {
	ex, err := c.prepare(in)
	if err != nil {
		return ChatResult{}, err
	}

	start := time.Now()
	resp, err := c.gen.Generate(ctx, ex.managed.Messages, ex.cfg)
	if err != nil {
		return ChatResult{}, err
	}
	c.record(ex, resp.Content, resp.Usage.TotalTokens, time.Since(start))

	return ChatResult{
		Response:       resp,
		ConversationID: ex.conversationID(),
		Context:        ex.info(),
	}, nil
}

// ChatStream runs a streaming exchange. Chunks are forwarded unchanged; the
// conversation is updated once the final chunk arrives. A stream that ends
// without a done chunk leaves the conversation untouched.
func (c *Coach) ChatStream(ctx context.Context, in ChatInput) (StreamInfo, <-chan ai.StreamChunk, error) {
	ex, err := c.prepare(in)
	if err != nil {
		return StreamInfo{}, nil, err
	}

	start := time.Now()
	upstream, err := c.gen.GenerateStreaming(ctx, ex.managed.Messages, ex.cfg)
	if err != nil {
		return StreamInfo{}, nil, err
	}

	out := make(chan ai.StreamChunk)
	go func() {
		defer close(out)
		var sb strings.Builder
		for chunk := range upstream {
			sb.WriteString(chunk.Content)
			if chunk.Done {
				tokens := 0
				if chunk.Usage != nil {
					tokens = chunk.Usage.TotalTokens
				}
				c.record(ex, sb.String(), tokens, time.Since(start))
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				for range upstream {
				}
				return
			}
		}
	}()

	return StreamInfo{ConversationID: ex.conversationID(), Context: ex.info()}, out, nil
}

func (c *Coach) prepare(in ChatInput) (*exchange, error) {
	turns, err := buildTurns(in)
	if err != nil {
		return nil, err
	}

	userID := in.UserID
	if userID == "" {
		userID = DefaultUserID
	}

	ex := &exchange{turns: turns, cfg: c.config(in.Config)}

	switch {
	case in.ConversationID != "":
		if c.memory == nil {
			return nil, ErrConversationNotFound
		}
		conv, err := c.memory.Load(in.ConversationID)
		if errors.Is(err, memory.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		if err != nil {
			return nil, err
		}
		if in.UserID != "" && conv.UserID != in.UserID {
			return nil, ErrConversationNotFound
		}
		userID = conv.UserID
		ex.conv = conv
	case in.Persist && c.memory != nil:
		ex.conv = c.memory.CreateNewConversation(userID)
		if p, ok := c.profile(userID); ok {
			ex.conv.UserProfile = memory.UserProfile{FocusAreas: p.FocusAreas, Stage: p.Stage}
		}
	}

	history := turns
	if ex.conv != nil {
		history = append(ex.conv.Messages(), turns...)
	}

	system := composer.BuildSystemPrompt(in.SystemPrompt, c.summary(userID))
	ex.managed = c.window.ManageContextWindow(system, history, c.maxTokens)
	return ex, nil
}

// record appends the exchange to the conversation and saves it.
func (c *Coach) record(ex *exchange, reply string, tokens int, elapsed time.Duration) {
	if ex.conv == nil {
		return
	}
	for _, m := range ex.turns {
		c.memory.AddMessage(ex.conv, m.Role, m.Content, 0)
	}
	c.memory.AddMessage(ex.conv, ai.RoleAssistant, reply, tokens)
	memory.RecordResponseTime(ex.conv, elapsed)
	memory.RecordInsights(ex.conv)

	if err := c.memory.Save(ex.conv); err != nil {
		slog.Error("failed to save conversation", "conversation_id", ex.conv.ConversationID, "error", err)
	}
}

func (c *Coach) config(cfg ai.ServiceConfig) ai.ServiceConfig {
	d := c.defaults
	if cfg.Provider == "" {
		cfg.Provider = d.Provider
	}
	if cfg.Model == "" && cfg.Provider == d.Provider {
		cfg.Model = d.Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = d.MaxTokens
	}
	if cfg.Temperature == nil {
		cfg.Temperature = d.Temperature
	}
	if cfg.EnableCaching == nil {
		cfg.EnableCaching = d.EnableCaching
	}
	if cfg.CacheTimeoutSeconds == 0 {
		cfg.CacheTimeoutSeconds = d.CacheTimeoutSeconds
	}
	return cfg
}

func (c *Coach) profile(userID string) (profile.Profile, bool) {
	if c.profiles == nil {
		return profile.Profile{}, false
	}
	p, err := c.profiles.GetProfile(userID)
	if err != nil {
		slog.Warn("failed to load profile", "user_id", userID, "error", err)
		return profile.Profile{}, false
	}
	return p, true
}

func (c *Coach) summary(userID string) string {
	if c.profiles == nil {
		return ""
	}
	s, err := c.profiles.GetSummary(userID)
	if err != nil {
		slog.Warn("failed to load profile summary", "user_id", userID, "error", err)
		return ""
	}
	return s
}

// buildTurns returns the new messages of this exchange.
func buildTurns(in ChatInput) ([]ai.Message, error) {
	if len(in.Messages) > 0 {
		return in.Messages, nil
	}
	msg := strings.TrimSpace(in.UserMessage)
	if msg == "" {
		return nil, ai.ValidationError("either messages or userMessage is required")
	}
	if ctxText := strings.TrimSpace(in.Context); ctxText != "" {
		msg = fmt.Sprintf("Context: %s\n\n%s", ctxText, msg)
	}
	return []ai.Message{{Role: ai.RoleUser, Content: msg}}, nil
}
