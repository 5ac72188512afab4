// Package memory keeps the per-conversation record of a coaching thread: a
// bounded window of recent messages, running totals and extracted insights.
package memory

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/edgecoach/internal/ai"
)

const (
	// MaxRecentMessages bounds ConversationMemory.RecentMessages.
	MaxRecentMessages = 20
	idSuffixLen       = 9
)

// Clock abstracts time.Now for testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// UserProfile is the profile snapshot taken when a conversation starts.
type UserProfile struct {
	FocusAreas []string `json:"focusAreas"`
	Stage      string   `json:"stage,omitempty"`
}

type Summary struct {
	TotalMessages int      `json:"totalMessages"`
	KeyInsights   []string `json:"keyInsights"`
	Commitments   []string `json:"commitments"`
	Breakthroughs []string `json:"breakthroughs"`
}

type Metadata struct {
	TotalTokensUsed int `json:"totalTokensUsed"`
	// AvgResponseTime is the mean assistant latency in milliseconds.
	AvgResponseTime float64 `json:"avgResponseTime"`
	ResponseCount   int     `json:"responseCount"`
}

// Message is a stored conversation turn.
type Message struct {
	Role      ai.Role   `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationMemory is the persisted state of one conversation. It belongs
// to exactly one user.
type ConversationMemory struct {
	UserID         string      `json:"userId"`
	ConversationID string      `json:"conversationId"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
	UserProfile    UserProfile `json:"userProfile"`
	Summary        Summary     `json:"summary"`
	RecentMessages []Message   `json:"recentMessages"`
	Metadata       Metadata    `json:"metadata"`
}

// Messages returns the recent turns in provider-agnostic form.
func (c *ConversationMemory) Messages() []ai.Message {
	out := make([]ai.Message, len(c.RecentMessages))
	for i, m := range c.RecentMessages {
		out[i] = ai.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// CreateNewConversation returns an empty conversation for userID with a fresh
// id of the form conv_<unix millis>_<random base36>.
func (m *Manager) CreateNewConversation(userID string) *ConversationMemory {
	now := m.clock.Now()
	return &ConversationMemory{
		UserID:         userID,
		ConversationID: newConversationID(now),
		CreatedAt:      now,
		UpdatedAt:      now,
		UserProfile:    UserProfile{FocusAreas: []string{}},
		Summary: Summary{
			KeyInsights:   []string{},
			Commitments:   []string{},
			Breakthroughs: []string{},
		},
		RecentMessages: []Message{},
	}
}

// AddMessage appends a turn, accumulates tokensUsed and trims the recent
// window to the last MaxRecentMessages entries.
func (m *Manager) AddMessage(conv *ConversationMemory, role ai.Role, content string, tokensUsed int) {
	now := m.clock.Now()
	conv.RecentMessages = append(conv.RecentMessages, Message{Role: role, Content: content, Timestamp: now})
	if n := len(conv.RecentMessages); n > MaxRecentMessages {
		conv.RecentMessages = append([]Message(nil), conv.RecentMessages[n-MaxRecentMessages:]...)
	}
	conv.Summary.TotalMessages++
	conv.Metadata.TotalTokensUsed += tokensUsed
	conv.UpdatedAt = now
}

// RecordResponseTime folds d into the rolling average response time.
func RecordResponseTime(conv *ConversationMemory, d time.Duration) {
	md := &conv.Metadata
	ms := float64(d) / float64(time.Millisecond)
	md.ResponseCount++
	md.AvgResponseTime += (ms - md.AvgResponseTime) / float64(md.ResponseCount)
}

func newConversationID(now time.Time) string {
	var sb strings.Builder
	sb.WriteString("conv_")
	sb.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	sb.WriteByte('_')
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	for range idSuffixLen {
		sb.WriteByte(digits[rand.IntN(len(digits))])
	}
	return sb.String()
}
