package composer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/edgecoach/internal/ai"
)

const (
	defaultRecentPairs      = 4
	defaultSummaryMaxTokens = 500
	defaultTheme            = "personal development"
)

// theme is a keyword group used to label summarized history.
type theme struct {
	label    string
	keywords []string
}

// themes is matched in order; the summary lists labels in this order.
var themes = []theme{
	{"edge work and fear", []string{"fear", "edge"}},
	{"fitness", []string{"fitness", "workout", "exercise"}},
	{"relationships", []string{"relationship", "partner", "dating"}},
	{"money", []string{"money", "finance", "income"}},
	{"mindset", []string{"mindset", "belief", "confidence"}},
	{"health", []string{"health", "sleep", "energy"}},
}

// ManagedContext is the bounded message list produced for one request.
type ManagedContext struct {
	Messages      []ai.Message `json:"messages"`
	TotalTokens   int          `json:"totalTokens"`
	WasSummarized bool         `json:"wasSummarized"`
	SummaryUsed   string       `json:"summaryUsed,omitempty"`
}

// WindowManager keeps conversation history inside a token budget by
// replacing older turns with a keyword summary.
type WindowManager struct {
	// RecentPairs is the number of user/assistant exchanges kept verbatim.
	RecentPairs int
	// SummaryMaxTokens is the advisory size of the summary. Summaries that
	// exceed it are logged, not truncated.
	SummaryMaxTokens int
}

// NewWindowManager returns a WindowManager. Non-positive values select the
// defaults (4 pairs, 500 tokens).
func NewWindowManager(recentPairs, summaryMaxTokens int) *WindowManager {
	if recentPairs <= 0 {
		recentPairs = defaultRecentPairs
	}
	if summaryMaxTokens <= 0 {
		summaryMaxTokens = defaultSummaryMaxTokens
	}
	return &WindowManager{RecentPairs: recentPairs, SummaryMaxTokens: summaryMaxTokens}
}

// ManageContextWindow builds the message list for a provider call. When the
// history fits in maxTotalTokens minus the system prompt it is returned
// unchanged. Otherwise the last RecentPairs*2 messages are kept verbatim and
// everything before them is replaced by one assistant summary message.
//
// Recent messages are never dropped or split, so an oversized recent tail can
// leave the result over budget. When the whole history is recent there is
// nothing to summarize and no summary message is added.
func (w *WindowManager) ManageContextWindow(systemPrompt string, msgs []ai.Message, maxTotalTokens int) ManagedContext {
	systemTokens := EstimateTokens(systemPrompt)
	available := maxTotalTokens - systemTokens

	var head []ai.Message
	if systemPrompt != "" {
		head = append(head, ai.Message{Role: ai.RoleSystem, Content: systemPrompt})
	}

	historyTokens := EstimateMessagesTokens(msgs)
	if historyTokens <= available {
		out := append(head, msgs...)
		return ManagedContext{
			Messages:    out,
			TotalTokens: systemTokens + historyTokens,
		}
	}

	keep := min(w.RecentPairs*2, len(msgs))
	older, recent := msgs[:len(msgs)-keep], msgs[len(msgs)-keep:]

	out := head
	var summary string
	summaryTokens := 0
	if len(older) > 0 {
		summary = summarize(older)
		summaryTokens = EstimateTokens(summary)
		if summaryTokens > w.SummaryMaxTokens {
			slog.Debug("context summary exceeds budget", "tokens", summaryTokens, "budget", w.SummaryMaxTokens)
		}
		out = append(out, ai.Message{Role: ai.RoleAssistant, Content: summary})
	}
	out = append(out, recent...)

	total := systemTokens + summaryTokens + EstimateMessagesTokens(recent)
	if total > maxTotalTokens {
		slog.Debug("recent messages exceed context budget", "total_tokens", total, "budget", maxTotalTokens)
	}
	slog.Debug("context window summarized",
		"older_messages", len(older),
		"kept_messages", len(recent),
		"total_tokens", total,
	)

	return ManagedContext{
		Messages:      out,
		TotalTokens:   total,
		WasSummarized: true,
		SummaryUsed:   summary,
	}
}

// summarize produces the fixed-shape summary of older messages. The topic
// count is the number of user turns.
func summarize(older []ai.Message) string {
	topics := 0
	var sb strings.Builder
	for _, m := range older {
		if m.Role == ai.RoleUser {
			topics++
		}
		sb.WriteString(strings.ToLower(m.Content))
		sb.WriteByte('\n')
	}
	if topics == 0 {
		topics = len(older)
	}
	return fmt.Sprintf("Previous conversation summary: We discussed %d topics including %s.",
		topics, strings.Join(DetectThemes(sb.String()), ", "))
}

// DetectThemes returns the theme labels whose keywords occur in text, or the
// default theme when none match.
func DetectThemes(text string) []string {
	text = strings.ToLower(text)
	var found []string
	for _, th := range themes {
		for _, kw := range th.keywords {
			if strings.Contains(text, kw) {
				found = append(found, th.label)
				break
			}
		}
	}
	if len(found) == 0 {
		return []string{defaultTheme}
	}
	return found
}
