package memory

import (
	"regexp"
	"strings"

	"github.com/kalambet/edgecoach/internal/ai"
)

// MaxInsights bounds the result of ExtractInsights.
const MaxInsights = 5

var (
	sentenceRe     = regexp.MustCompile(`[^.!?\n]+[.!?]*`)
	growthRe       = regexp.MustCompile(`(?i)\b(edge|growth|comfort zone|breakthrough)`)
	commitmentRe   = regexp.MustCompile(`(?i)\b(commit to|will|going to|plan to)\b`)
	breakthroughRe = regexp.MustCompile(`(?i)\bbreakthrough`)
)

// ExtractInsights scans assistant turns for sentences about growth edges or
// commitments and returns up to MaxInsights of them, deduplicated, in
// conversation order. It does not modify conv.
func ExtractInsights(conv *ConversationMemory) []string {
	insights := []string{}
	seen := make(map[string]bool)
	for _, m := range conv.RecentMessages {
		if m.Role != ai.RoleAssistant {
			continue
		}
		for _, s := range sentenceRe.FindAllString(m.Content, -1) {
			s = strings.TrimSpace(s)
			if s == "" || seen[s] {
				continue
			}
			if !growthRe.MatchString(s) && !commitmentRe.MatchString(s) {
				continue
			}
			seen[s] = true
			insights = append(insights, s)
			if len(insights) == MaxInsights {
				return insights
			}
		}
	}
	return insights
}

// RecordInsights stores the current insights in conv.Summary, sorting
// commitment and breakthrough sentences into their own lists.
func RecordInsights(conv *ConversationMemory) {
	insights := ExtractInsights(conv)
	commitments := []string{}
	breakthroughs := []string{}
	for _, s := range insights {
		if commitmentRe.MatchString(s) {
			commitments = append(commitments, s)
		}
		if breakthroughRe.MatchString(s) {
			breakthroughs = append(breakthroughs, s)
		}
	}
	conv.Summary.KeyInsights = insights
	conv.Summary.Commitments = commitments
	conv.Summary.Breakthroughs = breakthroughs
}
