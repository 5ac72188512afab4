package composer

import (
	"strings"
	"unicode/utf8"

	"github.com/kalambet/edgecoach/internal/ai"
)

// DefaultSystemPrompt is the coaching persona used when the caller does not
// supply one.
const DefaultSystemPrompt = `You are an experienced personal growth coach. You help people find their edge, ` +
	`the place just outside their comfort zone where growth happens. Ask one clear question at a time, ` +
	`reflect back what you hear, and help the person name a concrete next step they are willing to commit to.`

// maxProfileChars caps the injected profile block at roughly 500 tokens.
const maxProfileChars = 2000

// BuildSystemPrompt merges the base prompt with a user profile summary. An
// empty base falls back to DefaultSystemPrompt.
func BuildSystemPrompt(base, profileSummary string) string {
	if strings.TrimSpace(base) == "" {
		base = DefaultSystemPrompt
	}
	profileSummary = strings.TrimSpace(profileSummary)
	if profileSummary == "" {
		return base
	}
	if len(profileSummary) > maxProfileChars {
		profileSummary = profileSummary[:maxProfileChars]
	}
	return "[Client Profile]\n" + profileSummary + "\n\n---\n\n" + base
}

// EstimateTokens approximates the token count of text at 4 characters
// (runes) per token, rounded up. It is not a tokenizer.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// EstimateMessagesTokens sums EstimateTokens over message contents.
func EstimateMessagesTokens(msgs []ai.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content)
	}
	return total
}
