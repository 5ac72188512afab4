package composer

import (
	"strings"
	"testing"

	"github.com/kalambet/edgecoach/internal/ai"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
		{"héllo wörld", 3},
		{strings.Repeat("ж", 8), 2},
		{"日本語の文", 2},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestEstimateTokens_Monotonic(t *testing.T) {
	prev := 0
	for n := 0; n <= 64; n++ {
		got := EstimateTokens(strings.Repeat("a", n))
		if got < prev {
			t.Fatalf("EstimateTokens not monotonic at length %d: %d < %d", n, got, prev)
		}
		if again := EstimateTokens(strings.Repeat("a", n)); again != got {
			t.Fatalf("EstimateTokens not deterministic at length %d", n)
		}
		prev = got
	}
}

func TestEstimateMessagesTokens(t *testing.T) {
	msgs := []ai.Message{
		{Role: ai.RoleUser, Content: "abcd"},
		{Role: ai.RoleAssistant, Content: "abcdefgh"},
		{Role: ai.RoleUser, Content: "a"},
	}
	if got := EstimateMessagesTokens(msgs); got != 4 {
		t.Errorf("EstimateMessagesTokens = %d, want 4", got)
	}
}

func TestBuildSystemPrompt_Default(t *testing.T) {
	if got := BuildSystemPrompt("", ""); got != DefaultSystemPrompt {
		t.Errorf("expected default prompt, got %q", got)
	}
}

func TestBuildSystemPrompt_ProfileInjected(t *testing.T) {
	got := BuildSystemPrompt("Be direct.", "Focus: fitness, money.")
	if !strings.HasPrefix(got, "[Client Profile]\nFocus: fitness, money.") {
		t.Errorf("profile block missing: %q", got)
	}
	if !strings.HasSuffix(got, "Be direct.") {
		t.Errorf("base prompt should come last: %q", got)
	}
}

func TestBuildSystemPrompt_ProfileCapped(t *testing.T) {
	got := BuildSystemPrompt("base", strings.Repeat("p", 5000))
	if strings.Count(got, "p") > maxProfileChars {
		t.Errorf("profile block not capped: %d chars", strings.Count(got, "p"))
	}
}
