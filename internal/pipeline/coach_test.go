package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/edgecoach/internal/ai"
	"github.com/kalambet/edgecoach/internal/composer"
	"github.com/kalambet/edgecoach/internal/memory"
	"github.com/kalambet/edgecoach/internal/profile"
)

// mockGenerator records what it was sent and replies from a script.
type mockGenerator struct {
	mu       sync.Mutex
	reply    string
	err      error
	chunks   []ai.StreamChunk
	received [][]ai.Message
	configs  []ai.ServiceConfig
}

func (g *mockGenerator) Generate(ctx context.Context, msgs []ai.Message, cfg ai.ServiceConfig) (ai.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.received = append(g.received, msgs)
	g.configs = append(g.configs, cfg)
	if g.err != nil {
		return ai.Response{}, g.err
	}
	return ai.Response{
		Content:  g.reply,
		Provider: ai.ProviderAnthropic,
		Usage:    ai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (g *mockGenerator) GenerateStreaming(ctx context.Context, msgs []ai.Message, cfg ai.ServiceConfig) (<-chan ai.StreamChunk, error) {
	g.mu.Lock()
	g.received = append(g.received, msgs)
	g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	ch := make(chan ai.StreamChunk, len(g.chunks))
	for _, c := range g.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (g *mockGenerator) last() []ai.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.received[len(g.received)-1]
}

type fixture struct {
	coach    *Coach
	gen      *mockGenerator
	memory   *memory.Manager
	profiles *profile.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gen := &mockGenerator{reply: "What would it look like to commit to one step?"}
	mem := memory.NewManager(memory.NewInMemoryBackend())
	profiles := profile.NewManager(profile.NewInMemoryStore())
	return &fixture{
		coach: NewCoach(Options{
			Generator:        gen,
			Memory:           mem,
			Profiles:         profiles,
			MaxContextTokens: 8000,
		}),
		gen:      gen,
		memory:   mem,
		profiles: profiles,
	}
}

func TestChat_Stateless(t *testing.T) {
	f := newFixture(t)

	res, err := f.coach.Chat(context.Background(), ChatInput{UserMessage: "I feel stuck"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.ConversationID != "" {
		t.Errorf("stateless chat returned conversation id %q", res.ConversationID)
	}
	sent := f.gen.last()
	if len(sent) != 2 || sent[0].Role != ai.RoleSystem || sent[1].Content != "I feel stuck" {
		t.Errorf("unexpected messages sent: %+v", sent)
	}
	if sent[0].Content != composer.DefaultSystemPrompt {
		t.Errorf("expected default system prompt, got %q", sent[0].Content)
	}
	ids, _ := f.memory.List()
	if len(ids) != 0 {
		t.Errorf("stateless chat stored conversations: %v", ids)
	}
	if res.Context.TotalTokens == 0 || res.Context.WasSummarized {
		t.Errorf("Context = %+v", res.Context)
	}
}

func TestChat_ContextAndUserMessage(t *testing.T) {
	f := newFixture(t)

	f.coach.Chat(context.Background(), ChatInput{Context: "Training for a race", UserMessage: "I skipped a run"})
	sent := f.gen.last()
	if got := sent[len(sent)-1].Content; got != "Context: Training for a race\n\nI skipped a run" {
		t.Errorf("assembled message = %q", got)
	}
}

func TestChat_RequiresMessage(t *testing.T) {
	f := newFixture(t)

	_, err := f.coach.Chat(context.Background(), ChatInput{UserMessage: "   "})
	if !ai.IsCode(err, ai.CodeValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(f.gen.received) != 0 {
		t.Error("generator must not be called")
	}
}

func TestChat_PersistsConversation(t *testing.T) {
	f := newFixture(t)

	res, err := f.coach.Chat(context.Background(), ChatInput{UserID: "u1", UserMessage: "I'm scared to speak up", Persist: true})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.ConversationID == "" {
		t.Fatal("expected a conversation id")
	}

	conv, err := f.memory.Load(res.ConversationID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if conv.UserID != "u1" || len(conv.RecentMessages) != 2 {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	if conv.RecentMessages[1].Content != f.gen.reply || conv.Metadata.TotalTokensUsed != 15 {
		t.Errorf("assistant turn not recorded: %+v", conv)
	}
	if len(conv.Summary.Commitments) != 1 {
		t.Errorf("Commitments = %q", conv.Summary.Commitments)
	}
	if conv.Metadata.ResponseCount != 1 {
		t.Errorf("ResponseCount = %d", conv.Metadata.ResponseCount)
	}

	// Second turn continues the same conversation with history.
	if _, err := f.coach.Chat(context.Background(), ChatInput{ConversationID: res.ConversationID, UserMessage: "ok"}); err != nil {
		t.Fatalf("Chat (continue): %v", err)
	}
	sent := f.gen.last()
	if len(sent) != 4 || sent[1].Content != "I'm scared to speak up" || sent[3].Content != "ok" {
		t.Errorf("history not sent: %+v", sent)
	}
	conv, _ = f.memory.Load(res.ConversationID)
	if conv.Summary.TotalMessages != 4 {
		t.Errorf("TotalMessages = %d, want 4", conv.Summary.TotalMessages)
	}
}

func TestChat_FailureAppendsNothing(t *testing.T) {
	f := newFixture(t)
	res, _ := f.coach.Chat(context.Background(), ChatInput{UserID: "u1", UserMessage: "hi", Persist: true})

	f.gen.err = ai.NewError(ai.CodeNetwork, ai.ProviderOpenAI, nil, "down")
	_, err := f.coach.Chat(context.Background(), ChatInput{ConversationID: res.ConversationID, UserMessage: "again"})
	if !ai.IsCode(err, ai.CodeNetwork) {
		t.Fatalf("expected NetworkError, got %v", err)
	}

	conv, _ := f.memory.Load(res.ConversationID)
	if len(conv.RecentMessages) != 2 {
		t.Errorf("failed exchange was recorded: %d messages", len(conv.RecentMessages))
	}
}

func TestChat_FailureOnNewConversationStoresNothing(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("boom")

	if _, err := f.coach.Chat(context.Background(), ChatInput{UserMessage: "hi", Persist: true}); err == nil {
		t.Fatal("expected error")
	}
	ids, _ := f.memory.List()
	if len(ids) != 0 {
		t.Errorf("conversation stored despite failure: %v", ids)
	}
}

func TestChat_UnknownConversation(t *testing.T) {
	f := newFixture(t)

	_, err := f.coach.Chat(context.Background(), ChatInput{ConversationID: "conv_nope", UserMessage: "hi"})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestChat_OtherUsersConversation(t *testing.T) {
	f := newFixture(t)
	res, _ := f.coach.Chat(context.Background(), ChatInput{UserID: "alice", UserMessage: "hi", Persist: true})

	_, err := f.coach.Chat(context.Background(), ChatInput{UserID: "bob", ConversationID: res.ConversationID, UserMessage: "hi"})
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestChat_ProfileInjected(t *testing.T) {
	f := newFixture(t)
	f.profiles.SetField("u1", profile.KeyFocusAreas, []string{"fitness"})
	f.profiles.SetField("u1", profile.KeyStage, "exploring")

	res, err := f.coach.Chat(context.Background(), ChatInput{UserID: "u1", UserMessage: "hi", Persist: true, SystemPrompt: "Be brief."})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	system := f.gen.last()[0].Content
	if !strings.HasPrefix(system, "[Client Profile]\nFocus areas: fitness.") || !strings.HasSuffix(system, "Be brief.") {
		t.Errorf("system prompt = %q", system)
	}

	conv, _ := f.memory.Load(res.ConversationID)
	if conv.UserProfile.Stage != "exploring" || len(conv.UserProfile.FocusAreas) != 1 {
		t.Errorf("profile snapshot = %+v", conv.UserProfile)
	}
}

func TestChat_DefaultsApplied(t *testing.T) {
	gen := &mockGenerator{reply: "x"}
	temp := 0.2
	coach := NewCoach(Options{
		Generator: gen,
		Defaults:  ai.ServiceConfig{Provider: ai.ProviderOpenAI, Model: "gpt-4o", MaxTokens: 512, Temperature: &temp},
	})

	coach.Chat(context.Background(), ChatInput{UserMessage: "hi"})
	coach.Chat(context.Background(), ChatInput{UserMessage: "hi", Config: ai.ServiceConfig{Provider: ai.ProviderAnthropic, MaxTokens: 100}})

	first, second := gen.configs[0], gen.configs[1]
	if first.Provider != ai.ProviderOpenAI || first.Model != "gpt-4o" || first.MaxTokens != 512 || *first.Temperature != 0.2 {
		t.Errorf("defaults not applied: %+v", first)
	}
	if second.Provider != ai.ProviderAnthropic || second.Model != "" || second.MaxTokens != 100 {
		t.Errorf("explicit values overridden: %+v", second)
	}
}

func TestChat_LongHistorySummarized(t *testing.T) {
	f := newFixture(t)
	f.coach = NewCoach(Options{Generator: f.gen, Memory: f.memory, MaxContextTokens: 200})

	res, _ := f.coach.Chat(context.Background(), ChatInput{UserMessage: strings.Repeat("my workout plan ", 20), Persist: true})
	var last ChatResult
	for range 5 {
		last, _ = f.coach.Chat(context.Background(), ChatInput{ConversationID: res.ConversationID, UserMessage: strings.Repeat("word ", 30)})
	}
	if !last.Context.WasSummarized {
		t.Fatal("expected the context to be summarized")
	}
	sent := f.gen.last()
	if !strings.Contains(sent[1].Content, "fitness") {
		t.Errorf("summary message = %q", sent[1].Content)
	}
}

func TestChatStream_RecordsOnDone(t *testing.T) {
	f := newFixture(t)
	f.gen.chunks = []ai.StreamChunk{
		{Content: "You will "},
		{Content: "grow."},
		{Done: true, Usage: &ai.Usage{TotalTokens: 7}},
	}

	info, ch, err := f.coach.ChatStream(context.Background(), ChatInput{UserID: "u1", UserMessage: "hi", Persist: true})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	var text string
	for c := range ch {
		text += c.Content
	}
	if text != "You will grow." {
		t.Errorf("streamed text = %q", text)
	}

	conv, err := f.memory.Load(info.ConversationID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(conv.RecentMessages) != 2 || conv.RecentMessages[1].Content != "You will grow." {
		t.Errorf("stream not recorded: %+v", conv.RecentMessages)
	}
	if conv.Metadata.TotalTokensUsed != 7 {
		t.Errorf("TotalTokensUsed = %d", conv.Metadata.TotalTokensUsed)
	}
}

func TestChatStream_ErrorNotRecorded(t *testing.T) {
	f := newFixture(t)
	res, _ := f.coach.Chat(context.Background(), ChatInput{UserMessage: "hi", Persist: true})

	f.gen.chunks = []ai.StreamChunk{
		{Content: "partial"},
		{Err: ai.NewError(ai.CodeNetwork, ai.ProviderAnthropic, nil, "reset")},
	}
	_, ch, err := f.coach.ChatStream(context.Background(), ChatInput{ConversationID: res.ConversationID, UserMessage: "more"})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	var sawErr bool
	for c := range ch {
		sawErr = sawErr || c.Err != nil
	}
	if !sawErr {
		t.Error("expected the error chunk to be forwarded")
	}

	conv, _ := f.memory.Load(res.ConversationID)
	if len(conv.RecentMessages) != 2 {
		t.Errorf("interrupted stream was recorded: %d messages", len(conv.RecentMessages))
	}
}

func TestChatStream_StartError(t *testing.T) {
	f := newFixture(t)
	f.gen.err = ai.ValidationError("bad")

	if _, _, err := f.coach.ChatStream(context.Background(), ChatInput{UserMessage: "hi"}); !ai.IsCode(err, ai.CodeValidation) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}
