package profile

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// --- Mock store ---

type mockStore struct {
	*InMemoryStore

	mu          sync.Mutex
	getAllCalls int
}

func newMockStore() *mockStore {
	return &mockStore{InMemoryStore: NewInMemoryStore()}
}

func (m *mockStore) GetAllProfileKeys(userID string) (map[string]string, error) {
	m.mu.Lock()
	m.getAllCalls++
	m.mu.Unlock()
	return m.InMemoryStore.GetAllProfileKeys(userID)
}

func (m *mockStore) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getAllCalls
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

func TestGetProfile_Empty(t *testing.T) {
	mgr := NewManager(newMockStore())

	p, err := mgr.GetProfile("u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.IsEmpty() {
		t.Errorf("expected empty profile, got %+v", p)
	}
}

func TestSetAndGetField(t *testing.T) {
	mgr := NewManager(newMockStore())

	if err := mgr.SetField("u1", KeyTone, "direct"); err != nil {
		t.Fatalf("SetField error: %v", err)
	}
	if err := mgr.SetField("u1", KeyFocusAreas, "fitness, relationships"); err != nil {
		t.Fatalf("SetField error: %v", err)
	}
	if err := mgr.SetField("u1", KeyGoals, []string{"run a marathon"}); err != nil {
		t.Fatalf("SetField error: %v", err)
	}

	p, err := mgr.GetProfile("u1")
	if err != nil {
		t.Fatalf("GetProfile error: %v", err)
	}
	if p.Tone != "direct" {
		t.Errorf("expected tone %q, got %q", "direct", p.Tone)
	}
	if len(p.FocusAreas) != 2 || p.FocusAreas[1] != "relationships" {
		t.Errorf("FocusAreas = %v", p.FocusAreas)
	}
	if len(p.Goals) != 1 || p.Goals[0] != "run a marathon" {
		t.Errorf("Goals = %v", p.Goals)
	}

	other, _ := mgr.GetProfile("u2")
	if !other.IsEmpty() {
		t.Errorf("profiles leaked across users: %+v", other)
	}
}

func TestSetField_JSONList(t *testing.T) {
	mgr := NewManager(newMockStore())

	if err := mgr.SetField("u1", KeyFocusAreas, `["money","mindset"]`); err != nil {
		t.Fatalf("SetField error: %v", err)
	}
	p, _ := mgr.GetProfile("u1")
	if len(p.FocusAreas) != 2 || p.FocusAreas[0] != "money" {
		t.Errorf("FocusAreas = %v", p.FocusAreas)
	}

	if err := mgr.SetField("u1", KeyFocusAreas, `["broken`); err == nil {
		t.Error("expected error for malformed JSON array")
	}
}

func TestSetField_EmptyRemoves(t *testing.T) {
	mgr := NewManager(newMockStore())

	mgr.SetField("u1", KeyStage, "exploring")
	if err := mgr.SetField("u1", KeyStage, ""); err != nil {
		t.Fatalf("SetField error: %v", err)
	}
	p, _ := mgr.GetProfile("u1")
	if p.Stage != "" {
		t.Errorf("Stage = %q, want removed", p.Stage)
	}
}

func TestSetField_Invalid(t *testing.T) {
	mgr := NewManager(newMockStore())

	tests := []struct {
		name   string
		userID string
		key    string
		value  any
	}{
		{"unknown key", "u1", "identity.role", "x"},
		{"missing user", "", KeyTone, "x"},
		{"wrong type", "u1", KeyStage, []string{"x"}},
		{"wrong list type", "u1", KeyGoals, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := mgr.SetField(tt.userID, tt.key, tt.value); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestUpdate(t *testing.T) {
	mgr := NewManager(newMockStore())
	mgr.SetField("u1", KeyTone, "gentle")

	stage := "committed"
	focus := []string{"health"}
	if err := mgr.Update("u1", Patch{Stage: &stage, FocusAreas: &focus}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	p, _ := mgr.GetProfile("u1")
	if p.Stage != "committed" || len(p.FocusAreas) != 1 || p.Tone != "gentle" {
		t.Errorf("unexpected profile after patch: %+v", p)
	}
}

func TestGetSummary_Empty(t *testing.T) {
	mgr := NewManager(newMockStore())

	summary, err := mgr.GetSummary("u1")
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if summary != "" {
		t.Errorf("expected empty summary for empty profile, got %q", summary)
	}
}

func TestGetSummary_Full(t *testing.T) {
	mgr := NewManager(newMockStore())

	mgr.SetField("u1", KeyFocusAreas, []string{"fitness", "money"})
	mgr.SetField("u1", KeyStage, "exploring")
	mgr.SetField("u1", KeyGoals, []string{"run a marathon", "save 10k"})
	mgr.SetField("u1", KeyTone, "direct")

	summary, err := mgr.GetSummary("u1")
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	want := "Focus areas: fitness, money. Stage: exploring. Goals: run a marathon; save 10k. Prefers a direct tone."
	if summary != want {
		t.Errorf("summary = %q\nwant      %q", summary, want)
	}
}

func TestGetSummary_TokenBudget(t *testing.T) {
	mgr := NewManager(newMockStore())

	goals := make([]string, 50)
	for i := range goals {
		goals[i] = "Always do something very specific and detailed for testing the token budget constraint"
	}
	mgr.SetField("u1", KeyGoals, goals)

	summary, _ := mgr.GetSummary("u1")
	if len(summary) > maxSummaryChars {
		t.Errorf("summary too long: len=%d", len(summary))
	}
	if !strings.HasPrefix(summary, "Goals: ") {
		t.Errorf("unexpected summary prefix: %q", summary[:20])
	}
}

func TestCacheTTL(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Now()}
	mgr := NewManagerWithClock(store, clock, 60*time.Second)

	mgr.SetField("u1", KeyStage, "exploring")

	mgr.GetProfile("u1")
	mgr.GetProfile("u1")

	if calls := store.calls(); calls != 1 {
		t.Errorf("expected 1 store call (cache hit on second), got %d", calls)
	}
}

func TestCacheExpiry(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Now()}
	ttl := 60 * time.Second
	mgr := NewManagerWithClock(store, clock, ttl)

	mgr.GetProfile("u1")
	clock.Advance(ttl + time.Second)
	mgr.GetProfile("u1")

	if calls := store.calls(); calls != 2 {
		t.Errorf("expected 2 store calls (cache expired), got %d", calls)
	}
}

func TestCacheInvalidatedBySetField(t *testing.T) {
	store := newMockStore()
	mgr := NewManagerWithClock(store, &mockClock{now: time.Now()}, time.Hour)

	mgr.GetProfile("u1")
	mgr.SetField("u1", KeyTone, "warm")
	p, _ := mgr.GetProfile("u1")

	if p.Tone != "warm" {
		t.Errorf("stale profile after SetField: %+v", p)
	}
	if calls := store.calls(); calls != 2 {
		t.Errorf("expected 2 store calls, got %d", calls)
	}
}

func TestGetProfile_ReturnsCopy(t *testing.T) {
	mgr := NewManager(newMockStore())
	mgr.SetField("u1", KeyFocusAreas, []string{"fitness"})

	p, _ := mgr.GetProfile("u1")
	p.FocusAreas[0] = "mutated"

	again, _ := mgr.GetProfile("u1")
	if again.FocusAreas[0] != "fitness" {
		t.Error("cached profile was mutated through a returned copy")
	}
}
