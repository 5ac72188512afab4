package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/kalambet/edgecoach/internal/ai"
)

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

func newTestCache() (*ResponseCache, *mockClock) {
	clock := &mockClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewWithClock(clock), clock
}

var hello = []ai.Message{{Role: ai.RoleUser, Content: "Hello"}}

func TestGetSet_RoundTrip(t *testing.T) {
	c, _ := newTestCache()

	if _, ok := c.Get(hello, "modelX", time.Hour); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set(hello, "modelX", ai.Response{Content: "Hi there", Model: "modelX", Cached: true})

	got, ok := c.Get(hello, "modelX", time.Hour)
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Content != "Hi there" {
		t.Errorf("Content = %q", got.Content)
	}
	if !got.Cached {
		t.Error("hit should be stamped Cached")
	}
	if c.entries[Key(hello, "modelX")].response.Cached {
		t.Error("stored entry should not be marked Cached")
	}
}

func TestGet_Expiry(t *testing.T) {
	c, clock := newTestCache()
	c.Set(hello, "modelX", ai.Response{Content: "Hi"})

	clock.Advance(60 * time.Second)
	if _, ok := c.Get(hello, "modelX", 60*time.Second); !ok {
		t.Fatal("entry at exactly the timeout should still hit")
	}

	clock.Advance(time.Second)
	if _, ok := c.Get(hello, "modelX", 60*time.Second); ok {
		t.Fatal("expected miss after expiry")
	}
	if c.Size() != 0 {
		t.Errorf("expired entry should be evicted on read, size = %d", c.Size())
	}
}

func TestKey_Sensitivity(t *testing.T) {
	base := Key(hello, "modelX")

	if Key([]ai.Message{{Role: ai.RoleUser, Content: "Hello"}}, "modelX") != base {
		t.Error("identical requests must share a key")
	}
	if Key(hello, "modelY") == base {
		t.Error("different model must change the key")
	}
	if Key([]ai.Message{{Role: ai.RoleUser, Content: "Hello!"}}, "modelX") == base {
		t.Error("different content must change the key")
	}
	if Key([]ai.Message{{Role: ai.RoleAssistant, Content: "Hello"}}, "modelX") == base {
		t.Error("different role must change the key")
	}
}

func TestGet_NoCrossModelHit(t *testing.T) {
	c, _ := newTestCache()
	c.Set(hello, "modelX", ai.Response{Content: "Hi"})
	if _, ok := c.Get(hello, "modelY", time.Hour); ok {
		t.Fatal("cache must not hit across models")
	}
}

func TestSet_Overwrites(t *testing.T) {
	c, _ := newTestCache()
	c.Set(hello, "m", ai.Response{Content: "first"})
	c.Set(hello, "m", ai.Response{Content: "second"})

	if c.Size() != 1 {
		t.Fatalf("Size = %d, want 1", c.Size())
	}
	got, _ := c.Get(hello, "m", time.Hour)
	if got.Content != "second" {
		t.Errorf("Content = %q, want second", got.Content)
	}
}

func TestClear(t *testing.T) {
	c, _ := newTestCache()
	c.Set(hello, "a", ai.Response{})
	c.Set(hello, "b", ai.Response{})
	c.Clear()
	if c.Size() != 0 {
		t.Errorf("Size after Clear = %d", c.Size())
	}
}

func TestHashString(t *testing.T) {
	// Reference values of the h*31+c string hash.
	tests := map[string]string{
		"":      "0",
		"a":     "2p",      // 97
		"hello": "1n1e4y",  // 99162322
	}
	for in, want := range tests {
		if got := hashString(in); got != want {
			t.Errorf("hashString(%q) = %q, want %q", in, got, want)
		}
	}
}
