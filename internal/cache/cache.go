// Package cache memoizes completions keyed by model and message sequence.
package cache

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/edgecoach/internal/ai"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type entry struct {
	response  ai.Response
	timestamp time.Time
}

// ResponseCache maps a request fingerprint to a completion. Entries expire
// lazily: an expired entry is removed when a Get finds it. There is no size
// bound.
type ResponseCache struct {
	clock Clock

	mu      sync.Mutex
	entries map[string]entry
}

// New creates an empty cache using the wall clock.
func New() *ResponseCache {
	return NewWithClock(realClock{})
}

// NewWithClock creates an empty cache with a custom clock (for testing).
func NewWithClock(clock Clock) *ResponseCache {
	return &ResponseCache{
		clock:   clock,
		entries: make(map[string]entry),
	}
}

// Get returns a copy of the cached response for msgs and model with Cached
// set, or false when there is no entry or it is older than timeout.
func (c *ResponseCache) Get(msgs []ai.Message, model string, timeout time.Duration) (ai.Response, bool) {
	key := Key(msgs, model)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return ai.Response{}, false
	}
	if c.clock.Now().Sub(e.timestamp) > timeout {
		delete(c.entries, key)
		return ai.Response{}, false
	}

	resp := e.response
	resp.Cached = true
	return resp, true
}

// Set stores resp for msgs and model, replacing any previous entry.
func (c *ResponseCache) Set(msgs []ai.Message, model string, resp ai.Response) {
	resp.Cached = false
	key := Key(msgs, model)

	c.mu.Lock()
	c.entries[key] = entry{response: resp, timestamp: c.clock.Now()}
	c.mu.Unlock()
}

// Clear removes every entry.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Size returns the number of stored entries, including expired ones not yet
// evicted.
func (c *ResponseCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Key is the fingerprint of a request: the model followed by a 32-bit string
// hash of the role:content pairs. Collisions are possible.
func Key(msgs []ai.Message, model string) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = string(m.Role) + ":" + m.Content
	}
	return model + ":" + hashString(strings.Join(parts, "|"))
}

// hashString is the classic h = h*31 + c hash over UTF-16 code units with
// 32-bit wraparound, rendered in base 36.
func hashString(s string) string {
	var h int32
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			h = h*31 + int32(0xD800+(r>>10))
			h = h*31 + int32(0xDC00+(r&0x3FF))
			continue
		}
		h = h*31 + int32(r)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}
