package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Store and InMemoryStore.
type ProfileStore interface {
	SetProfileKey(userID, key, value string) error
	GetAllProfileKeys(userID string) (map[string]string, error)
	DeleteProfileKey(userID, key string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	profile  Profile
	cachedAt time.Time
}

// Manager provides cached, structured access to per-user profiles.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu     sync.RWMutex
	cached map[string]cacheEntry
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		ttl:    ttl,
		cached: make(map[string]cacheEntry),
	}
}

// GetProfile returns the profile for userID, from cache when fresh. A user
// with no stored keys gets a zero Profile.
func (m *Manager) GetProfile(userID string) (Profile, error) {
	m.mu.RLock()
	if e, ok := m.cached[userID]; ok && m.fresh(e) {
		m.mu.RUnlock()
		return copyProfile(e.profile), nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.cached[userID]; ok && m.fresh(e) {
		return copyProfile(e.profile), nil
	}

	keys, err := m.store.GetAllProfileKeys(userID)
	if err != nil {
		return Profile{}, fmt.Errorf("loading profile keys: %w", err)
	}

	p := buildProfile(userID, keys)
	m.cached[userID] = cacheEntry{profile: p, cachedAt: m.clock.Now()}
	return copyProfile(p), nil
}

func (m *Manager) fresh(e cacheEntry) bool {
	return m.clock.Now().Before(e.cachedAt.Add(m.ttl))
}

// SetField persists one profile key and invalidates the user's cache entry.
// List keys accept a []string, a JSON array or a comma-separated string.
// An empty value removes the key.
func (m *Manager) SetField(userID, key string, value any) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if !slices.Contains(ValidKeys, key) {
		return fmt.Errorf("unknown profile key %q (valid: %s)", key, strings.Join(ValidKeys, ", "))
	}

	str, err := encodeValue(key, value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if str == "" {
		err = m.store.DeleteProfileKey(userID, key)
	} else {
		err = m.store.SetProfileKey(userID, key, str)
	}
	if err != nil {
		return fmt.Errorf("setting profile key %q: %w", key, err)
	}

	delete(m.cached, userID)
	return nil
}

// Update applies every non-nil field of patch.
func (m *Manager) Update(userID string, patch Patch) error {
	if patch.FocusAreas != nil {
		if err := m.SetField(userID, KeyFocusAreas, *patch.FocusAreas); err != nil {
			return err
		}
	}
	if patch.Stage != nil {
		if err := m.SetField(userID, KeyStage, *patch.Stage); err != nil {
			return err
		}
	}
	if patch.Goals != nil {
		if err := m.SetField(userID, KeyGoals, *patch.Goals); err != nil {
			return err
		}
	}
	if patch.Tone != nil {
		if err := m.SetField(userID, KeyTone, *patch.Tone); err != nil {
			return err
		}
	}
	return nil
}

// Patch is a partial profile update. Nil fields are left unchanged.
type Patch struct {
	FocusAreas *[]string `json:"focusAreas"`
	Stage      *string   `json:"stage"`
	Goals      *[]string `json:"goals"`
	Tone       *string   `json:"tone"`
}

// GetSummary returns a compact rendering of the profile for the system
// prompt, or "" when nothing is known about the user.
func (m *Manager) GetSummary(userID string) (string, error) {
	p, err := m.GetProfile(userID)
	if err != nil {
		return "", fmt.Errorf("getting profile for summary: %w", err)
	}
	return summarize(p), nil
}

// maxSummaryChars caps the summary to stay under ~500 tokens (4 chars/token).
const maxSummaryChars = 2000

func summarize(p Profile) string {
	var parts []string
	if len(p.FocusAreas) > 0 {
		parts = append(parts, fmt.Sprintf("Focus areas: %s.", strings.Join(p.FocusAreas, ", ")))
	}
	if p.Stage != "" {
		parts = append(parts, fmt.Sprintf("Stage: %s.", p.Stage))
	}
	if len(p.Goals) > 0 {
		parts = append(parts, fmt.Sprintf("Goals: %s.", strings.Join(p.Goals, "; ")))
	}
	if p.Tone != "" {
		parts = append(parts, fmt.Sprintf("Prefers a %s tone.", p.Tone))
	}
	if len(parts) == 0 {
		return ""
	}

	summary := strings.Join(parts, " ")
	if len(summary) > maxSummaryChars {
		// Ensure we don't split a multi-byte UTF-8 character.
		end := maxSummaryChars
		for end > 0 && !utf8.RuneStart(summary[end]) {
			end--
		}
		if idx := strings.LastIndex(summary[:end], " "); idx > 0 {
			summary = summary[:idx]
		} else {
			summary = summary[:end]
		}
	}
	return summary
}

func encodeValue(key string, value any) (string, error) {
	if !isListKey(key) {
		switch v := value.(type) {
		case string:
			return strings.TrimSpace(v), nil
		default:
			return "", fmt.Errorf("profile key %q expects a string", key)
		}
	}

	var list []string
	switch v := value.(type) {
	case []string:
		list = v
	case string:
		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, "[") {
			if err := json.Unmarshal([]byte(v), &list); err != nil {
				return "", fmt.Errorf("parsing %q as a JSON array: %w", key, err)
			}
		} else {
			for _, item := range strings.Split(v, ",") {
				if item = strings.TrimSpace(item); item != "" {
					list = append(list, item)
				}
			}
		}
	default:
		return "", fmt.Errorf("profile key %q expects a list", key)
	}
	if len(list) == 0 {
		return "", nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("marshalling value for key %q: %w", key, err)
	}
	return string(b), nil
}

func copyProfile(p Profile) Profile {
	cp := p
	cp.FocusAreas = slices.Clone(p.FocusAreas)
	cp.Goals = slices.Clone(p.Goals)
	return cp
}

// buildProfile assembles a Profile from stored key-value pairs.
func buildProfile(userID string, keys map[string]string) Profile {
	var p Profile
	p.Stage = keys[KeyStage]
	p.Tone = keys[KeyTone]
	unmarshalProfileKey(userID, keys, KeyFocusAreas, &p.FocusAreas)
	unmarshalProfileKey(userID, keys, KeyGoals, &p.Goals)
	return p
}

// unmarshalProfileKey unmarshals a JSON value from keys into target, logging
// a warning if the value is present but malformed.
func unmarshalProfileKey(userID string, keys map[string]string, key string, target any) {
	v, ok := keys[key]
	if !ok {
		return
	}
	if err := json.Unmarshal([]byte(v), target); err != nil {
		slog.Warn("malformed profile key, skipping", "user_id", userID, "key", key, "error", err)
	}
}
