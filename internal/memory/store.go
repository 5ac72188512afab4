package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/kalambet/edgecoach/internal/storage"
)

// MaxConversations bounds the retained conversation list.
const MaxConversations = 10

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Backend persists serialized conversations and the retained id list.
// *storage.Store satisfies it.
type Backend interface {
	PutConversation(rec storage.ConversationRecord) error
	GetConversation(id string) (storage.ConversationRecord, error)
	DeleteConversation(id string) error
	ConversationIDs() ([]string, error)
	SetConversationIDs(ids []string) error
}

// Manager creates, mutates and persists conversation memories.
type Manager struct {
	backend Backend
	clock   Clock

	// mu serializes updates to the retained id list.
	mu sync.Mutex
}

func NewManager(backend Backend) *Manager {
	return NewManagerWithClock(backend, realClock{})
}

func NewManagerWithClock(backend Backend, clock Clock) *Manager {
	return &Manager{backend: backend, clock: clock}
}

// Save persists conv and moves its id to the front of the retained list.
// Ids pushed past MaxConversations are removed along with their records.
func (m *Manager) Save(conv *ConversationMemory) error {
	if conv.ConversationID == "" {
		return fmt.Errorf("saving conversation: empty id")
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encoding conversation: %w", err)
	}
	if err := m.backend.PutConversation(storage.ConversationRecord{
		ID:        conv.ConversationID,
		UserID:    conv.UserID,
		Data:      data,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("storing conversation %s: %w", conv.ConversationID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids, err := m.backend.ConversationIDs()
	if err != nil {
		return fmt.Errorf("reading conversation list: %w", err)
	}
	ids = slices.DeleteFunc(ids, func(id string) bool { return id == conv.ConversationID })
	ids = append([]string{conv.ConversationID}, ids...)

	var dropped []string
	if len(ids) > MaxConversations {
		dropped = ids[MaxConversations:]
		ids = ids[:MaxConversations]
	}
	if err := m.backend.SetConversationIDs(ids); err != nil {
		return fmt.Errorf("writing conversation list: %w", err)
	}
	for _, id := range dropped {
		if err := m.backend.DeleteConversation(id); err != nil {
			slog.Warn("failed to evict conversation", "conversation_id", id, "error", err)
		}
	}
	return nil
}

// Load returns the conversation with the given id or ErrNotFound.
func (m *Manager) Load(id string) (*ConversationMemory, error) {
	rec, err := m.backend.GetConversation(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", id, err)
	}
	var conv ConversationMemory
	if err := json.Unmarshal(rec.Data, &conv); err != nil {
		return nil, fmt.Errorf("decoding conversation %s: %w", id, err)
	}
	return &conv, nil
}

// Delete removes a conversation and its list entry. Deleting an unknown id is
// not an error.
func (m *Manager) Delete(id string) error {
	if err := m.backend.DeleteConversation(id); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids, err := m.backend.ConversationIDs()
	if err != nil {
		return fmt.Errorf("reading conversation list: %w", err)
	}
	kept := slices.DeleteFunc(slices.Clone(ids), func(v string) bool { return v == id })
	if len(kept) == len(ids) {
		return nil
	}
	return m.backend.SetConversationIDs(kept)
}

// List returns the retained conversation ids, most recent first.
func (m *Manager) List() ([]string, error) {
	ids, err := m.backend.ConversationIDs()
	if err != nil {
		return nil, fmt.Errorf("reading conversation list: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
