package memory

import (
	"sync"

	"github.com/kalambet/edgecoach/internal/storage"
)

// InMemoryBackend is a Backend held in process memory. It is used when
// storage.backend is "memory" and in tests.
type InMemoryBackend struct {
	mu      sync.Mutex
	records map[string]storage.ConversationRecord
	ids     []string
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{records: make(map[string]storage.ConversationRecord)}
}

func (b *InMemoryBackend) PutConversation(rec storage.ConversationRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.records[rec.ID]; ok && !prev.CreatedAt.IsZero() {
		rec.CreatedAt = prev.CreatedAt
	}
	rec.Data = append([]byte(nil), rec.Data...)
	b.records[rec.ID] = rec
	return nil
}

func (b *InMemoryBackend) GetConversation(id string) (storage.ConversationRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[id]
	if !ok {
		return storage.ConversationRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

func (b *InMemoryBackend) DeleteConversation(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, id)
	return nil
}

func (b *InMemoryBackend) ConversationIDs() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.ids...), nil
}

func (b *InMemoryBackend) SetConversationIDs(ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids = append([]string(nil), ids...)
	return nil
}
