package profile

import "sync"

// InMemoryStore is a ProfileStore held in process memory.
type InMemoryStore struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]map[string]string)}
}

func (s *InMemoryStore) SetProfileKey(userID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[userID] == nil {
		s.data[userID] = make(map[string]string)
	}
	s.data[userID][key] = value
	return nil
}

func (s *InMemoryStore) GetAllProfileKeys(userID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]string, len(s.data[userID]))
	for k, v := range s.data[userID] {
		cp[k] = v
	}
	return cp, nil
}

func (s *InMemoryStore) DeleteProfileKey(userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[userID], key)
	return nil
}
