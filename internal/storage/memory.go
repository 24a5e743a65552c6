package storage

import (
	"context"
	"sync"
	"time"

	"github.com/hearthd/hearth/pkg/models"
)

// MemoryMetadataStore provides an in-memory MetadataStore for tests.
type MemoryMetadataStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{values: make(map[string]string)}
}

func (s *MemoryMetadataStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *MemoryMetadataStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryMetadataStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

type historyKey struct {
	household string
	user      string
}

// MemoryHistoryStore provides an in-memory HistoryStore for tests.
type MemoryHistoryStore struct {
	mu       sync.RWMutex
	messages map[historyKey][]models.Message
}

func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{messages: make(map[historyKey][]models.Message)}
}

func (s *MemoryHistoryStore) Append(ctx context.Context, householdID, userID string, msg models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	key := historyKey{household: householdID, user: userID}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[key] = append(s.messages[key], msg)
	return nil
}

func (s *MemoryHistoryStore) Recent(ctx context.Context, householdID, userID string, limit int, inactivity time.Duration) ([]models.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	key := historyKey{household: householdID, user: userID}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[key]
	newestFirst := make([]models.Message, 0, limit)
	for i := len(all) - 1; i >= 0 && len(newestFirst) < limit; i-- {
		newestFirst = append(newestFirst, all[i])
	}
	return trimToSession(newestFirst, inactivity), nil
}
