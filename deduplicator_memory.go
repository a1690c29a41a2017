package main

import (
	"context"
	"sync"
	"time"
)

// InMemoryDeduplicationStore only sees messages handled by this process,
// which is enough for several lease loops sharing one drain.
type InMemoryDeduplicationStore struct {
	mu   sync.Mutex
	seen map[string]dedupEntry
	now  func() time.Time
}

type dedupEntry struct {
	object string
	at     time.Time
}

func NewInMemoryDeduplicationStore() *InMemoryDeduplicationStore {
	return &InMemoryDeduplicationStore{
		seen: make(map[string]dedupEntry),
		now:  time.Now,
	}
}

func (m *InMemoryDeduplicationStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[messageID]
	return ok, nil
}

func (m *InMemoryDeduplicationStore) MarkProcessed(ctx context.Context, messageID, object string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[messageID]; !ok {
		m.seen[messageID] = dedupEntry{object: object, at: m.now()}
	}
	return nil
}

func (m *InMemoryDeduplicationStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)
	for id, e := range m.seen {
		if e.at.Before(cutoff) {
			delete(m.seen, id)
		}
	}
	return nil
}

// Close forgets everything recorded so far.
func (m *InMemoryDeduplicationStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = make(map[string]dedupEntry)
	return nil
}
