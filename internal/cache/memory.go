package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultMemoryEntries = 256

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is an in-process LRU Store with per-entry TTL. It is always available.
type MemoryStore struct {
	entries *lru.Cache[string, memoryEntry]
	now     func() time.Time
}

func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	entries, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{entries: entries, now: time.Now}, nil
}

func (m *MemoryStore) Get(_ context.Context, fingerprint string) ([]byte, bool) {
	e, ok := m.entries.Get(fingerprint)
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.entries.Remove(fingerprint)
		return nil, false
	}
	return e.data, true
}

func (m *MemoryStore) Set(_ context.Context, fingerprint string, data []byte, ttl time.Duration) {
	e := memoryEntry{data: data}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries.Add(fingerprint, e)
}

func (m *MemoryStore) Clear(context.Context) {
	m.entries.Purge()
}

func (m *MemoryStore) Available() bool { return true }

func (m *MemoryStore) Close() error {
	m.entries.Purge()
	return nil
}
