package resultcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"vodstream/catalogservice/internal/domain"
)

const defaultMemoryEntries = 2048

// Store persists full search result lists under an opaque key.
type Store interface {
	Get(ctx context.Context, key string) ([]domain.CatalogEntry, bool, error)
	Set(ctx context.Context, key string, results []domain.CatalogEntry) error
}

// MemoryStore keeps result lists in process with a shared TTL.
type MemoryStore struct {
	entries *expirable.LRU[string, []domain.CatalogEntry]
}

func NewMemoryStore(maxEntries int, ttl time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = defaultMemoryEntries
	}
	return &MemoryStore{entries: expirable.NewLRU[string, []domain.CatalogEntry](maxEntries, nil, ttl)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]domain.CatalogEntry, bool, error) {
	results, ok := m.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	return domain.CloneEntries(results), true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, results []domain.CatalogEntry) error {
	m.entries.Add(key, domain.CloneEntries(results))
	return nil
}

func (m *MemoryStore) Len() int {
	return m.entries.Len()
}

// Reset drops every cached result list.
func (m *MemoryStore) Reset() {
	m.entries.Purge()
}
