package resultcache

import (
	"context"
	"log/slog"

	"vodstream/catalogservice/internal/domain"
	"vodstream/catalogservice/internal/metrics"
	"vodstream/catalogservice/internal/search"
)

// FetchFunc runs the fan-out search on a cache miss.
type FetchFunc func(ctx context.Context, query string) (domain.SearchResponse, error)

// Cache is the session-scoped result cache. Keys combine the session id with
// the normalized query so two spellings of one title share an entry.
type Cache struct {
	store Store
}

func New(store Store) *Cache {
	return &Cache{store: store}
}

func Key(sessionID, query string) string {
	return sessionID + ":" + search.NormalizeTitle(query)
}

// Lookup returns the cached result list for the query, or runs fetch and stores
// its results when they are non-empty. Store failures degrade to a fetch.
func (c *Cache) Lookup(ctx context.Context, sessionID, query string, fetch FetchFunc) ([]domain.CatalogEntry, error) {
	key := Key(sessionID, query)
	if c != nil && c.store != nil {
		results, ok, err := c.store.Get(ctx, key)
		if err != nil {
			slog.Warn("result cache read failed", slog.String("session", sessionID), slog.String("error", err.Error()))
		}
		if ok {
			metrics.CacheHitsTotal.Inc()
			return results, nil
		}
	}
	metrics.CacheMissesTotal.Inc()

	response, err := fetch(ctx, query)
	if err != nil {
		return nil, err
	}
	c.Store(ctx, sessionID, query, response.Results)
	return response.Results, nil
}

// Store records results for later lookups. Empty lists are never stored.
func (c *Cache) Store(ctx context.Context, sessionID, query string, results []domain.CatalogEntry) {
	if c == nil || c.store == nil || len(results) == 0 {
		return
	}
	if err := c.store.Set(ctx, Key(sessionID, query), results); err != nil {
		slog.Warn("result cache write failed", slog.String("session", sessionID), slog.String("error", err.Error()))
	}
}
