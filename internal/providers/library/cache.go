package library

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultMetadataEntries = 512
	defaultMetadataTTL     = 10 * time.Minute
)

// MetadataCache holds directory listings so repeated searches do not rescan
// the library. It is owned by the caller and can be reset explicitly.
type MetadataCache struct {
	listings *expirable.LRU[string, []fsObject]
}

func NewMetadataCache(maxEntries int, ttl time.Duration) *MetadataCache {
	if maxEntries <= 0 {
		maxEntries = defaultMetadataEntries
	}
	if ttl <= 0 {
		ttl = defaultMetadataTTL
	}
	return &MetadataCache{listings: expirable.NewLRU[string, []fsObject](maxEntries, nil, ttl)}
}

func (c *MetadataCache) get(path string) ([]fsObject, bool) {
	if c == nil {
		return nil, false
	}
	return c.listings.Get(path)
}

func (c *MetadataCache) put(path string, objects []fsObject) {
	if c == nil {
		return
	}
	c.listings.Add(path, objects)
}

func (c *MetadataCache) Len() int {
	if c == nil {
		return 0
	}
	return c.listings.Len()
}

// Reset forgets every cached listing, e.g. after the library was rescanned.
func (c *MetadataCache) Reset() {
	if c == nil {
		return
	}
	c.listings.Purge()
}
