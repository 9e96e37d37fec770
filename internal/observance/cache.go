package observance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cakeday/internal/domain"
	"cakeday/internal/store"
)

// cacheDoc is the on-disk shape shared by every source cache.
type cacheDoc struct {
	LastUpdated time.Time           `json:"last_updated"`
	Observances []domain.SpecialDay `json:"observances"`
}

// fileCache is one source's cache file plus its in-memory copy. Readers
// always get a consistent snapshot because the file is replaced atomically
// and the memory copy swaps under the mutex.
type fileCache struct {
	path string
	ttl  time.Duration

	mu     sync.RWMutex
	loaded bool
	doc    cacheDoc
}

func newFileCache(dir, name string, ttl time.Duration) (*fileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &fileCache{path: filepath.Join(dir, name), ttl: ttl}, nil
}

func (c *fileCache) load() cacheDoc {
	c.mu.RLock()
	if c.loaded {
		doc := c.doc
		c.mu.RUnlock()
		return doc
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.doc
	}

	doc := cacheDoc{}
	data, err := os.ReadFile(c.path)
	if err == nil {
		_ = json.Unmarshal(data, &doc)
	}
	c.doc = doc
	c.loaded = true
	return doc
}

func (c *fileCache) save(observances []domain.SpecialDay, now time.Time) error {
	doc := cacheDoc{LastUpdated: now, Observances: observances}
	if err := store.AtomicWriteJSON(c.path, doc); err != nil {
		return err
	}

	c.mu.Lock()
	c.doc = doc
	c.loaded = true
	c.mu.Unlock()
	return nil
}

func (c *fileCache) fresh(now time.Time) bool {
	doc := c.load()
	return !doc.LastUpdated.IsZero() && now.Sub(doc.LastUpdated) < c.ttl
}

func (c *fileCache) lookup(mmdd string) []domain.SpecialDay {
	doc := c.load()
	var out []domain.SpecialDay
	for _, day := range doc.Observances {
		if day.MMDD() == mmdd && day.Enabled {
			out = append(out, day)
		}
	}
	return out
}

func (c *fileCache) status() (int, time.Time) {
	doc := c.load()
	return len(doc.Observances), doc.LastUpdated
}
