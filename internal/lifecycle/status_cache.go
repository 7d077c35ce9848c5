package lifecycle

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
)

// CachedStatus is the last observed status of a project. It is advisory:
// nothing reads it to decide whether an operation may proceed.
type CachedStatus struct {
	Address       ledger.PublicKey     `json:"address"`
	ProjectID     string               `json:"projectId"`
	Status        ledger.ProjectStatus `json:"status"`
	State         ProjectState         `json:"state"`
	CreditsIssued uint64               `json:"creditsIssued"`
	ObservedAt    time.Time            `json:"observedAt"`
	Stale         bool                 `json:"stale"`
}

// statusCacheSize bounds the number of projects remembered.
const statusCacheSize = 10000

// StatusCache provides in-memory caching for project statuses
type StatusCache struct {
	data *lru.Cache[ledger.PublicKey, CachedStatus]
	mu   sync.Mutex

	hits   int64
	misses int64
}

// NewStatusCache creates a new status cache
func NewStatusCache() *StatusCache {
	data, _ := lru.New[ledger.PublicKey, CachedStatus](statusCacheSize)
	return &StatusCache{data: data}
}

// Get retrieves a cached status and tracks statistics
func (c *StatusCache) Get(addr ledger.PublicKey) (CachedStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data.Get(addr)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return entry, ok
}

// Set stores a status in the cache
func (c *StatusCache) Set(entry CachedStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data.Add(entry.Address, entry)
}

// Observe records a freshly read project and returns the previous entry.
func (c *StatusCache) Observe(addr ledger.PublicKey, p *ledger.Project, at time.Time) (CachedStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, had := c.data.Peek(addr)
	entry := CachedStatus{
		Address:    addr,
		State:      StateOf(p),
		ObservedAt: at,
	}
	if p != nil {
		entry.ProjectID = p.ProjectID
		entry.Status = p.Status
		entry.CreditsIssued = p.CreditsIssued
	}
	c.data.Add(addr, entry)
	return prev, had
}

// MarkStale flags an entry as superseded without removing it
func (c *StatusCache) MarkStale(addr ledger.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.data.Peek(addr); ok {
		entry.Stale = true
		c.data.Add(addr, entry)
	}
}

// Delete removes an entry from the cache
func (c *StatusCache) Delete(addr ledger.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data.Remove(addr)
}

// Size returns the number of entries in the cache
func (c *StatusCache) Size() int {
	return c.data.Len()
}

// CacheStats reports cache hit statistics
type CacheStats struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// GetStats returns cache statistics
func (c *StatusCache) GetStats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return CacheStats{Size: c.data.Len(), Hits: c.hits, Misses: c.misses, HitRate: hitRate}
}
