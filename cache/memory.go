// Package cache implements the pipeline result cache: an in-memory TTL
// tier for hot entries and an optional sqlite-backed disk tier that
// survives restarts.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/mailsift/mailsift/logger"
	"github.com/mailsift/mailsift/pipeline"
	"github.com/mailsift/mailsift/pkg/metrics"
)

type memoryEntry struct {
	result    *pipeline.Result
	expiresAt time.Time
}

// MemoryCache is an in-memory TTL cache for pipeline results. Safe for
// concurrent use. Expired entries are swept by a background loop.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	maxSize int

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupStopped  chan struct{}
	stopped         bool
}

// NewMemory creates a memory cache. maxSize bounds the entry count;
// cleanupInterval controls how often expired entries are swept.
func NewMemory(maxSize int, cleanupInterval time.Duration) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	c := &MemoryCache{
		entries:         make(map[string]*memoryEntry),
		maxSize:         maxSize,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupStopped:  make(chan struct{}),
	}
	go c.cleanupLoop()

	logger.Info("MemoryCache: initialized", "max_size", maxSize, "cleanup_interval", cleanupInterval)
	return c
}

// Get implements pipeline.ResultCache.
func (c *MemoryCache) Get(_ context.Context, fingerprint string) (*pipeline.Result, bool) {
	c.mu.RLock()
	entry, exists := c.entries[fingerprint]
	c.mu.RUnlock()

	if !exists || time.Now().After(entry.expiresAt) {
		metrics.CacheMissesTotal.WithLabelValues("memory").Inc()
		return nil, false
	}
	metrics.CacheHitsTotal.WithLabelValues("memory").Inc()
	return entry.result, true
}

// Set implements pipeline.ResultCache. When the cache is full, the entry
// closest to expiry makes room.
func (c *MemoryCache) Set(_ context.Context, result *pipeline.Result, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOneLocked()
	}

	c.entries[result.Fingerprint] = &memoryEntry{
		result:    result,
		expiresAt: time.Now().Add(ttl),
	}
	metrics.CacheEntriesCurrent.WithLabelValues("memory").Set(float64(len(c.entries)))
	return nil
}

// evictOneLocked removes the entry closest to expiry. Callers hold mu.
func (c *MemoryCache) evictOneLocked() {
	var victim string
	var earliest time.Time
	for fp, e := range c.entries {
		if victim == "" || e.expiresAt.Before(earliest) {
			victim = fp
			earliest = e.expiresAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}

func (c *MemoryCache) cleanupLoop() {
	defer close(c.cleanupStopped)
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCleanup:
			return
		case <-ticker.C:
			c.cleanupExpired()
		}
	}
}

func (c *MemoryCache) cleanupExpired() {
	now := time.Now()
	c.mu.Lock()
	for fp, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, fp)
		}
	}
	size := len(c.entries)
	c.mu.Unlock()
	metrics.CacheEntriesCurrent.WithLabelValues("memory").Set(float64(size))
}

// Len returns the current entry count.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop terminates the cleanup goroutine. Idempotent.
func (c *MemoryCache) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.stopCleanup)
	<-c.cleanupStopped
}
