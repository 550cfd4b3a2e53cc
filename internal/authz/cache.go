package authz

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ViewerCache is a short-TTL in-memory cache for visibility verdicts.
// It eliminates repeated ACL queries when the same user touches the same
// document several times within a request burst.
//
// Key: "kind:user_id:object_id". Value: the verdict + expiry time.
type ViewerCache struct {
	mu      sync.RWMutex
	entries map[string]viewerEntry
	ttl     time.Duration
	done    chan struct{}
}

type viewerEntry struct {
	allowed   bool
	expiresAt time.Time
}

// NewViewerCache creates a new cache with the given TTL.
// Call Close to stop the background eviction goroutine.
func NewViewerCache(ttl time.Duration) *ViewerCache {
	c := &ViewerCache{
		entries: make(map[string]viewerEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

// Get returns the cached verdict and true if a valid entry exists.
func (c *ViewerCache) Get(key string) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return false, false
	}
	return entry.allowed, true
}

// Set stores a verdict with the configured TTL.
func (c *ViewerCache) Set(key string, allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = viewerEntry{
		allowed:   allowed,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// ForgetObject removes every verdict whose key ends in the given object ID.
func (c *ViewerCache) ForgetObject(objectID uuid.UUID) {
	suffix := ":" + objectID.String()
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.entries {
		if strings.HasSuffix(k, suffix) {
			delete(c.entries, k)
		}
	}
}

// Close stops the background eviction goroutine.
func (c *ViewerCache) Close() {
	close(c.done)
}

// evictLoop removes expired entries every minute.
func (c *ViewerCache) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *ViewerCache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}
