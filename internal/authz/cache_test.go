package authz

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewerCache_GetSet(t *testing.T) {
	c := NewViewerCache(time.Second)
	defer c.Close()

	// Miss on empty cache.
	_, ok := c.Get("doc:u:o")
	assert.False(t, ok)

	c.Set("doc:u:o", true)
	allowed, ok := c.Get("doc:u:o")
	require.True(t, ok)
	assert.True(t, allowed)
}

func TestViewerCache_DenialIsCachedToo(t *testing.T) {
	c := NewViewerCache(time.Second)
	defer c.Close()

	// A cached denial must be distinguishable from a miss.
	c.Set("doc:u:o", false)

	allowed, ok := c.Get("doc:u:o")
	require.True(t, ok, "denial should be a cache hit")
	assert.False(t, allowed)
}

func TestViewerCache_Expiry(t *testing.T) {
	c := NewViewerCache(50 * time.Millisecond)
	defer c.Close()

	c.Set("doc:u:o", true)

	_, ok := c.Get("doc:u:o")
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	_, ok = c.Get("doc:u:o")
	assert.False(t, ok, "entry should have expired")
}

func TestViewerCache_ForgetObject(t *testing.T) {
	c := NewViewerCache(time.Minute)
	defer c.Close()

	docID := uuid.New()
	otherID := uuid.New()
	userA := uuid.New()
	userB := uuid.New()

	c.Set(verdictKey("doc", userA, docID), true)
	c.Set(verdictKey("doc", userB, docID), false)
	c.Set(verdictKey("doc", userA, otherID), true)

	c.ForgetObject(docID)

	_, ok := c.Get(verdictKey("doc", userA, docID))
	assert.False(t, ok, "all users' verdicts for the object drop")
	_, ok = c.Get(verdictKey("doc", userB, docID))
	assert.False(t, ok)

	_, ok = c.Get(verdictKey("doc", userA, otherID))
	assert.True(t, ok, "verdicts for other objects survive")
}

func TestViewerCache_EvictExpired(t *testing.T) {
	c := NewViewerCache(10 * time.Millisecond)
	defer c.Close()

	c.Set("a", true)
	c.Set("b", false)

	time.Sleep(20 * time.Millisecond)

	c.evictExpired()

	c.mu.RLock()
	assert.Empty(t, c.entries, "evictExpired should have removed all expired entries")
	c.mu.RUnlock()
}
