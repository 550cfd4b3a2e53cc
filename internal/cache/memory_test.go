package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetSet(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))

	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	// Set replaces.
	require.NoError(t, m.Set(ctx, "k", []byte("v2"), time.Minute))
	got, _, _ = m.Get(ctx, "k")
	assert.Equal(t, []byte("v2"), got)
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))

	_, ok, _ := m.Get(ctx, "k")
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok, "entry should have expired")
}

func TestMemory_Add(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }

	created, err := m.Add(ctx, "k", []byte("first"), time.Minute)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = m.Add(ctx, "k", []byte("second"), time.Minute)
	require.NoError(t, err)
	assert.False(t, created, "live entry blocks add")

	got, _, _ := m.Get(ctx, "k")
	assert.Equal(t, []byte("first"), got)

	// Expired entries count as absent.
	now = now.Add(2 * time.Minute)
	created, err = m.Add(ctx, "k", []byte("third"), time.Minute)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestMemory_Delete(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), time.Minute))

	require.NoError(t, m.Delete(ctx, "a", "b", "missing"))

	_, ok, _ := m.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "b")
	assert.False(t, ok)
}

func TestMemory_Registry(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Register(ctx, "doc:1", "key-a"))
	require.NoError(t, m.Register(ctx, "doc:1", "key-b"))
	require.NoError(t, m.Register(ctx, "doc:1", "key-a")) // idempotent
	require.NoError(t, m.Register(ctx, "doc:2", "key-c"))

	keys, err := m.Keys(ctx, "doc:1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"key-a", "key-b"}, keys)

	require.NoError(t, m.Clear(ctx, "doc:1"))
	keys, err = m.Keys(ctx, "doc:1")
	require.NoError(t, err)
	assert.Empty(t, keys)

	// Other scopes untouched.
	keys, _ = m.Keys(ctx, "doc:2")
	assert.Equal(t, []string{"key-c"}, keys)
}

func TestInvalidate_SweepsRegisteredKeys(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "key-a", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "key-b", []byte("2"), time.Minute))
	require.NoError(t, m.Set(ctx, "key-c", []byte("3"), time.Minute))
	require.NoError(t, m.Register(ctx, "doc:1", "key-a"))
	require.NoError(t, m.Register(ctx, "doc:1", "key-b"))
	require.NoError(t, m.Register(ctx, "doc:2", "key-c"))

	require.NoError(t, Invalidate(ctx, m, m, "doc:1"))

	_, ok, _ := m.Get(ctx, "key-a")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "key-b")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "key-c")
	assert.True(t, ok, "keys in other scopes survive")

	keys, _ := m.Keys(ctx, "doc:1")
	assert.Empty(t, keys, "swept scope is cleared")
}

func TestInvalidate_UnknownScopeIsNoop(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	assert.NoError(t, Invalidate(context.Background(), m, m, "doc:never-seen"))
}

func TestScopeKey(t *testing.T) {
	assert.Equal(t, "doc:1:extract:2", ScopeKey("doc", "1", "extract", "2"))
}
