package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process implementation of Cache and Registry.
//
// Entries are guarded by an RWMutex; a background goroutine evicts expired
// entries every minute to bound memory. Call Close to stop it. Suitable for
// single-process deployments and as the test double for both interfaces.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	scopes  map[string]map[string]struct{}

	now func() time.Time // swapped in tests for deterministic TTL control

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemory creates an in-memory cache and registry.
// Call Close to stop the background eviction goroutine.
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]memoryEntry),
		scopes:  make(map[string]map[string]struct{}),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go m.evictLoop()
	return m
}

// Get returns the live value for key, or ok=false on miss or expiry.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || m.now().After(e.expiresAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key with the given TTL, replacing any entry.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

// Add stores value only if no live entry exists for key.
func (m *Memory) Add(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && m.now().Before(e.expiresAt) {
		return false, nil
	}
	m.entries[key] = memoryEntry{value: value, expiresAt: m.now().Add(ttl)}
	return true, nil
}

// Delete removes the given keys.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// Register records key under scope.
func (m *Memory) Register(_ context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.scopes[scope]
	if !ok {
		set = make(map[string]struct{})
		m.scopes[scope] = set
	}
	set[key] = struct{}{}
	return nil
}

// Keys returns every key registered under scope.
func (m *Memory) Keys(_ context.Context, scope string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.scopes[scope]
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys, nil
}

// Clear forgets all keys registered under scope.
func (m *Memory) Clear(_ context.Context, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.scopes, scope)
	return nil
}

// Close stops the background eviction goroutine.
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.done) })
}

func (m *Memory) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *Memory) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}
