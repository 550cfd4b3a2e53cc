// Package cache defines the key-value cache and scope registry the retrieval
// layer depends on, plus a leased-mutex primitive built on add-if-absent.
//
// The cache is an injected dependency, never a process-wide singleton: the
// retrieval and aggregate layers accept these interfaces so tests can
// substitute an in-memory backend with deterministic TTL control, and
// deployments can choose between the in-memory and sqlite backends.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnavailable indicates the cache backend could not serve the request.
// Callers treat it as a miss and fall back to direct computation.
var ErrUnavailable = errors.New("cache: backend unavailable")

// Cache is a key-value store with per-entry TTL and add-if-absent semantics.
type Cache interface {
	// Get returns the value for key and whether a live entry exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key with the given TTL, replacing any entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Add stores value only if no live entry exists for key. It returns
	// true when this call created the entry.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// Registry tracks which cache keys exist under each retrieval scope, so an
// event can invalidate every affected entry with explicit per-key deletes.
// No pattern-based bulk delete is assumed of any backend.
type Registry interface {
	// Register records key under scope.
	Register(ctx context.Context, scope, key string) error
	// Keys returns every key registered under scope.
	Keys(ctx context.Context, scope string) ([]string, error)
	// Clear forgets all keys registered under scope.
	Clear(ctx context.Context, scope string) error
}

// Invalidate deletes every cache entry registered under the given scopes and
// clears the scopes. Failures on individual scopes are collected rather than
// aborting the sweep, so one bad scope cannot shield the rest from
// invalidation.
func Invalidate(ctx context.Context, c Cache, r Registry, scopes ...string) error {
	var errs []error
	for _, scope := range scopes {
		keys, err := r.Keys(ctx, scope)
		if err != nil {
			errs = append(errs, fmt.Errorf("cache: keys for scope %q: %w", scope, err))
			continue
		}
		if len(keys) > 0 {
			if err := c.Delete(ctx, keys...); err != nil {
				errs = append(errs, fmt.Errorf("cache: delete scope %q: %w", scope, err))
				continue
			}
		}
		if err := r.Clear(ctx, scope); err != nil {
			errs = append(errs, fmt.Errorf("cache: clear scope %q: %w", scope, err))
		}
	}
	return errors.Join(errs...)
}

// ScopeKey joins scope components into a canonical registry scope.
func ScopeKey(parts ...string) string {
	return strings.Join(parts, ":")
}
