package cache

import (
	"context"
	"time"
)

// Lease is a cooperative advisory mutex built on the cache's add-if-absent
// primitive. It is not an owning lock: acquisition writes a key with a TTL,
// and a holder that crashes simply lets the lease expire, so contenders can
// never deadlock. Holders that finish early should Release to shorten the
// window where a fresh acquisition would no-op.
type Lease struct {
	cache Cache
	key   string
	ttl   time.Duration
}

// NewLease creates a lease on key with the given bound.
func NewLease(c Cache, key string, ttl time.Duration) *Lease {
	return &Lease{cache: c, key: key, ttl: ttl}
}

// TryAcquire attempts to take the lease. It returns true when this caller now
// holds it, false when another holder's lease is still live. Contention is
// expected and silent; it is never an error.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	return l.cache.Add(ctx, l.key, []byte("1"), l.ttl)
}

// Release drops the lease early. Safe to call when not held.
func (l *Lease) Release(ctx context.Context) error {
	return l.cache.Delete(ctx, l.key)
}
