package gloss

import (
	"io/fs"
	"log/slog"
	"time"
)

// Option configures a Service.
type Option func(*resolvedOptions)

// resolvedOptions holds all configuration overrides after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	databaseURL     string
	logger          *slog.Logger
	version         string
	cacheBackend    string
	cachePath       string
	cacheTTL        time.Duration
	stalenessBound  time.Duration
	extraMigrations []fs.FS
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the Service.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithCacheBackend overrides the cache backend from config (GLOSS_CACHE_BACKEND
// env var). Accepts "memory" or "sqlite".
func WithCacheBackend(backend string) Option {
	return func(o *resolvedOptions) { o.cacheBackend = backend }
}

// WithCachePath overrides the sqlite cache file path from config
// (GLOSS_CACHE_PATH env var). Only read with the sqlite backend.
func WithCachePath(path string) Option {
	return func(o *resolvedOptions) { o.cachePath = path }
}

// WithCacheTTL overrides the wall-clock bound on cached retrieval results
// (GLOSS_CACHE_TTL env var).
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *resolvedOptions) { o.cacheTTL = ttl }
}

// WithStalenessBound overrides the maximum tolerated aggregate view age
// (GLOSS_STALENESS_BOUND env var).
func WithStalenessBound(bound time.Duration) Option {
	return func(o *resolvedOptions) { o.stalenessBound = bound }
}

// WithExtraMigrations adds an additional SQL migration filesystem to run after
// the embedded migrations. Multiple filesystems may be registered; they are
// applied in registration order.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
