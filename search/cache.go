package search

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/poiesic/docqa/storage"
	"github.com/poiesic/docqa/storage/badger"
	"golang.org/x/sync/singleflight"
)

// keySeparator joins the session id and store path in a cache key.
const keySeparator = "|"

// CacheKey builds the index cache key for a session's store.
func CacheKey(sessionID, storePath string) string {
	return sessionID + keySeparator + storePath
}

// sessionOf extracts the session id from a cache key.
func sessionOf(key string) string {
	session, _, _ := strings.Cut(key, keySeparator)
	return session
}

// Opener opens the passage store at path.
type Opener func(path string) (storage.PassageStore, error)

// IndexCache caches open passage stores by key. Concurrent first use of a
// key opens the store once; every caller gets the same handle.
type IndexCache struct {
	open   Opener
	group  singleflight.Group
	mu     sync.Mutex
	stores map[string]storage.PassageStore
	closed bool
	logger *slog.Logger
}

var _ storage.StoreCache = (*IndexCache)(nil)

// CacheOption configures an IndexCache.
type CacheOption func(*IndexCache)

// WithOpener replaces the badger opener, mainly for tests.
func WithOpener(open Opener) CacheOption {
	return func(c *IndexCache) {
		if open != nil {
			c.open = open
		}
	}
}

// WithCacheLogger sets a custom logger.
// Default is slog.Default().
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *IndexCache) {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "index-cache")
	}
}

// NewIndexCache creates an empty cache that opens badger stores on demand.
func NewIndexCache(opts ...CacheOption) *IndexCache {
	c := &IndexCache{
		open:   badger.NewPassageStore,
		stores: make(map[string]storage.PassageStore),
		logger: slog.Default().With("component", "index-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire returns the store cached under key, opening path on first use.
// The cache owns the handle; callers must not close it.
func (c *IndexCache) Acquire(key, path string) (storage.PassageStore, error) {
	if store, ok, err := c.lookup(key); ok || err != nil {
		return store, err
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		// Another flight may have finished between lookup and Do
		if store, ok, err := c.lookup(key); ok || err != nil {
			return store, err
		}

		store, err := c.open(path)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			store.Close()
			return nil, ErrCacheClosed
		}
		c.stores[key] = store
		c.logger.Debug("opened store", "key", key, "path", path)
		return store, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("joined in-flight open", "key", key)
	}
	return v.(storage.PassageStore), nil
}

func (c *IndexCache) lookup(key string) (storage.PassageStore, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, ErrCacheClosed
	}
	store, ok := c.stores[key]
	return store, ok, nil
}

// Len returns the number of open stores.
func (c *IndexCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stores)
}

// ReleaseSession closes and forgets every store owned by the session.
func (c *IndexCache) ReleaseSession(sessionID string) error {
	c.mu.Lock()
	var released []storage.PassageStore
	for key, store := range c.stores {
		if sessionOf(key) == sessionID {
			released = append(released, store)
			delete(c.stores, key)
		}
	}
	c.mu.Unlock()

	var errs []error
	for _, store := range released {
		errs = append(errs, store.Close())
	}
	if len(released) > 0 {
		c.logger.Debug("released session stores", "session", sessionID, "count", len(released))
	}
	return errors.Join(errs...)
}

// Close closes every cached store. Later Acquire calls fail with ErrCacheClosed.
func (c *IndexCache) Close() error {
	c.mu.Lock()
	stores := c.stores
	c.stores = make(map[string]storage.PassageStore)
	c.closed = true
	c.mu.Unlock()

	var errs []error
	for _, store := range stores {
		errs = append(errs, store.Close())
	}
	return errors.Join(errs...)
}
