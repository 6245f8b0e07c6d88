// Package cache is the process-wide market data cache: a per-source TTL
// table fronting every upstream fetcher, with single-flight de-duplication
// and per-source failure isolation so evaluators never see a bare error
// from a flaky upstream — only Fresh, Stale, or Absent.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// State is the freshness of a cached value.
type State int

const (
	Absent State = iota
	Fresh
	Stale
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "absent"
	}
}

// Result is what callers receive for one key: Fresh/Stale carry Value,
// Stale additionally carries Age (time since the value was fetched).
type Result struct {
	State State
	Value any
	Age   time.Duration
}

// Fetcher retrieves the current value for one key of a given source.
type Fetcher interface {
	Fetch(ctx context.Context, key string) (any, error)
}

// FetcherFunc adapts a plain function to a Fetcher.
type FetcherFunc func(ctx context.Context, key string) (any, error)

func (f FetcherFunc) Fetch(ctx context.Context, key string) (any, error) {
	return f(ctx, key)
}

type entry struct {
	value     any
	fetchedAt time.Time
}

type source struct {
	ttl     time.Duration
	fetcher Fetcher
}

// Cache is the process-wide cache. One instance is shared by every
// evaluator and the scheduler.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	sources map[string]source
	group   singleflight.Group
	timeout time.Duration
	log     zerolog.Logger
}

// New creates a cache whose per-key refresh is bounded by timeout (the
// per-source fetchers must themselves respect ctx).
func New(log zerolog.Logger, timeout time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		sources: make(map[string]source),
		timeout: timeout,
		log:     log.With().Str("component", "cache").Logger(),
	}
}

// RegisterSource binds a source name to its TTL and fetcher. Call once per
// source at startup.
func (c *Cache) RegisterSource(name string, ttl time.Duration, fetcher Fetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[name] = source{ttl: ttl, fetcher: fetcher}
}

func cacheKey(src, key string) string {
	return src + "\x00" + key
}

// Get fetches one (source, key) pair, serving from cache when fresh and
// single-flighting concurrent refreshes for the same key.
func (c *Cache) Get(ctx context.Context, src, key string) Result {
	ck := cacheKey(src, key)

	c.mu.RLock()
	srcCfg, known := c.sources[src]
	e, hasEntry := c.entries[ck]
	c.mu.RUnlock()

	if !known {
		c.log.Error().Str("source", src).Msg("get on unregistered source")
		return Result{State: Absent}
	}

	if hasEntry && time.Since(e.fetchedAt) < srcCfg.ttl {
		return Result{State: Fresh, Value: e.value}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	v, err, _ := c.group.Do(ck, func() (any, error) {
		return srcCfg.fetcher.Fetch(fetchCtx, key)
	})

	if err != nil {
		c.log.Warn().Err(err).Str("source", src).Str("key", key).Msg("refresh failed")
		if hasEntry {
			return Result{State: Stale, Value: e.value, Age: time.Since(e.fetchedAt)}
		}
		return Result{State: Absent}
	}

	now := time.Now()
	c.mu.Lock()
	c.entries[ck] = &entry{value: v, fetchedAt: now}
	c.mu.Unlock()

	return Result{State: Fresh, Value: v}
}

// Key identifies one cache lookup in a GetAll batch.
type Key struct {
	Source string
	Key    string
}

// GetAll fans out concurrently over the given keys, honoring per-key
// timeouts and single-flight semantics identically to Get.
func (c *Cache) GetAll(ctx context.Context, keys []Key) map[Key]Result {
	results := make(map[Key]Result, len(keys))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, k := range keys {
		k := k
		g.Go(func() error {
			r := c.Get(gctx, k.Source, k.Key)
			mu.Lock()
			results[k] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // Get never returns an error from GetAll's perspective; failures surface as Stale/Absent

	return results
}

// Invalidate drops the cached value for a key, forcing the next Get to
// refresh. Mainly useful in tests.
func (c *Cache) Invalidate(src, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(src, key))
}
