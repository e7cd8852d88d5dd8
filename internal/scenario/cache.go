package scenario

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

// LexiconSource supplies tenant vocabulary added on top of DefaultLexicon.
type LexiconSource interface {
	Lexicon(ctx context.Context, tenantID string) (Lexicon, error)
}

// CacheObserver receives cache hit/miss outcomes.
type CacheObserver interface {
	ObserveCache(cache, outcome string)
}

type snapshot struct {
	pool    *CompiledPool
	expires time.Time
}

type tenantSlot struct {
	current    atomic.Pointer[snapshot]
	generation atomic.Uint64
}

// PoolCache hands out compiled pools. Within the TTL every caller gets the
// same *CompiledPool; rebuilds swap a new snapshot in atomically and
// concurrent misses for a tenant share one build.
type PoolCache struct {
	loader   Loader
	lexicons LexiconSource
	ttl      time.Duration
	now      func() time.Time
	observer CacheObserver
	logger   *logging.Logger

	// buildTimeout bounds a shared rebuild, which outlives any one caller.
	buildTimeout time.Duration

	slots sync.Map // tenantID -> *tenantSlot
	group singleflight.Group
}

type PoolCacheOption func(*PoolCache)

func WithLexiconSource(src LexiconSource) PoolCacheOption {
	return func(c *PoolCache) { c.lexicons = src }
}

func WithClock(now func() time.Time) PoolCacheOption {
	return func(c *PoolCache) { c.now = now }
}

func WithObserver(o CacheObserver) PoolCacheOption {
	return func(c *PoolCache) { c.observer = o }
}

func WithBuildTimeout(d time.Duration) PoolCacheOption {
	return func(c *PoolCache) {
		if d > 0 {
			c.buildTimeout = d
		}
	}
}

func WithLogger(logger *logging.Logger) PoolCacheOption {
	return func(c *PoolCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewPoolCache(loader Loader, ttl time.Duration, opts ...PoolCacheOption) *PoolCache {
	if loader == nil {
		panic("scenario: loader cannot be nil")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &PoolCache{loader: loader, ttl: ttl, now: time.Now, logger: logging.Default(), buildTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *PoolCache) slot(tenantID string) *tenantSlot {
	if s, ok := c.slots.Load(tenantID); ok {
		return s.(*tenantSlot)
	}
	s, _ := c.slots.LoadOrStore(tenantID, &tenantSlot{})
	return s.(*tenantSlot)
}

// Get returns the tenant's current pool, rebuilding it when missing or expired.
// If a rebuild fails and an older snapshot exists, the older one is served.
func (c *PoolCache) Get(ctx context.Context, tenantID string) (*CompiledPool, error) {
	slot := c.slot(tenantID)
	snap := slot.current.Load()
	if snap != nil && c.now().Before(snap.expires) {
		c.observe("hit")
		return snap.pool, nil
	}
	c.observe("miss")

	gen := slot.generation.Load()
	ch := c.group.DoChan(tenantID, func() (any, error) {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.buildTimeout)
		defer cancel()
		return c.build(bctx, tenantID, slot, gen)
	})
	var v any
	var err error
	select {
	case res := <-ch:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		if snap != nil {
			c.logger.Warn("scenario: rebuild failed, serving previous pool", "tenant_id", tenantID, "version", snap.pool.Version, "error", err)
			return snap.pool, nil
		}
		return nil, err
	}
	return v.(*CompiledPool), nil
}

func (c *PoolCache) build(ctx context.Context, tenantID string, slot *tenantSlot, gen uint64) (*CompiledPool, error) {
	scenarios, err := c.loader.LoadScenarios(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	lex := DefaultLexicon()
	if c.lexicons != nil {
		extra, err := c.lexicons.Lexicon(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("scenario: lexicon for %s: %w", tenantID, err)
		}
		lex = lex.Merge(extra)
	}

	now := c.now()
	pool, err := Compile(tenantID, scenarios, lex, now)
	if err != nil {
		return nil, err
	}
	for _, w := range pool.Warnings {
		c.logger.Warn("scenario: compile warning", "tenant_id", tenantID, "detail", w)
	}

	// An invalidation that raced this build wins; the result is still
	// returned to waiting callers but not cached.
	if slot.generation.Load() == gen {
		slot.current.Store(&snapshot{pool: pool, expires: now.Add(c.ttl)})
	}
	c.logger.Debug("scenario: pool compiled", "tenant_id", tenantID, "version", pool.Version, "scenarios", pool.Len())
	return pool, nil
}

// Invalidate drops any cached source copy, then the tenant's snapshot. The
// next Get rebuilds. The generation moves only after the source copy is gone,
// so a build that read the stale copy is never stored.
func (c *PoolCache) Invalidate(ctx context.Context, tenantID string) error {
	var err error
	if inv, ok := c.loader.(Invalidator); ok {
		if ierr := inv.InvalidateScenarios(ctx, tenantID); ierr != nil {
			err = fmt.Errorf("scenario: invalidate %s: %w", tenantID, ierr)
		}
	}
	slot := c.slot(tenantID)
	slot.generation.Add(1)
	slot.current.Store(nil)
	c.group.Forget(tenantID)
	return err
}

func (c *PoolCache) observe(outcome string) {
	if c.observer != nil {
		c.observer.ObserveCache("scenario_pool", outcome)
	}
}
