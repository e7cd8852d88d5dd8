package tenant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/voice-turn-core/internal/booking"
	"github.com/wolfman30/voice-turn-core/internal/scenario"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

// buildTimeout bounds a shared reload, which outlives any one caller.
const buildTimeout = 5 * time.Second

// Source loads raw tenant documents.
type Source interface {
	Get(ctx context.Context, tenantID string) (*Config, error)
}

// Forgetter drops a source-side cached copy.
type Forgetter interface {
	Forget(ctx context.Context, tenantID string) error
}

type entry struct {
	cfg     *Config
	expires time.Time
}

type tenantEntry struct {
	current    atomic.Pointer[entry]
	generation atomic.Uint64
}

// Cache hands out immutable, defaulted tenant configs. It is passed to the
// components that need tenant settings; nothing reads config any other way.
type Cache struct {
	source   Source
	ttl      time.Duration
	now      func() time.Time
	observer scenario.CacheObserver
	logger   *logging.Logger

	entries sync.Map // tenantID -> *tenantEntry
	group   singleflight.Group
}

type CacheOption func(*Cache)

func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

func WithObserver(o scenario.CacheObserver) CacheOption {
	return func(c *Cache) { c.observer = o }
}

func WithLogger(logger *logging.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

var (
	_ booking.PromptSource   = (*Cache)(nil)
	_ scenario.LexiconSource = (*Cache)(nil)
)

func NewCache(source Source, ttl time.Duration, opts ...CacheOption) *Cache {
	if source == nil {
		panic("tenant: source cannot be nil")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &Cache{source: source, ttl: ttl, now: time.Now, logger: logging.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) entry(tenantID string) *tenantEntry {
	if e, ok := c.entries.Load(tenantID); ok {
		return e.(*tenantEntry)
	}
	e, _ := c.entries.LoadOrStore(tenantID, &tenantEntry{})
	return e.(*tenantEntry)
}

// GetOrBuild returns the tenant's effective config. Tenants without a
// document get DefaultConfig. A failed reload serves the previous config.
// Callers must not mutate the result.
func (c *Cache) GetOrBuild(ctx context.Context, tenantID string) (*Config, error) {
	e := c.entry(tenantID)
	cur := e.current.Load()
	if cur != nil && c.now().Before(cur.expires) {
		c.observe("hit")
		return cur.cfg, nil
	}
	c.observe("miss")

	gen := e.generation.Load()
	ch := c.group.DoChan(tenantID, func() (any, error) {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), buildTimeout)
		defer cancel()
		return c.build(bctx, tenantID, e, gen)
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
		if cur != nil {
			c.logger.Warn("tenant: reload failed, serving previous config", "tenant_id", tenantID, "error", err)
			return cur.cfg, nil
		}
		return nil, err
	}
	return v.(*Config), nil
}

func (c *Cache) build(ctx context.Context, tenantID string, e *tenantEntry, gen uint64) (*Config, error) {
	raw, err := c.source.Get(ctx, tenantID)
	var cfg *Config
	switch {
	case errors.Is(err, ErrTenantNotFound):
		c.logger.Info("tenant: no config stored, using defaults", "tenant_id", tenantID)
		cfg = DefaultConfig(tenantID)
	case err != nil:
		return nil, err
	default:
		copied := *raw
		cfg = &copied
		cfg.TenantID = tenantID
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if e.generation.Load() == gen {
		e.current.Store(&entry{cfg: cfg, expires: c.now().Add(c.ttl)})
	}
	return cfg, nil
}

// Invalidate drops the source's cached copy, then the tenant's config; the
// next read reloads it.
func (c *Cache) Invalidate(ctx context.Context, tenantID string) error {
	var err error
	if f, ok := c.source.(Forgetter); ok {
		err = f.Forget(ctx, tenantID)
	}
	e := c.entry(tenantID)
	e.generation.Add(1)
	e.current.Store(nil)
	c.group.Forget(tenantID)
	return err
}

// LoadIntelligenceConfig returns the tenant's tier thresholds and budgets.
func (c *Cache) LoadIntelligenceConfig(ctx context.Context, tenantID string) (IntelligenceConfig, error) {
	cfg, err := c.GetOrBuild(ctx, tenantID)
	if err != nil {
		return IntelligenceConfig{}, err
	}
	return cfg.Intelligence, nil
}

// GetSlotPrompt returns booking prompt text, or "" for an unknown id.
func (c *Cache) GetSlotPrompt(ctx context.Context, tenantID, promptID string) (string, error) {
	cfg, err := c.GetOrBuild(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return cfg.Prompts[promptID], nil
}

// Lexicon returns the tenant's vocabulary additions.
func (c *Cache) Lexicon(ctx context.Context, tenantID string) (scenario.Lexicon, error) {
	cfg, err := c.GetOrBuild(ctx, tenantID)
	if err != nil {
		return scenario.Lexicon{}, err
	}
	return cfg.Lexicon, nil
}

func (c *Cache) observe(outcome string) {
	if c.observer != nil {
		c.observer.ObserveCache("tenant_config", outcome)
	}
}

// StaticSource serves fixed configs; used for fixtures and tests.
type StaticSource map[string]*Config

func (s StaticSource) Get(_ context.Context, tenantID string) (*Config, error) {
	cfg, ok := s[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return cfg, nil
}
