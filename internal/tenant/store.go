package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/voice-turn-core/internal/docstore"
)

// ErrTenantNotFound is returned when no config document exists.
var ErrTenantNotFound = errors.New("tenant: config not found")

// Store reads tenant documents from DynamoDB through the Redis cache.
type Store struct {
	table *docstore.Table
	cache *docstore.Cache
}

func NewStore(table *docstore.Table, cache *docstore.Cache) *Store {
	if table == nil {
		panic("tenant: table cannot be nil")
	}
	if cache == nil {
		panic("tenant: cache cannot be nil")
	}
	return &Store{table: table, cache: cache}
}

// Get returns the raw stored document, without defaults applied.
func (s *Store) Get(ctx context.Context, tenantID string) (*Config, error) {
	cfg, err := docstore.ReadThrough(ctx, s.cache, tenantID, func(ctx context.Context) (*Config, error) {
		var cfg Config
		found, err := s.table.Get(ctx, map[string]string{"tenantId": tenantID}, &cfg)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrTenantNotFound
		}
		return &cfg, nil
	})
	if err != nil {
		return nil, fmt.Errorf("tenant: get %s: %w", tenantID, err)
	}
	return cfg, nil
}

// Put writes a tenant document and drops its cached copy. Used by fixtures
// and tests; live edits happen outside this service.
func (s *Store) Put(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.table.Put(ctx, cfg); err != nil {
		return fmt.Errorf("tenant: put %s: %w", cfg.TenantID, err)
	}
	return s.Forget(ctx, cfg.TenantID)
}

// Forget drops the cached copy of a tenant document.
func (s *Store) Forget(ctx context.Context, tenantID string) error {
	if err := s.cache.Delete(ctx, tenantID); err != nil {
		return fmt.Errorf("tenant: forget %s: %w", tenantID, err)
	}
	return nil
}
