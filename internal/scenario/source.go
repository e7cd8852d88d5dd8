package scenario

import (
	"context"
	"fmt"

	"github.com/wolfman30/voice-turn-core/internal/docstore"
)

// Loader reads a tenant's scenarios. Implementations never write.
type Loader interface {
	LoadScenarios(ctx context.Context, tenantID string) ([]Scenario, error)
}

// Invalidator drops any cached copy of a tenant's scenarios.
type Invalidator interface {
	InvalidateScenarios(ctx context.Context, tenantID string) error
}

// StoreLoader reads scenarios from the document store through the key-value cache.
type StoreLoader struct {
	table *docstore.Table
	cache *docstore.Cache
}

var (
	_ Loader      = (*StoreLoader)(nil)
	_ Invalidator = (*StoreLoader)(nil)
)

func NewStoreLoader(table *docstore.Table, cache *docstore.Cache) *StoreLoader {
	if table == nil {
		panic("scenario: table cannot be nil")
	}
	if cache == nil {
		panic("scenario: cache cannot be nil")
	}
	return &StoreLoader{table: table, cache: cache}
}

func (l *StoreLoader) LoadScenarios(ctx context.Context, tenantID string) ([]Scenario, error) {
	scenarios, err := docstore.ReadThrough(ctx, l.cache, tenantID, func(ctx context.Context) ([]Scenario, error) {
		var out []Scenario
		if err := l.table.QueryPartition(ctx, "tenantId", tenantID, &out); err != nil {
			return nil, err
		}
		if out == nil {
			out = []Scenario{}
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scenario: load %s: %w", tenantID, err)
	}
	return scenarios, nil
}

func (l *StoreLoader) InvalidateScenarios(ctx context.Context, tenantID string) error {
	return l.cache.Delete(ctx, tenantID)
}

// StaticLoader serves fixed scenarios; used for fixtures and tests.
type StaticLoader map[string][]Scenario

func (s StaticLoader) LoadScenarios(_ context.Context, tenantID string) ([]Scenario, error) {
	return s[tenantID], nil
}
