package bootstrap

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wolfman30/voice-turn-core/internal/scenario"
	"github.com/wolfman30/voice-turn-core/internal/tenant"
	"github.com/wolfman30/voice-turn-core/internal/triage"
)

// Fixture is a local seed of tenant configs and scenarios. It stands in for
// the DynamoDB tables when SEED_FIXTURE is set.
type Fixture struct {
	Tenants   tenant.StaticSource
	Scenarios scenario.StaticLoader
}

type fixtureFile struct {
	// Tenants are decoded through their JSON field names so the fixture
	// reads like the stored documents.
	Tenants   []map[string]any               `yaml:"tenants"`
	Scenarios map[string][]scenario.Scenario `yaml:"scenarios"`
}

// LoadFixture reads and validates a YAML fixture.
func LoadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: read fixture: %w", err)
	}
	return ParseFixture(raw)
}

// ParseFixture decodes fixture YAML.
func ParseFixture(raw []byte) (*Fixture, error) {
	var file fixtureFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("bootstrap: parse fixture: %w", err)
	}

	fx := &Fixture{Tenants: tenant.StaticSource{}, Scenarios: scenario.StaticLoader{}}
	for i, doc := range file.Tenants {
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: fixture tenant %d: %w", i, err)
		}
		// Triage defaults are overlaid, so a fixture only lists what it changes.
		cfg := tenant.Config{Triage: triage.DefaultConfig()}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("bootstrap: fixture tenant %d: %w", i, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("bootstrap: fixture tenant %q: %w", cfg.TenantID, err)
		}
		fx.Tenants[cfg.TenantID] = &cfg
	}
	for tenantID, list := range file.Scenarios {
		for i := range list {
			list[i].TenantID = tenantID
		}
		fx.Scenarios[tenantID] = list
	}
	return fx, nil
}
