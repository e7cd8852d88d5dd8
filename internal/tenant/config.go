// Package tenant holds per-tenant intelligence, triage, and booking
// configuration and the cache the decision core reads it through.
package tenant

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/wolfman30/voice-turn-core/internal/booking"
	"github.com/wolfman30/voice-turn-core/internal/scenario"
	"github.com/wolfman30/voice-turn-core/internal/triage"
)

const (
	DefaultTier1Threshold = 0.80
	DefaultTier2Threshold = 0.60
	DefaultMaxCostPerCall = 0.05
	DefaultDailyBudget    = 5.00
)

// Escalation actions.
const (
	ActionTransfer = "transfer"
	ActionContinue = "continue"
)

// IntelligenceConfig bounds the tier cascade for one tenant. The numeric
// fields are pointers so an explicit zero (no Tier 3 spend, accept any Tier 2
// score) survives defaulting; nil means the field was absent.
type IntelligenceConfig struct {
	Tier1Threshold *float64 `json:"tier1Threshold,omitempty" dynamodbav:"tier1Threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	Tier2Threshold *float64 `json:"tier2Threshold,omitempty" dynamodbav:"tier2Threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	Tier3Enabled   bool     `json:"tier3Enabled" dynamodbav:"tier3Enabled"`
	// LLMModel is empty for the provider default.
	LLMModel       string   `json:"llmModel,omitempty" dynamodbav:"llmModel,omitempty" validate:"omitempty,max=200"`
	MaxCostPerCall *float64 `json:"maxCostPerCall,omitempty" dynamodbav:"maxCostPerCall,omitempty" validate:"omitempty,gte=0"`
	DailyBudget    *float64 `json:"dailyBudget,omitempty" dynamodbav:"dailyBudget,omitempty" validate:"omitempty,gte=0"`
}

// Tier1 is the confidence a lexical match needs to answer directly.
func (in IntelligenceConfig) Tier1() float64 { return orDefault(in.Tier1Threshold, DefaultTier1Threshold) }

// Tier2 is the floor for trying the semantic rerank.
func (in IntelligenceConfig) Tier2() float64 { return orDefault(in.Tier2Threshold, DefaultTier2Threshold) }

// CallLimit is the Tier 3 spend cap for one call, in USD.
func (in IntelligenceConfig) CallLimit() float64 {
	return orDefault(in.MaxCostPerCall, DefaultMaxCostPerCall)
}

// DailyLimit is the Tier 3 spend cap per UTC day, in USD.
func (in IntelligenceConfig) DailyLimit() float64 { return orDefault(in.DailyBudget, DefaultDailyBudget) }

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func fill(v **float64, def float64) {
	if *v == nil {
		d := def
		*v = &d
	}
}

// Config is the tenant document as stored in the tenant config table.
type Config struct {
	TenantID     string             `json:"tenantId" dynamodbav:"tenantId" validate:"required"`
	Intelligence IntelligenceConfig `json:"intelligence" dynamodbav:"intelligence"`
	Triage       triage.Config      `json:"triage" dynamodbav:"triage"`
	Booking      booking.Config     `json:"booking" dynamodbav:"booking"`
	// Prompts overrides booking prompt text by prompt id.
	Prompts map[string]string `json:"prompts,omitempty" dynamodbav:"prompts,omitempty"`
	Lexicon scenario.Lexicon  `json:"lexicon" dynamodbav:"lexicon"`

	Greeting          string `json:"greeting,omitempty" dynamodbav:"greeting,omitempty"`
	EscalationMessage string `json:"escalationMessage,omitempty" dynamodbav:"escalationMessage,omitempty"`
	EscalationAction  string `json:"escalationAction,omitempty" dynamodbav:"escalationAction,omitempty" validate:"omitempty,oneof=transfer continue"`
	NoInputMessage    string `json:"noInputMessage,omitempty" dynamodbav:"noInputMessage,omitempty"`
	SchedulingOffer   string `json:"schedulingOffer,omitempty" dynamodbav:"schedulingOffer,omitempty"`
	FarewellMessage   string `json:"farewellMessage,omitempty" dynamodbav:"farewellMessage,omitempty"`

	// Version fingerprints the effective config. It is computed, never stored.
	Version string `json:"-" dynamodbav:"-"`
}

// DefaultConfig is served for tenants without a stored document.
func DefaultConfig(tenantID string) *Config {
	cfg := &Config{
		TenantID: tenantID,
		Triage:   triage.DefaultConfig(),
		Booking:  booking.DefaultConfig(),
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	in := &c.Intelligence
	fill(&in.Tier1Threshold, DefaultTier1Threshold)
	fill(&in.Tier2Threshold, DefaultTier2Threshold)
	fill(&in.MaxCostPerCall, DefaultMaxCostPerCall)
	fill(&in.DailyBudget, DefaultDailyBudget)
	if len(c.Booking.Steps) == 0 {
		c.Booking = booking.DefaultConfig()
	}

	prompts := booking.DefaultPrompts()
	for id, text := range c.Prompts {
		if strings.TrimSpace(text) != "" {
			prompts[id] = text
		}
	}
	c.Prompts = prompts

	if c.Greeting == "" {
		c.Greeting = "Thanks for calling. How can I help you today?"
	}
	if c.EscalationMessage == "" {
		c.EscalationMessage = "Let me get someone from our team who can help with that."
	}
	if c.EscalationAction == "" {
		c.EscalationAction = ActionTransfer
	}
	if c.NoInputMessage == "" {
		c.NoInputMessage = "Sorry, I didn't catch that. Could you say it again?"
	}
	if c.SchedulingOffer == "" {
		c.SchedulingOffer = "Would you like me to get a technician scheduled?"
	}
	if c.FarewellMessage == "" {
		c.FarewellMessage = "Thanks for calling. Have a great day."
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate checks threshold ranges and budgets.
func (c *Config) Validate() error {
	validateOnce.Do(func() { validate = validator.New(validator.WithRequiredStructEnabled()) })
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("tenant: invalid config for %s: %w", c.TenantID, err)
	}
	if in := c.Intelligence; in.Tier2() > in.Tier1() {
		return fmt.Errorf("tenant: invalid config for %s: tier2 threshold %.2f above tier1 %.2f", c.TenantID, in.Tier2(), in.Tier1())
	}
	return nil
}

// normalize fills defaults, validates, and stamps the version.
func (c *Config) normalize() error {
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("tenant: fingerprint %s: %w", c.TenantID, err)
	}
	sum := sha256.Sum256(data)
	c.Version = hex.EncodeToString(sum[:8])
	return nil
}
