package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/voice-turn-core/internal/booking"
	"github.com/wolfman30/voice-turn-core/internal/docstore"
	"github.com/wolfman30/voice-turn-core/internal/scenario"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

func TestDefaultConfigMatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig("t1")
	assert.Equal(t, IntelligenceConfig{
		Tier1Threshold: aws.Float64(0.80),
		Tier2Threshold: aws.Float64(0.60),
		MaxCostPerCall: aws.Float64(0.05),
		DailyBudget:    aws.Float64(5.00),
	}, cfg.Intelligence)
	assert.False(t, cfg.Intelligence.Tier3Enabled)
	assert.Equal(t, ActionTransfer, cfg.EscalationAction)
	assert.Equal(t, booking.DefaultPrompts()[booking.SlotName], cfg.Prompts[booking.SlotName])
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	tests := []struct {
		name string
		in   IntelligenceConfig
	}{
		{"tier1 above one", IntelligenceConfig{Tier1Threshold: aws.Float64(1.2), Tier2Threshold: aws.Float64(0.6)}},
		{"tier2 above tier1", IntelligenceConfig{Tier1Threshold: aws.Float64(0.7), Tier2Threshold: aws.Float64(0.75)}},
		{"tier2 above default tier1", IntelligenceConfig{Tier2Threshold: aws.Float64(0.9)}},
		{"negative budget", IntelligenceConfig{DailyBudget: aws.Float64(-1)}},
		{"negative call cap", IntelligenceConfig{MaxCostPerCall: aws.Float64(-0.01)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{TenantID: "t1", Intelligence: tt.in}
			assert.Error(t, cfg.Validate())
		})
	}

	bad := &Config{TenantID: "t1", EscalationAction: "hangup"}
	bad.applyDefaults()
	assert.Error(t, bad.Validate())
}

func TestExplicitZeroBudgetSurvivesDefaults(t *testing.T) {
	src := StaticSource{"t1": {Intelligence: IntelligenceConfig{
		Tier3Enabled:   true,
		Tier2Threshold: aws.Float64(0),
		MaxCostPerCall: aws.Float64(0),
		DailyBudget:    aws.Float64(0),
	}}}
	cache := NewCache(src, time.Minute, WithLogger(logging.Discard()))

	in, err := cache.LoadIntelligenceConfig(context.Background(), "t1")
	require.NoError(t, err)
	assert.Zero(t, in.DailyLimit())
	assert.Zero(t, in.CallLimit())
	assert.Zero(t, in.Tier2())
	assert.Equal(t, DefaultTier1Threshold, in.Tier1())
}

func TestIntelligenceDefaultsDecodeOnlyWhenAbsent(t *testing.T) {
	var in IntelligenceConfig
	require.NoError(t, json.Unmarshal([]byte(`{"tier3Enabled":true,"dailyBudget":0}`), &in))
	assert.Zero(t, in.DailyLimit())
	assert.Equal(t, DefaultMaxCostPerCall, in.CallLimit())
	assert.Nil(t, in.Tier1Threshold)

	av, err := attributevalue.MarshalMap(&Config{TenantID: "t1", Intelligence: in})
	require.NoError(t, err)
	var back Config
	require.NoError(t, attributevalue.UnmarshalMap(av, &back))
	require.NotNil(t, back.Intelligence.DailyBudget)
	assert.Zero(t, back.Intelligence.DailyLimit())
	assert.Nil(t, back.Intelligence.MaxCostPerCall)
}

type countingSource struct {
	mu    sync.Mutex
	calls int
	cfgs  map[string]*Config
	err   error
}

func (s *countingSource) Get(_ context.Context, tenantID string) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	cfg, ok := s.cfgs[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return cfg, nil
}

func TestCacheAppliesDefaultsAndOverrides(t *testing.T) {
	src := &countingSource{cfgs: map[string]*Config{
		"t1": {
			Intelligence: IntelligenceConfig{Tier1Threshold: aws.Float64(0.85), Tier3Enabled: true},
			Prompts:      map[string]string{booking.SlotName: "Who am I speaking with?", booking.SlotPhone: "  "},
			Lexicon:      scenario.Lexicon{Synonyms: map[string][]string{"furnace": {"heater"}}},
		},
	}}
	cache := NewCache(src, time.Minute, WithLogger(logging.Discard()))
	ctx := context.Background()

	in, err := cache.LoadIntelligenceConfig(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0.85, in.Tier1())
	assert.Equal(t, DefaultTier2Threshold, in.Tier2())
	assert.True(t, in.Tier3Enabled)

	text, err := cache.GetSlotPrompt(ctx, "t1", booking.SlotName)
	require.NoError(t, err)
	assert.Equal(t, "Who am I speaking with?", text)
	text, err = cache.GetSlotPrompt(ctx, "t1", booking.SlotPhone)
	require.NoError(t, err)
	assert.Equal(t, booking.DefaultPrompts()[booking.SlotPhone], text)
	text, err = cache.GetSlotPrompt(ctx, "t1", "nope")
	require.NoError(t, err)
	assert.Empty(t, text)

	lex, err := cache.Lexicon(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"heater"}, lex.Synonyms["furnace"])

	cfg, err := cache.GetOrBuild(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", cfg.TenantID)
	assert.NotEmpty(t, cfg.Version)
	assert.Equal(t, 1, src.calls)
	assert.NotContains(t, src.cfgs["t1"].Prompts, booking.SlotAddress, "stored document is not mutated")
}

func TestCacheFallsBackToDefaultsForUnknownTenant(t *testing.T) {
	cache := NewCache(&countingSource{}, time.Minute, WithLogger(logging.Discard()))
	cfg, err := cache.GetOrBuild(context.Background(), "new-tenant")
	require.NoError(t, err)
	assert.Equal(t, DefaultTier1Threshold, cfg.Intelligence.Tier1())
	assert.Equal(t, DefaultConfig("new-tenant").Prompts, cfg.Prompts)
}

func TestCacheTTLInvalidateAndStaleServe(t *testing.T) {
	now := time.Unix(1000, 0)
	src := &countingSource{cfgs: map[string]*Config{"t1": {Intelligence: IntelligenceConfig{Tier1Threshold: aws.Float64(0.9)}}}}
	cache := NewCache(src, time.Minute, WithClock(func() time.Time { return now }), WithLogger(logging.Discard()))
	ctx := context.Background()

	first, err := cache.GetOrBuild(ctx, "t1")
	require.NoError(t, err)
	second, err := cache.GetOrBuild(ctx, "t1")
	require.NoError(t, err)
	assert.Same(t, first, second)

	src.cfgs["t1"] = &Config{Intelligence: IntelligenceConfig{Tier1Threshold: aws.Float64(0.95)}}
	require.NoError(t, cache.Invalidate(ctx, "t1"))
	third, err := cache.GetOrBuild(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0.95, third.Intelligence.Tier1())
	assert.NotEqual(t, first.Version, third.Version)

	src.err = errors.New("dynamo down")
	now = now.Add(2 * time.Minute)
	stale, err := cache.GetOrBuild(ctx, "t1")
	require.NoError(t, err)
	assert.Same(t, third, stale)

	_, err = cache.GetOrBuild(ctx, "t2")
	assert.Error(t, err)
}

type blockingSource struct{ release chan struct{} }

func (s blockingSource) Get(ctx context.Context, tenantID string) (*Config, error) {
	select {
	case <-s.release:
		return &Config{TenantID: tenantID, Greeting: "Thanks for calling Cool Air."}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestCacheSharedReloadSurvivesCallerTimeout(t *testing.T) {
	src := blockingSource{release: make(chan struct{})}
	cache := NewCache(src, time.Minute, WithLogger(logging.Discard()))

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := cache.GetOrBuild(short, "t1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan *Config, 1)
	go func() {
		cfg, err := cache.GetOrBuild(context.Background(), "t1")
		assert.NoError(t, err)
		done <- cfg
	}()
	close(src.release)

	cfg := <-done
	require.NotNil(t, cfg)
	assert.Equal(t, "Thanks for calling Cool Air.", cfg.Greeting)
}

func TestCacheRejectsInvalidDocument(t *testing.T) {
	src := StaticSource{"t1": {Intelligence: IntelligenceConfig{Tier1Threshold: aws.Float64(0.5), Tier2Threshold: aws.Float64(0.7)}}}
	cache := NewCache(src, time.Minute, WithLogger(logging.Discard()))
	_, err := cache.GetOrBuild(context.Background(), "t1")
	assert.Error(t, err)
}

func TestStoreReadsThroughRedis(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryDynamo(map[string]docstore.KeySchema{"tenants": {PartitionKey: "tenantId"}})
	table := docstore.NewTable(mem, "tenants", logging.Discard())
	mr := miniredis.RunT(t)
	store := NewStore(table, docstore.NewCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "voice:tenant", time.Minute))

	_, err := store.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrTenantNotFound)

	require.NoError(t, store.Put(ctx, &Config{
		TenantID:     "t1",
		Intelligence: IntelligenceConfig{Tier1Threshold: aws.Float64(0.85), Tier2Threshold: aws.Float64(0.65), Tier3Enabled: true},
		Greeting:     "Thanks for calling Cool Air.",
	}))

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0.85, got.Intelligence.Tier1())
	assert.Equal(t, "Thanks for calling Cool Air.", got.Greeting)
	assert.True(t, mr.Exists("voice:tenant:t1"))

	cache := NewCache(store, time.Minute, WithLogger(logging.Discard()))
	cfg, err := cache.GetOrBuild(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, cfg.Intelligence.Tier3Enabled)

	require.NoError(t, cache.Invalidate(ctx, "t1"))
	assert.False(t, mr.Exists("voice:tenant:t1"))
}
