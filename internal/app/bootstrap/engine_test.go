package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/voice-turn-core/internal/config"
	httpmiddleware "github.com/wolfman30/voice-turn-core/internal/http/middleware"
	"github.com/wolfman30/voice-turn-core/internal/invalidation"
	"github.com/wolfman30/voice-turn-core/internal/orchestrator"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		PoolCacheTTL:        time.Minute,
		ConfigCacheTTL:      time.Minute,
		ResultCacheTTL:      time.Minute,
		SessionTTL:          time.Hour,
		LLMTimeout:          time.Second,
		LLMMaxAttempts:      1,
		Tier3MaxTokens:      150,
		InvalidationChannel: "test:invalidate",
		AdminJWTSecret:      "secret",
	}
}

func buildTestEngine(t *testing.T, fx *Fixture) *Engine {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	e, err := BuildEngine(context.Background(), Deps{
		Config:   testConfig(),
		Logger:   logging.Discard(),
		Redis:    client,
		Registry: prometheus.NewRegistry(),
		Fixture:  fx,
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func postTurn(t *testing.T, h http.Handler, tenantID, callID, utterance string) orchestrator.TurnResponse {
	t.Helper()
	body, err := json.Marshal(map[string]string{"callId": callID, "utterance": utterance})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/turns", bytes.NewReader(body))
	req.Header.Set(httpmiddleware.TenantHeader, tenantID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out orchestrator.TurnResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestBuildEngineServesFixtureTenant(t *testing.T) {
	fx, err := LoadFixture("../../../fixtures/acme-hvac.yaml")
	require.NoError(t, err)
	e := buildTestEngine(t, fx)

	greet := postTurn(t, e.Handler, "acme-hvac", "call-1", "")
	assert.Equal(t, "Thanks for calling Acme Heating and Air. How can I help you today?", greet.ResponseText)

	hours := postTurn(t, e.Handler, "acme-hvac", "call-1", "what are your business hours")
	assert.Equal(t, "scenario", hours.Source)
	assert.Equal(t, "We're open seven to seven, Monday through Saturday.", hours.ResponseText)

	rec := httptest.NewRecorder()
	e.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "voice_router_tier_decisions_total")
	assert.Contains(t, rec.Body.String(), "voice_turn_latency_seconds")
}

func TestBuildEngineConfigInvalidation(t *testing.T) {
	fx, err := LoadFixture("../../../fixtures/acme-hvac.yaml")
	require.NoError(t, err)
	e := buildTestEngine(t, fx)
	ctx := context.Background()

	before := postTurn(t, e.Handler, "acme-hvac", "call-a", "")

	updated := *fx.Tenants["acme-hvac"]
	updated.Greeting = "Acme Heating and Air, this is the after hours line."
	fx.Tenants["acme-hvac"] = &updated

	stale := postTurn(t, e.Handler, "acme-hvac", "call-b", "")
	assert.Equal(t, before.ResponseText, stale.ResponseText)

	require.NoError(t, e.Bus.Apply(ctx, invalidation.Message{TenantID: "acme-hvac", Kind: invalidation.KindConfig}))
	fresh := postTurn(t, e.Handler, "acme-hvac", "call-c", "")
	assert.Equal(t, "Acme Heating and Air, this is the after hours line.", fresh.ResponseText)
}

func TestBuildEngineRequiresBackingStores(t *testing.T) {
	_, err := BuildEngine(context.Background(), Deps{Config: testConfig()})
	assert.ErrorContains(t, err, "redis")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	_, err = BuildEngine(context.Background(), Deps{Config: testConfig(), Redis: client, Logger: logging.Discard()})
	assert.ErrorContains(t, err, "dynamodb")

	_, err = BuildEngine(context.Background(), Deps{Redis: client})
	assert.ErrorContains(t, err, "config")
}

func TestBuildTier3DisabledWithoutProviders(t *testing.T) {
	t3, err := BuildTier3(context.Background(), testConfig(), nil, logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, t3)
	assert.NoError(t, t3.Close())
}
