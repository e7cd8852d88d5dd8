package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/voice-turn-core/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/voice-turn-core/internal/http/middleware"
	"github.com/wolfman30/voice-turn-core/internal/invalidation"
	"github.com/wolfman30/voice-turn-core/internal/learning"
	"github.com/wolfman30/voice-turn-core/internal/orchestrator"
	turnrouter "github.com/wolfman30/voice-turn-core/internal/router"
	"github.com/wolfman30/voice-turn-core/internal/scenario"
	"github.com/wolfman30/voice-turn-core/internal/session"
	"github.com/wolfman30/voice-turn-core/internal/tenant"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

const adminSecret = "admin-secret"

type testServer struct {
	handler http.Handler
	pools   *scenario.PoolCache
	loader  scenario.StaticLoader
	arena   *learning.Arena
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logging.Discard()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	loader := scenario.StaticLoader{"acme": {{
		ID:                 "hours",
		TriggerPhrases:     []string{"business hours", "when are you open"},
		QuickReplies:       []string{"We're open seven to seven, Monday through Saturday."},
		IsEnabledForTenant: true,
	}}}
	configs := tenant.NewCache(tenant.StaticSource{}, time.Minute, tenant.WithLogger(logger))
	pools := scenario.NewPoolCache(loader, time.Minute, scenario.WithLogger(logger))
	engine := turnrouter.New(pools, configs, turnrouter.WithLogger(logger))
	arena := learning.NewArena(learning.WithLogger(logger))
	orch := orchestrator.New(configs, engine, session.NewRedisStore(client, time.Hour), configs,
		orchestrator.WithLearner(arena),
		orchestrator.WithLogger(logger),
	)

	bus := invalidation.NewBus(client, "test:invalidate", logger)
	bus.On(invalidation.KindScenarios, pools.Invalidate)
	stop, err := bus.Start(context.Background())
	if err != nil {
		t.Fatalf("start bus: %v", err)
	}
	t.Cleanup(stop)

	h := New(&Config{
		Logger:       logger,
		Turns:        handlers.NewTurnHandler(orch, logger),
		AdminTenants: handlers.NewAdminTenantHandler(bus, arena, logger),
		HealthDeps: map[string]handlers.Pinger{
			"redis": handlers.PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() }),
		},
		AdminAuthSecret: adminSecret,
		TurnLimiter:     httpmiddleware.NewRateLimiter(100, 100),
	})
	return &testServer{handler: h, pools: pools, loader: loader, arena: arena}
}

func (s *testServer) turn(t *testing.T, tenantID, utterance string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"callId": "call-1", "utterance": utterance})
	req := httptest.NewRequest(http.MethodPost, "/v1/turns", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set(httpmiddleware.TenantHeader, tenantID)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func adminToken(t *testing.T) string {
	t.Helper()
	claims := httpmiddleware.AdminClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(adminSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterTurnRequiresTenant(t *testing.T) {
	s := newTestServer(t)
	if rr := s.turn(t, "", "hello"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestRouterTurnFlow(t *testing.T) {
	s := newTestServer(t)

	rr := s.turn(t, "acme", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	var greet orchestrator.TurnResponse
	if err := json.NewDecoder(rr.Body).Decode(&greet); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if greet.ResponseText != tenant.DefaultConfig("acme").Greeting {
		t.Fatalf("expected greeting, got %q", greet.ResponseText)
	}

	rr = s.turn(t, "acme", "what are your business hours")
	var hours orchestrator.TurnResponse
	if err := json.NewDecoder(rr.Body).Decode(&hours); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hours.Source != "scenario" || hours.TurnSeq != 2 {
		t.Fatalf("expected scenario answer on turn 2, got %+v", hours)
	}

	rr = s.turn(t, "acme", "do you do duct cleaning")
	var esc orchestrator.TurnResponse
	if err := json.NewDecoder(rr.Body).Decode(&esc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if esc.Action != orchestrator.ActionTransfer {
		t.Fatalf("expected transfer, got %q", esc.Action)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/tenants/acme/suggestions", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr = httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var list handlers.SuggestionsResponse
	if err := json.NewDecoder(rr.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Total != 1 || list.Suggestions[0].Utterance != "do you do duct cleaning" {
		t.Fatalf("expected the escalated utterance as a suggestion, got %+v", list)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/calls/call-1/end", nil)
	req.Header.Set(httpmiddleware.TenantHeader, "acme")
	rr = httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rr.Code)
	}
}

func TestRouterAdminRequiresToken(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/admin/tenants/acme/invalidate", nil)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestRouterInvalidateReloadsScenarios(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	before, err := s.pools.Get(ctx, "acme")
	if err != nil {
		t.Fatalf("load pool: %v", err)
	}
	s.loader["acme"] = append(s.loader["acme"], scenario.Scenario{
		ID:                 "duct_cleaning",
		TriggerPhrases:     []string{"duct cleaning"},
		QuickReplies:       []string{"Yes, we clean ducts."},
		IsEnabledForTenant: true,
	})

	req := httptest.NewRequest(http.MethodPost, "/admin/tenants/acme/invalidate", bytes.NewBufferString(`{"kind":"scenarios"}`))
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, rr.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		after, err := s.pools.Get(ctx, "acme")
		if err != nil {
			t.Fatalf("load pool: %v", err)
		}
		if _, ok := after.Scenario("duct_cleaning"); ok && after != before {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pool was not rebuilt after invalidation")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
