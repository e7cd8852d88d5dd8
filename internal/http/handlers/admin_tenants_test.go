package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/voice-turn-core/internal/invalidation"
	"github.com/wolfman30/voice-turn-core/internal/learning"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

type stubInvalidator struct {
	published []string
	err       error
}

func (s *stubInvalidator) Publish(_ context.Context, tenantID string, kind invalidation.Kind) error {
	s.published = append(s.published, tenantID+":"+string(kind))
	return s.err
}

func adminRouter(h *AdminTenantHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/admin/tenants/{tenantID}/invalidate", h.Invalidate)
	r.Get("/admin/tenants/{tenantID}/suggestions", h.Suggestions)
	return r
}

func TestInvalidatePublishesKind(t *testing.T) {
	inv := &stubInvalidator{}
	r := adminRouter(NewAdminTenantHandler(inv, nil, logging.Discard()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/tenants/t1/invalidate", bytes.NewBufferString(`{"kind":"scenarios"}`)))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/tenants/t1/invalidate", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	assert.Equal(t, []string{"t1:scenarios", "t1:all"}, inv.published)
}

func TestInvalidateRejectsUnknownKind(t *testing.T) {
	inv := &stubInvalidator{}
	r := adminRouter(NewAdminTenantHandler(inv, nil, logging.Discard()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/tenants/t1/invalidate", bytes.NewBufferString(`{"kind":"prompts"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, inv.published)
}

func TestInvalidatePublishFailure(t *testing.T) {
	r := adminRouter(NewAdminTenantHandler(&stubInvalidator{err: errors.New("redis down")}, nil, logging.Discard()))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/tenants/t1/invalidate", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestInvalidateWithoutBus(t *testing.T) {
	r := adminRouter(NewAdminTenantHandler(nil, nil, logging.Discard()))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/tenants/t1/invalidate", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSuggestionsListsArena(t *testing.T) {
	arena := learning.NewArena(learning.WithLogger(logging.Discard()))
	ctx := context.Background()
	for _, u := range []string{"do you fix heat pumps", "do you fix heat pumps", "are you licensed"} {
		arena.Observe(ctx, learning.Observation{TenantID: "t1", CallID: "c1", Utterance: u, Source: "escalate", Reason: "no_match"})
	}
	r := adminRouter(NewAdminTenantHandler(nil, arena, logging.Discard()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tenants/t1/suggestions?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out SuggestionsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, 2, out.Total)
	require.Len(t, out.Suggestions, 1)
	assert.Equal(t, 2, out.Suggestions[0].Count)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tenants/t1/suggestions?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tenants/empty/suggestions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"suggestions":[]`)
}

func TestHealthCheck(t *testing.T) {
	ok := HealthCheck(map[string]Pinger{"redis": PingFunc(func(context.Context) error { return nil })})
	rec := httptest.NewRecorder()
	ok(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	down := HealthCheck(map[string]Pinger{"redis": PingFunc(func(context.Context) error { return errors.New("down") })})
	rec = httptest.NewRecorder()
	down(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"unavailable"`)
}
