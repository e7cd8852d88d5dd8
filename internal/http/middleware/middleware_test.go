package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/voice-turn-core/internal/tenancy"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

func TestRequireTenant(t *testing.T) {
	var got string
	h := RequireTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = tenancy.TenantIDFromContext(r.Context())
	}))

	cases := []struct {
		header string
		want   int
	}{
		{"", http.StatusBadRequest},
		{"bad tenant!", http.StatusBadRequest},
		{" acme-hvac ", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/turns", nil)
		if tc.header != "" {
			req.Header.Set(TenantHeader, tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, tc.header)
	}
	assert.Equal(t, "acme-hvac", got)
}

func TestRateLimitPerTenant(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	h := RequireTenant(RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	send := func(tenant string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/turns", nil)
		req.Header.Set(TenantHeader, tenant)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, send("t1"))
	assert.Equal(t, http.StatusOK, send("t1"))
	assert.Equal(t, http.StatusTooManyRequests, send("t1"))
	assert.Equal(t, http.StatusOK, send("t2"), "buckets are per tenant")
}

func TestRateLimiterSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(1, 1)
	limiter.now = func() time.Time { return now }
	limiter.Allow("a")
	now = now.Add(20 * time.Minute)
	limiter.Allow("b")

	assert.Equal(t, 1, limiter.Sweep(10*time.Minute))
	assert.Equal(t, 0, limiter.Sweep(10*time.Minute))
}

func TestRequestLoggerEchoesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "info")
	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-123")
	req.Header.Set(TenantHeader, "t1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get(requestIDHeader))
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"tenant_id":"t1"`)
	assert.Contains(t, buf.String(), `"level":"WARN"`)
}
