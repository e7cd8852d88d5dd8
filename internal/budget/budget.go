// Package budget admits or skips Tier 3 calls against per-call and daily
// spend limits and a per-tenant rate. Every check is synchronous and never
// waits.
package budget

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

var (
	// ErrBudgetExhausted means the tenant's daily Tier 3 budget is spent.
	ErrBudgetExhausted = errors.New("budget: daily budget exhausted")
	// ErrCallBudgetExhausted means this call already spent its Tier 3 allowance.
	ErrCallBudgetExhausted = errors.New("budget: per-call budget exhausted")
	// ErrRateLimited means the tenant is over its Tier 3 request rate.
	ErrRateLimited = errors.New("budget: tier 3 rate limited")
)

var admissions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voice",
	Subsystem: "tier3",
	Name:      "admissions_total",
	Help:      "Tier 3 admission decisions by outcome",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(admissions)
}

// microsPerUSD stores spend as integer micro-dollars so INCRBY stays exact.
const microsPerUSD = 1_000_000

// Tracker keeps each tenant's daily spend in Redis, one key per UTC day.
type Tracker struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewTracker(client *redis.Client, prefix string) *Tracker {
	if client == nil {
		panic("budget: redis client cannot be nil")
	}
	if prefix == "" {
		prefix = "voice:budget"
	}
	return &Tracker{redis: client, prefix: prefix, ttl: 48 * time.Hour, now: time.Now}
}

func (t *Tracker) key(tenantID string) string {
	return fmt.Sprintf("%s:%s:%s", t.prefix, tenantID, t.now().UTC().Format("2006-01-02"))
}

// Spent returns today's spend in USD.
func (t *Tracker) Spent(ctx context.Context, tenantID string) (float64, error) {
	raw, err := t.redis.Get(ctx, t.key(tenantID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("budget: read spend for %s: %w", tenantID, err)
	}
	micros, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("budget: parse spend for %s: %w", tenantID, err)
	}
	return float64(micros) / microsPerUSD, nil
}

// Record adds usd to today's spend.
func (t *Tracker) Record(ctx context.Context, tenantID string, usd float64) error {
	if usd <= 0 {
		return nil
	}
	key := t.key(tenantID)
	micros := int64(math.Round(usd * microsPerUSD))
	_, err := t.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, key, micros)
		pipe.Expire(ctx, key, t.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("budget: record spend for %s: %w", tenantID, err)
	}
	return nil
}

// Admission is a per-tenant token bucket checked with Allow, never Wait.
type Admission struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewAdmission allows perMinute Tier 3 calls per tenant with the given
// burst. perMinute <= 0 disables the limit.
func NewAdmission(perMinute float64, burst int) *Admission {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Admission{limiters: make(map[string]*rate.Limiter), limit: limit, burst: burst}
}

func (a *Admission) Allow(tenantID string) bool {
	a.mu.Lock()
	l, ok := a.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(a.limit, a.burst)
		a.limiters[tenantID] = l
	}
	a.mu.Unlock()
	return l.Allow()
}

// Limits are the tenant's Tier 3 spend caps in USD.
type Limits struct {
	MaxCostPerCall float64
	DailyBudget    float64
}

// Gate combines spend and rate checks.
type Gate struct {
	tracker   *Tracker
	admission *Admission
	logger    *logging.Logger
}

func NewGate(tracker *Tracker, admission *Admission, logger *logging.Logger) *Gate {
	if tracker == nil {
		panic("budget: tracker cannot be nil")
	}
	if admission == nil {
		admission = NewAdmission(0, 1)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Gate{tracker: tracker, admission: admission, logger: logger}
}

// Admit decides whether a Tier 3 call estimated at estimate USD may run.
// A spend lookup failure rejects the call.
func (g *Gate) Admit(ctx context.Context, tenantID string, limits Limits, callSpent, estimate float64) error {
	err := g.admit(ctx, tenantID, limits, callSpent, estimate)
	outcome := "admitted"
	switch {
	case errors.Is(err, ErrCallBudgetExhausted):
		outcome = "call_budget"
	case errors.Is(err, ErrBudgetExhausted):
		outcome = "daily_budget"
	case errors.Is(err, ErrRateLimited):
		outcome = "rate_limited"
	case err != nil:
		outcome = "error"
		g.logger.Error("budget: spend lookup failed, skipping tier 3", "tenant_id", tenantID, "error", err)
	}
	admissions.WithLabelValues(outcome).Inc()
	return err
}

func (g *Gate) admit(ctx context.Context, tenantID string, limits Limits, callSpent, estimate float64) error {
	if callSpent+estimate > limits.MaxCostPerCall {
		return ErrCallBudgetExhausted
	}
	spent, err := g.tracker.Spent(ctx, tenantID)
	if err != nil {
		return err
	}
	if spent+estimate > limits.DailyBudget {
		return ErrBudgetExhausted
	}
	if !g.admission.Allow(tenantID) {
		return ErrRateLimited
	}
	return nil
}

// Record charges actual spend to the tenant's daily budget.
func (g *Gate) Record(ctx context.Context, tenantID string, usd float64) error {
	return g.tracker.Record(ctx, tenantID, usd)
}
