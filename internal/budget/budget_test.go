package budget

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

func newTracker(t *testing.T) (*Tracker, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	tr := NewTracker(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	now := time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	return tr, mr, &now
}

func TestTrackerRecordsDailySpend(t *testing.T) {
	ctx := context.Background()
	tr, mr, now := newTracker(t)

	spent, err := tr.Spent(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, spent)

	require.NoError(t, tr.Record(ctx, "t1", 0.0123))
	require.NoError(t, tr.Record(ctx, "t1", 0.01))
	require.NoError(t, tr.Record(ctx, "t1", 0))

	spent, err = tr.Spent(ctx, "t1")
	require.NoError(t, err)
	assert.InDelta(t, 0.0223, spent, 1e-9)
	assert.Equal(t, 48*time.Hour, mr.TTL("voice:budget:t1:2026-03-04"))

	*now = now.Add(2 * time.Hour)
	spent, err = tr.Spent(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, spent, "new UTC day starts at zero")
}

func TestAdmissionIsPerTenantAndNonBlocking(t *testing.T) {
	a := NewAdmission(1, 1)
	assert.True(t, a.Allow("t1"))
	assert.False(t, a.Allow("t1"))
	assert.True(t, a.Allow("t2"))

	unlimited := NewAdmission(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Allow("t1"))
	}
}

func TestGateAdmit(t *testing.T) {
	ctx := context.Background()
	limits := Limits{MaxCostPerCall: 0.05, DailyBudget: 1.00}

	t.Run("admits within budget", func(t *testing.T) {
		tr, _, _ := newTracker(t)
		g := NewGate(tr, nil, logging.Discard())
		assert.NoError(t, g.Admit(ctx, "t1", limits, 0.01, 0.002))
	})

	t.Run("per-call cap", func(t *testing.T) {
		tr, _, _ := newTracker(t)
		g := NewGate(tr, nil, logging.Discard())
		assert.ErrorIs(t, g.Admit(ctx, "t1", limits, 0.049, 0.002), ErrCallBudgetExhausted)
	})

	t.Run("daily cap", func(t *testing.T) {
		tr, _, _ := newTracker(t)
		g := NewGate(tr, nil, logging.Discard())
		require.NoError(t, g.Record(ctx, "t1", 0.999))
		assert.ErrorIs(t, g.Admit(ctx, "t1", limits, 0, 0.002), ErrBudgetExhausted)
		assert.NoError(t, g.Admit(ctx, "t2", limits, 0, 0.002))
	})

	t.Run("rate limited", func(t *testing.T) {
		tr, _, _ := newTracker(t)
		g := NewGate(tr, NewAdmission(1, 1), logging.Discard())
		require.NoError(t, g.Admit(ctx, "t1", limits, 0, 0.001))
		assert.ErrorIs(t, g.Admit(ctx, "t1", limits, 0, 0.001), ErrRateLimited)
	})

	t.Run("fails closed when redis is down", func(t *testing.T) {
		tr, mr, _ := newTracker(t)
		g := NewGate(tr, nil, logging.Discard())
		mr.Close()
		err := g.Admit(ctx, "t1", limits, 0, 0.001)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrBudgetExhausted)
	})
}
