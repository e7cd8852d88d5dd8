package invalidation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

type calls struct {
	mu  sync.Mutex
	got []string
}

func (c *calls) handler(name string) Handler {
	return func(_ context.Context, tenantID string) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.got = append(c.got, name+":"+tenantID)
		return nil
	}
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func newBus(t *testing.T) *Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewBus(client, "test:invalidate", logging.Discard())
}

func TestApplyRunsHandlersForKindInOrder(t *testing.T) {
	bus := newBus(t)
	c := &calls{}
	bus.On(KindScenarios, c.handler("docs"))
	bus.On(KindScenarios, c.handler("pool"))
	bus.On(KindConfig, c.handler("config"))

	require.NoError(t, bus.Apply(context.Background(), Message{TenantID: "t1", Kind: KindScenarios}))
	assert.Equal(t, []string{"docs:t1", "pool:t1"}, c.list())

	require.NoError(t, bus.Apply(context.Background(), Message{TenantID: "t2", Kind: KindAll}))
	assert.Equal(t, []string{"docs:t1", "pool:t1", "docs:t2", "pool:t2", "config:t2"}, c.list())
}

func TestKindAllHandlerRunsForEveryKind(t *testing.T) {
	bus := newBus(t)
	c := &calls{}
	bus.On(KindConfig, c.handler("config"))
	bus.On(KindAll, c.handler("results"))

	require.NoError(t, bus.Apply(context.Background(), Message{TenantID: "t1", Kind: KindScenarios}))
	require.NoError(t, bus.Apply(context.Background(), Message{TenantID: "t1", Kind: KindConfig}))
	assert.Equal(t, []string{"results:t1", "config:t1", "results:t1"}, c.list())
}

func TestApplyJoinsErrorsAndKeepsGoing(t *testing.T) {
	bus := newBus(t)
	c := &calls{}
	boom := errors.New("boom")
	bus.On(KindConfig, func(context.Context, string) error { return boom })
	bus.On(KindConfig, c.handler("config"))

	err := bus.Apply(context.Background(), Message{TenantID: "t1", Kind: KindConfig})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"config:t1"}, c.list())
}

func TestUnsubscribe(t *testing.T) {
	bus := newBus(t)
	c := &calls{}
	off := bus.On(KindAll, c.handler("x"))
	off()
	require.NoError(t, bus.Apply(context.Background(), Message{TenantID: "t1", Kind: KindAll}))
	assert.Empty(t, c.list())
}

func TestPublishReachesSubscriber(t *testing.T) {
	bus := newBus(t)
	c := &calls{}
	bus.On(KindConfig, c.handler("config"))

	stop, err := bus.Start(context.Background())
	require.NoError(t, err)
	defer stop()

	require.NoError(t, bus.Publish(context.Background(), "t1", KindConfig))
	assert.Eventually(t, func() bool { return len(c.list()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"config:t1"}, c.list())

	stop()
	stop()
}

func TestPublishValidates(t *testing.T) {
	bus := newBus(t)
	assert.ErrorIs(t, bus.Publish(context.Background(), "t1", "everything"), ErrUnknownKind)
	assert.Error(t, bus.Publish(context.Background(), " ", KindAll))
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		err  bool
	}{
		{"", KindAll, false},
		{"Scenarios", KindScenarios, false},
		{" config ", KindConfig, false},
		{"all", KindAll, false},
		{"prompts", "", true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if tt.err {
			assert.ErrorIs(t, err, ErrUnknownKind, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
