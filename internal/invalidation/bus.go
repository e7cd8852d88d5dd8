// Package invalidation fans tenant cache invalidations out to every process
// over a Redis pub/sub channel.
package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

// Kind selects which caches a message drops.
type Kind string

const (
	KindScenarios Kind = "scenarios"
	KindConfig    Kind = "config"
	KindAll       Kind = "all"
)

// ErrUnknownKind is returned by Publish for a kind other than the three above.
var ErrUnknownKind = errors.New("invalidation: unknown kind")

// Message is the wire payload.
type Message struct {
	TenantID string    `json:"tenantId"`
	Kind     Kind      `json:"kind"`
	At       time.Time `json:"at"`
}

// ParseKind maps user input onto a Kind; empty means all.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindAll, nil
	case KindScenarios, KindConfig, KindAll:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Handler drops one tenant's cached state.
type Handler func(ctx context.Context, tenantID string) error

// Bus publishes invalidations and applies the ones it receives to the
// handlers registered for their kind. KindAll runs every handler.
type Bus struct {
	client  *redis.Client
	channel string
	logger  *logging.Logger

	mu       sync.RWMutex
	handlers map[int]registered
	nextID   int
}

type registered struct {
	kind Kind
	fn   Handler
}

func NewBus(client *redis.Client, channel string, logger *logging.Logger) *Bus {
	if client == nil {
		panic("invalidation: redis client cannot be nil")
	}
	if strings.TrimSpace(channel) == "" {
		channel = "voice:invalidate"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{client: client, channel: channel, logger: logger, handlers: map[int]registered{}}
}

// On registers fn for kind and returns a function that unregisters it.
// Handlers run in registration order, so register backing stores before
// the in-process caches built on them. A KindAll handler runs for every
// message.
func (b *Bus) On(kind Kind, fn Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = registered{kind: kind, fn: fn}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish announces an invalidation to every subscribed process, this one
// included.
func (b *Bus) Publish(ctx context.Context, tenantID string, kind Kind) error {
	if strings.TrimSpace(tenantID) == "" {
		return errors.New("invalidation: tenant id is required")
	}
	switch kind {
	case KindScenarios, KindConfig, KindAll:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	payload, err := json.Marshal(Message{TenantID: tenantID, Kind: kind, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("invalidation: marshal: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("invalidation: publish: %w", err)
	}
	return nil
}

// Apply runs the matching handlers for msg. Every handler runs; their
// errors are joined.
func (b *Bus) Apply(ctx context.Context, msg Message) error {
	b.mu.RLock()
	ids := make([]int, 0, len(b.handlers))
	snapshot := make(map[int]registered, len(b.handlers))
	for id, h := range b.handlers {
		ids = append(ids, id)
		snapshot[id] = h
	}
	b.mu.RUnlock()
	slices.Sort(ids)

	var errs []error
	for _, id := range ids {
		h := snapshot[id]
		if msg.Kind != KindAll && h.kind != KindAll && h.kind != msg.Kind {
			continue
		}
		if err := h.fn(ctx, msg.TenantID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start subscribes and applies messages until stop is called or ctx ends.
// It returns once the subscription is confirmed.
func (b *Bus) Start(ctx context.Context) (stop func(), err error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("invalidation: subscribe %s: %w", b.channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				b.handle(ctx, m.Payload)
			}
		}
	}()
	b.logger.Info("invalidation bus subscribed", "channel", b.channel)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = ps.Close()
			<-done
		})
	}, nil
}

func (b *Bus) handle(ctx context.Context, payload string) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		b.logger.Warn("invalidation: malformed message", "error", err)
		return
	}
	if msg.TenantID == "" {
		return
	}
	if err := b.Apply(ctx, msg); err != nil {
		b.logger.Error("invalidation: handler failed", "tenant_id", msg.TenantID, "kind", msg.Kind, "error", err)
		return
	}
	b.logger.Info("tenant caches invalidated", "tenant_id", msg.TenantID, "kind", msg.Kind)
}
