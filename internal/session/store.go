package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// ErrTurnSuperseded is returned by Save when a newer turn already saved.
var ErrTurnSuperseded = errors.New("session: turn superseded")

const (
	sessionKeyPrefix = "voice:session:"
	defaultTTL       = 24 * time.Hour
	casAttempts      = 3
)

var tracer = otel.Tracer("voice.internal.session")

// RedisStore keeps the live memory of each call.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{redis: client, ttl: ttl}
}

func sessionKey(callID string) string {
	return sessionKeyPrefix + callID
}

// Load returns nil without error for an unknown call.
func (s *RedisStore) Load(ctx context.Context, callID string) (*Memory, error) {
	ctx, span := tracer.Start(ctx, "session.load")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: load %s: %w", callID, err)
	}
	var m Memory
	if err := json.Unmarshal(data, &m); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: decode %s: %w", callID, err)
	}
	return &m, nil
}

// Save writes m unless the stored copy already carries m.TurnSeq or a later
// turn, in which case it returns ErrTurnSuperseded and leaves the store as is.
func (s *RedisStore) Save(ctx context.Context, m *Memory) error {
	if m == nil || m.CallID == "" {
		return fmt.Errorf("session: call id required")
	}
	ctx, span := tracer.Start(ctx, "session.save")
	defer span.End()
	span.SetAttributes(attribute.String("call.id", m.CallID), attribute.Int("turn.seq", m.TurnSeq))

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", m.CallID, err)
	}
	key := sessionKey(m.CallID)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var stored struct {
				TurnSeq int `json:"turnSeq"`
			}
			if err := json.Unmarshal(current, &stored); err != nil {
				return fmt.Errorf("session: decode stored %s: %w", m.CallID, err)
			}
			if stored.TurnSeq >= m.TurnSeq {
				return ErrTurnSuperseded
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < casAttempts; i++ {
		err = s.redis.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, ErrTurnSuperseded) {
		return err
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: save %s: %w", m.CallID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, callID string) error {
	if err := s.redis.Del(ctx, sessionKey(callID)).Err(); err != nil {
		return fmt.Errorf("session: delete %s: %w", callID, err)
	}
	return nil
}
