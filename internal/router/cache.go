package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// cachedDecision is what the result cache keeps. Reply text is re-picked
// from the scenario on a hit so anti-repeat still applies.
type cachedDecision struct {
	Source     Source  `json:"source"`
	Tier       int     `json:"tier"`
	ScenarioID string  `json:"scenarioId,omitempty"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ResultCache memoizes routing decisions in Redis. Keys embed the pool and
// tenant config versions, so an edit to either makes old entries unreachable.
type ResultCache struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

func NewResultCache(client *redis.Client, prefix string, ttl time.Duration) *ResultCache {
	if client == nil {
		panic("router: redis client cannot be nil")
	}
	if prefix == "" {
		prefix = "voice:result"
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ResultCache{redis: client, prefix: prefix, ttl: ttl}
}

func (c *ResultCache) key(tenantID, poolVersion, configVersion, normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%s:%s:%s:%s:%s", c.prefix, tenantID, poolVersion, configVersion, hex.EncodeToString(sum[:12]))
}

func (c *ResultCache) get(ctx context.Context, key string) (cachedDecision, bool, error) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return cachedDecision{}, false, nil
	}
	if err != nil {
		return cachedDecision{}, false, fmt.Errorf("router: result cache get: %w", err)
	}
	var d cachedDecision
	if err := json.Unmarshal(data, &d); err != nil {
		return cachedDecision{}, false, fmt.Errorf("router: result cache decode: %w", err)
	}
	return d, true, nil
}

func (c *ResultCache) set(ctx context.Context, key string, d cachedDecision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("router: result cache encode: %w", err)
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("router: result cache set: %w", err)
	}
	return nil
}

// InvalidateTenant deletes every cached decision for a tenant.
func (c *ResultCache) InvalidateTenant(ctx context.Context, tenantID string) error {
	iter := c.redis.Scan(ctx, 0, c.prefix+":"+tenantID+":*", 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 200 {
			if err := c.redis.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("router: invalidate %s: %w", tenantID, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("router: invalidate %s: %w", tenantID, err)
	}
	if len(batch) > 0 {
		if err := c.redis.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("router: invalidate %s: %w", tenantID, err)
		}
	}
	return nil
}
