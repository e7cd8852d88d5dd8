package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Cache is a JSON key-value cache on Redis with a fixed TTL.
type Cache struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	tracer trace.Tracer
}

func NewCache(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	if client == nil {
		panic("docstore: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
		tracer: otel.Tracer("voice.internal.docstore"),
	}
}

// Key builds the namespaced cache key for id.
func (c *Cache) Key(id string) string {
	return c.prefix + ":" + id
}

// GetJSON decodes the cached value for id into out. A miss returns false and no error.
func (c *Cache) GetJSON(ctx context.Context, id string, out any) (bool, error) {
	data, err := c.redis.Get(ctx, c.Key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("docstore: cache get %s: %w", c.Key(id), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("docstore: cache decode %s: %w", c.Key(id), err)
	}
	return true, nil
}

// SetJSON stores v under id with the cache TTL.
func (c *Cache) SetJSON(ctx context.Context, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("docstore: cache encode %s: %w", c.Key(id), err)
	}
	if err := c.redis.Set(ctx, c.Key(id), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("docstore: cache set %s: %w", c.Key(id), err)
	}
	return nil
}

// Delete drops id from the cache.
func (c *Cache) Delete(ctx context.Context, id string) error {
	if err := c.redis.Del(ctx, c.Key(id)).Err(); err != nil {
		return fmt.Errorf("docstore: cache delete %s: %w", c.Key(id), err)
	}
	return nil
}

// ReadThrough returns the cached value for id, or calls load and caches its
// result. Cache failures degrade to a direct load; they never fail the read.
func ReadThrough[T any](ctx context.Context, c *Cache, id string, load func(context.Context) (T, error)) (T, error) {
	ctx, span := c.tracer.Start(ctx, "docstore.read_through")
	defer span.End()
	span.SetAttributes(attribute.String("cache.key", c.Key(id)))

	var cached T
	hit, err := c.GetJSON(ctx, id, &cached)
	if err != nil {
		span.RecordError(err)
	}
	if hit {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	val, err := load(ctx)
	if err != nil {
		span.RecordError(err)
		var zero T
		return zero, err
	}
	if err := c.SetJSON(ctx, id, val); err != nil {
		span.RecordError(err)
	}
	return val, nil
}
