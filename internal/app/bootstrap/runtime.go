package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/voice-turn-core/internal/config"
	"github.com/wolfman30/voice-turn-core/internal/events"
	"github.com/wolfman30/voice-turn-core/internal/llm"
	"github.com/wolfman30/voice-turn-core/internal/observability/metrics"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// BuildSink fans turn events out to the log, metrics, and, when a queue is
// configured, the SQS trace queue.
func BuildSink(cfg *appconfig.Config, sqsClient events.SQSAPI, turnMetrics *metrics.TurnMetrics, logger *logging.Logger) events.Sink {
	if logger == nil {
		logger = logging.Default()
	}
	sinks := events.MultiSink{events.NewLogSink(logger)}
	if turnMetrics != nil {
		sinks = append(sinks, turnMetrics)
	}
	if cfg != nil && strings.TrimSpace(cfg.TraceQueueURL) != "" && sqsClient != nil {
		sinks = append(sinks, events.NewSQSSink(sqsClient, cfg.TraceQueueURL, logger))
		logger.Info("trace queue enabled", "queue_url", cfg.TraceQueueURL)
	}
	return sinks
}

// BuildMetrics registers the turn and provider collectors on reg.
func BuildMetrics(reg prometheus.Registerer) *metrics.TurnMetrics {
	if reg == nil {
		return nil
	}
	m := metrics.NewTurnMetrics(reg)
	llm.RegisterMetrics(reg)
	return m
}
