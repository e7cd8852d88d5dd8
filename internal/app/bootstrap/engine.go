package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	apirouter "github.com/wolfman30/voice-turn-core/internal/api/router"
	"github.com/wolfman30/voice-turn-core/internal/budget"
	appconfig "github.com/wolfman30/voice-turn-core/internal/config"
	"github.com/wolfman30/voice-turn-core/internal/docstore"
	"github.com/wolfman30/voice-turn-core/internal/events"
	"github.com/wolfman30/voice-turn-core/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/voice-turn-core/internal/http/middleware"
	"github.com/wolfman30/voice-turn-core/internal/invalidation"
	"github.com/wolfman30/voice-turn-core/internal/learning"
	"github.com/wolfman30/voice-turn-core/internal/observability/metrics"
	"github.com/wolfman30/voice-turn-core/internal/orchestrator"
	"github.com/wolfman30/voice-turn-core/internal/router"
	"github.com/wolfman30/voice-turn-core/internal/scenario"
	"github.com/wolfman30/voice-turn-core/internal/session"
	"github.com/wolfman30/voice-turn-core/internal/tenant"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

const (
	tenantDocPrefix   = "voice:doc:tenant"
	scenarioDocPrefix = "voice:doc:scenarios"
	tier3Burst        = 5
	turnRatePerSecond = 20
	turnBurst         = 40
	poolBuildTimeout  = 5 * time.Second
)

// Deps are the external clients the engine is built from. Redis is
// required; Dynamo is required unless Fixture is set. The rest are optional.
type Deps struct {
	Config   *appconfig.Config
	Logger   *logging.Logger
	Redis    *redis.Client
	Dynamo   docstore.DynamoAPI
	S3       session.S3API
	SQS      events.SQSAPI
	Bedrock  *bedrockruntime.Client
	Registry *prometheus.Registry
	Fixture  *Fixture
}

// Engine is the wired turn pipeline plus its HTTP surface.
type Engine struct {
	Orchestrator *orchestrator.Orchestrator
	Router       *router.Router
	Configs      *tenant.Cache
	Pools        *scenario.PoolCache
	Bus          *invalidation.Bus
	Arena        *learning.Arena
	Metrics      *metrics.TurnMetrics
	Handler      http.Handler

	logger  *logging.Logger
	tier3   *Tier3
	stopBus func()
}

// BuildEngine wires every component of the turn pipeline.
func BuildEngine(ctx context.Context, deps Deps) (*Engine, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if deps.Redis == nil {
		return nil, errors.New("bootstrap: redis is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	var turnMetrics *metrics.TurnMetrics
	if deps.Registry != nil {
		turnMetrics = BuildMetrics(deps.Registry)
	}
	sink := BuildSink(cfg, deps.SQS, turnMetrics, logger)

	tenantSource, loader, err := buildSources(deps, logger)
	if err != nil {
		return nil, err
	}

	configOpts := []tenant.CacheOption{tenant.WithLogger(logger)}
	poolOpts := []scenario.PoolCacheOption{scenario.WithLogger(logger), scenario.WithBuildTimeout(poolBuildTimeout)}
	if turnMetrics != nil {
		configOpts = append(configOpts, tenant.WithObserver(turnMetrics))
		poolOpts = append(poolOpts, scenario.WithObserver(turnMetrics))
	}
	configs := tenant.NewCache(tenantSource, cfg.ConfigCacheTTL, configOpts...)
	poolOpts = append(poolOpts, scenario.WithLexiconSource(configs))
	pools := scenario.NewPoolCache(loader, cfg.PoolCacheTTL, poolOpts...)

	tier3, err := BuildTier3(ctx, cfg, deps.Bedrock, logger)
	if err != nil {
		return nil, err
	}

	routerOpts := []router.Option{
		router.WithSemantic(BuildScorer(cfg, deps.Bedrock, logger)),
		router.WithResultCache(router.NewResultCache(deps.Redis, "", cfg.ResultCacheTTL)),
		router.WithSink(sink),
		router.WithLogger(logger),
		router.WithMaxTokens(cfg.Tier3MaxTokens),
	}
	if tier3 != nil {
		gate := budget.NewGate(
			budget.NewTracker(deps.Redis, ""),
			budget.NewAdmission(cfg.Tier3RatePerMinute, tier3Burst),
			logger,
		)
		routerOpts = append(routerOpts, router.WithTier3(tier3.Provider, gate))
	}
	engine := router.New(pools, configs, routerOpts...)

	arena := learning.NewArena(learning.WithLogger(logger))
	orchOpts := []orchestrator.Option{
		orchestrator.WithLearner(arena),
		orchestrator.WithSink(sink),
		orchestrator.WithLogger(logger),
	}
	if turnMetrics != nil {
		orchOpts = append(orchOpts, orchestrator.WithTurnObserver(turnMetrics))
	}
	if deps.Dynamo != nil && strings.TrimSpace(cfg.CallerMemoryTable) != "" {
		callers := session.NewCallerMemoryStore(docstore.NewTable(deps.Dynamo, cfg.CallerMemoryTable, logger))
		orchOpts = append(orchOpts, orchestrator.WithCallerMemory(callers))
		logger.Info("caller memory enabled", "table", cfg.CallerMemoryTable)
	}
	if deps.S3 != nil && strings.TrimSpace(cfg.SessionArchiveBucket) != "" {
		orchOpts = append(orchOpts, orchestrator.WithArchiver(session.NewS3Archiver(deps.S3, cfg.SessionArchiveBucket, logger)))
		logger.Info("session archive enabled", "bucket", cfg.SessionArchiveBucket)
	}
	orch := orchestrator.New(configs, engine, session.NewRedisStore(deps.Redis, cfg.SessionTTL), configs, orchOpts...)

	// Backing stores are forgotten inside pools.Invalidate and
	// configs.Invalidate; the result cache goes last so no stale decision
	// outlives the rebuild.
	bus := invalidation.NewBus(deps.Redis, cfg.InvalidationChannel, logger)
	bus.On(invalidation.KindScenarios, pools.Invalidate)
	bus.On(invalidation.KindConfig, configs.Invalidate)
	bus.On(invalidation.KindConfig, pools.Invalidate)
	bus.On(invalidation.KindAll, engine.InvalidateTenant)

	var metricsHandler http.Handler
	if deps.Registry != nil {
		metricsHandler = promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})
	}
	redisClient := deps.Redis
	handler := apirouter.New(&apirouter.Config{
		Logger:       logger,
		Turns:        handlers.NewTurnHandler(orch, logger),
		AdminTenants: handlers.NewAdminTenantHandler(bus, arena, logger),
		HealthDeps: map[string]handlers.Pinger{
			"redis": handlers.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		},
		MetricsHandler:  metricsHandler,
		AdminAuthSecret: cfg.AdminJWTSecret,
		TurnLimiter:     httpmiddleware.NewRateLimiter(turnRatePerSecond, turnBurst),
	})

	return &Engine{
		Orchestrator: orch,
		Router:       engine,
		Configs:      configs,
		Pools:        pools,
		Bus:          bus,
		Arena:        arena,
		Metrics:      turnMetrics,
		Handler:      handler,
		logger:       logger,
		tier3:        tier3,
	}, nil
}

func buildSources(deps Deps, logger *logging.Logger) (tenant.Source, scenario.Loader, error) {
	if deps.Fixture != nil {
		logger.Info("serving tenants from fixture", "tenants", len(deps.Fixture.Tenants))
		return deps.Fixture.Tenants, deps.Fixture.Scenarios, nil
	}
	if deps.Dynamo == nil {
		return nil, nil, errors.New("bootstrap: dynamodb client or fixture is required")
	}
	cfg := deps.Config
	tenants := tenant.NewStore(
		docstore.NewTable(deps.Dynamo, cfg.TenantConfigTable, logger),
		docstore.NewCache(deps.Redis, tenantDocPrefix, cfg.ConfigCacheTTL),
	)
	scenarios := scenario.NewStoreLoader(
		docstore.NewTable(deps.Dynamo, cfg.ScenarioTable, logger),
		docstore.NewCache(deps.Redis, scenarioDocPrefix, cfg.PoolCacheTTL),
	)
	return tenants, scenarios, nil
}

// Start subscribes to the invalidation channel.
func (e *Engine) Start(ctx context.Context) error {
	stop, err := e.Bus.Start(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: start invalidation bus: %w", err)
	}
	e.stopBus = stop
	return nil
}

// Close stops the subscriber and releases provider clients.
func (e *Engine) Close() error {
	if e.stopBus != nil {
		e.stopBus()
	}
	if err := e.tier3.Close(); err != nil {
		e.logger.Warn("failed to close tier 3 provider", "error", err)
		return err
	}
	return nil
}
