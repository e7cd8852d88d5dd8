package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/wolfman30/voice-turn-core/cmd/mainconfig"
	"github.com/wolfman30/voice-turn-core/internal/app/bootstrap"
	appconfig "github.com/wolfman30/voice-turn-core/internal/config"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting voice turn API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()
	deps, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", "error", err)
		os.Exit(1)
	}

	engine, err := bootstrap.BuildEngine(ctx, deps)
	if err != nil {
		logger.Error("failed to build turn engine", "error", err)
		os.Exit(1)
	}
	if err := engine.Start(ctx); err != nil {
		logger.Error("failed to start invalidation bus", "error", err)
		os.Exit(1)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      engine.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if err := engine.Close(); err != nil {
		logger.Warn("engine close failed", "error", err)
	}
	if deps.Redis != nil {
		_ = deps.Redis.Close()
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// buildDeps connects Redis and the AWS clients. With SEED_FIXTURE set the
// DynamoDB tables are replaced by the fixture.
func buildDeps(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (bootstrap.Deps, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := bootstrap.Deps{
		Config:   cfg,
		Logger:   logger,
		Redis:    bootstrap.BuildRedisClient(ctx, cfg, logger, true),
		Registry: registry,
	}
	if deps.Redis == nil {
		return deps, fmt.Errorf("redis unavailable at %q", cfg.RedisAddr)
	}

	if path := strings.TrimSpace(cfg.SeedFixturePath); path != "" {
		fx, err := bootstrap.LoadFixture(path)
		if err != nil {
			return deps, err
		}
		deps.Fixture = fx
		logger.Info("loaded seed fixture", "path", path)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return deps, fmt.Errorf("load AWS config: %w", err)
	}
	if deps.Fixture == nil {
		deps.Dynamo = dynamodb.NewFromConfig(awsCfg)
	}
	if strings.TrimSpace(cfg.SessionArchiveBucket) != "" {
		deps.S3 = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWSEndpointOverride != ""
		})
	}
	if strings.TrimSpace(cfg.TraceQueueURL) != "" {
		deps.SQS = sqs.NewFromConfig(awsCfg)
	}
	if strings.TrimSpace(cfg.BedrockModelID) != "" || strings.TrimSpace(cfg.BedrockEmbeddingModelID) != "" {
		deps.Bedrock = bedrockruntime.NewFromConfig(awsCfg)
	}
	return deps, nil
}
