// main.go — API server entrypoint.
// Serves the subtitle cache and extraction-queue endpoints.
// Requires DATABASE_URL; REDIS_URL defaults to a local instance.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tubetext/tubetext/internal/api"
	"github.com/tubetext/tubetext/internal/auth"
	"github.com/tubetext/tubetext/internal/config"
	"github.com/tubetext/tubetext/internal/logger"
	"github.com/tubetext/tubetext/internal/memcache"
	"github.com/tubetext/tubetext/internal/orchestrator"
	"github.com/tubetext/tubetext/internal/queue"
	"github.com/tubetext/tubetext/internal/ratelimit"
	"github.com/tubetext/tubetext/internal/rediscache"
	"github.com/tubetext/tubetext/internal/store"
	"github.com/tubetext/tubetext/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	slogger := logger.New(cfg.LogFormat, cfg.LogLevel)

	if err := telemetry.InitSentry(cfg.SentryDSN, cfg.ServiceName, cfg.Environment, api.Version); err != nil {
		slogger.Warn("sentry init failed", "error", err)
	}
	defer telemetry.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis URL parse failed: %v", err)
	}
	rdb := redis.NewClient(redisOpt)
	defer rdb.Close()

	pool, err := store.Connect(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBPoolSize)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()
	if err := store.EnsureSchema(ctx, pool, cfg.DBSchema, cfg.DBAutoCreate, slogger); err != nil {
		log.Fatalf("schema bootstrap failed: %v", err)
	}

	repo := store.NewRepository(pool, logger.Component(slogger, "store"))
	shared := rediscache.New(rdb, logger.Component(slogger, "rediscache"))
	mem := memcache.New(cfg.MemoryCacheMax, cfg.MemoryCacheTTL)
	q := queue.New(rdb, cfg.QueueName, cfg.ResultTTL, logger.Component(slogger, "queue"))
	orch := orchestrator.New(mem, shared, repo, q, cfg.ResultTTL, logger.Component(slogger, "orchestrator"))
	limiter := ratelimit.New(ratelimit.NewRedisStore(rdb),
		cfg.RateLimitRPM, cfg.RateLimitBurst, cfg.RateLimitFailOpen,
		logger.Component(slogger, "ratelimit"))
	guard := auth.NewGuard(cfg.JWTSecret, cfg.APIKey, cfg.APIKeyHeaderName)

	srv := api.NewServer(cfg, orch, shared, mem, repo, q, limiter, guard,
		logger.Component(slogger, "api"))

	httpSrv := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slogger.Info("api server starting", "port", cfg.APIPort, "environment", cfg.Environment)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slogger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slogger.Error("shutdown error", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}
	slogger.Info("api server stopped")
}
