// main.go — extraction worker entrypoint.
// Dequeues extraction jobs, fetches subtitles, persists results, and
// fires webhook notifications.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/tubetext/tubetext/internal/api"
	"github.com/tubetext/tubetext/internal/config"
	"github.com/tubetext/tubetext/internal/extractor"
	"github.com/tubetext/tubetext/internal/logger"
	"github.com/tubetext/tubetext/internal/proxypool"
	"github.com/tubetext/tubetext/internal/queue"
	"github.com/tubetext/tubetext/internal/rediscache"
	"github.com/tubetext/tubetext/internal/store"
	"github.com/tubetext/tubetext/internal/webhook"
	"github.com/tubetext/tubetext/internal/worker"
	"github.com/tubetext/tubetext/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	slogger := logger.New(cfg.LogFormat, cfg.LogLevel)

	if err := telemetry.InitSentry(cfg.SentryDSN, cfg.ServiceName+"-worker", cfg.Environment, api.Version); err != nil {
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

	pool, err := store.Connect(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.WorkerDBPoolSize)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()
	if err := store.EnsureSchema(ctx, pool, cfg.DBSchema, cfg.DBAutoCreate, slogger); err != nil {
		log.Fatalf("schema bootstrap failed: %v", err)
	}

	repo := store.NewRepository(pool, logger.Component(slogger, "store"))
	shared := rediscache.New(rdb, logger.Component(slogger, "rediscache"))
	q := queue.New(rdb, cfg.QueueName, cfg.ResultTTL, logger.Component(slogger, "queue"))

	var proxies *proxypool.Pool
	if cfg.ProxyURLs != "" {
		proxies = proxypool.New(cfg.ProxyURLs, cfg.ProxyAuth,
			cfg.ProxyCooldown, cfg.ProxyMaxFailures, shared,
			logger.Component(slogger, "proxypool"))
		if proxies.Size() == 0 {
			slogger.Warn("no usable proxies parsed, running without proxy rotation")
			proxies = nil
		}
	}

	extr := extractor.New(
		extractor.NewWatchPageEngine(""),
		extractor.NewInnertubeEngine(""),
		proxies,
		cfg.ExtractionTimeout,
		logger.Component(slogger, "extractor"),
	)
	notifier := webhook.NewClient(cfg.WebhookSecret, cfg.WebhookTimeout, cfg.WebhookMaxRetries,
		logger.Component(slogger, "webhook"))

	rt := worker.New(q, repo, shared, extr, notifier, worker.Options{
		Concurrency:   cfg.WorkerConcurrency,
		MaxAttempts:   cfg.RetryMaxAttempts,
		BackoffFactor: cfg.RetryBackoffFactor,
		JobTimeout:    cfg.QueueJobTimeout(),
		ResultTTL:     cfg.ResultTTL,
	}, logger.Component(slogger, "worker"))

	proxyCount := 0
	if proxies != nil {
		proxyCount = proxies.Size()
	}
	slogger.Info("worker starting",
		"concurrency", cfg.WorkerConcurrency,
		"queue", cfg.QueueName,
		"proxies", proxyCount)
	if err := rt.Run(ctx); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
	slogger.Info("worker stopped")
}
