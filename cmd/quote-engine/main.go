package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/quote-engine/internal/api"
	"github.com/Checker-Finance/quote-engine/internal/execution"
	"github.com/Checker-Finance/quote-engine/internal/httpclient"
	"github.com/Checker-Finance/quote-engine/internal/ingest"
	"github.com/Checker-Finance/quote-engine/internal/jobs"
	"github.com/Checker-Finance/quote-engine/internal/pricing"
	"github.com/Checker-Finance/quote-engine/internal/provider"
	"github.com/Checker-Finance/quote-engine/internal/provider/feed"
	"github.com/Checker-Finance/quote-engine/internal/provider/httpfeed"
	"github.com/Checker-Finance/quote-engine/internal/publisher"
	"github.com/Checker-Finance/quote-engine/internal/quotelock"
	"github.com/Checker-Finance/quote-engine/internal/rate"
	"github.com/Checker-Finance/quote-engine/internal/resolver"
	"github.com/Checker-Finance/quote-engine/internal/store"
	"github.com/Checker-Finance/quote-engine/internal/stream"
	"github.com/Checker-Finance/quote-engine/pkg/config"
	"github.com/Checker-Finance/quote-engine/pkg/logger"
	"github.com/Checker-Finance/quote-engine/pkg/secrets"
	"github.com/Checker-Finance/quote-engine/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	logg := logger.S()
	logg.Info("starting [quote-engine]...")
	logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}

	// --- Publisher ---
	pub, err := publisher.New(nc, cfg.UpdateSubject, cfg.ServiceName)
	if err != nil {
		logg.Fatalw("failed to init publisher", "error", err)
	}

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, logg.Desugar())
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}

	// --- Provider registry ---
	registry := provider.NewRegistry()
	registry.Register(provider.NewManual())
	if cfg.Env != "prod" {
		registry.Register(provider.NewStub())
	}

	// --- HTTP feed providers, discovered from AWS Secrets Manager ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: 10,
		Burst:             20,
	})
	exec := httpclient.New(logg.Desugar(), rateMgr, &http.Client{Timeout: cfg.ProviderTimeout}, 2, "httpfeed")

	feedCache := secrets.NewCache[httpfeed.Config](cfg.SecretCacheTTL)
	stopCleaner := make(chan struct{})
	go feedCache.StartCleaner(cfg.SecretCleanFreq, stopCleaner)

	awsProvider, err := secrets.NewAWSProvider(cfg.AWSRegion)
	if err != nil {
		logg.Warnw("AWS Secrets Manager unavailable; no HTTP feeds registered", "error", err)
	} else {
		keys, err := httpfeed.DiscoverKeys(ctx, logg.Desugar(), awsProvider, cfg.Env)
		if err != nil {
			logg.Warnw("failed to discover feeds from AWS Secrets Manager", "error", err)
		}
		for _, key := range keys {
			res := httpfeed.NewSecretsResolver(logg.Desugar(), awsProvider, feedCache,
				httpfeed.SecretNameFor(cfg.Env, key))
			registry.Register(httpfeed.New(key, logg.Desugar(), exec, res))
		}
	}

	// --- Streaming market-data feed (optional) ---
	var wsFeed *feed.Feed
	if cfg.WSFeedURL != "" {
		wsFeed = feed.New(cfg.WSFeedKey, cfg.WSFeedURL, cfg.WSFeedAPIKey, logg.Desugar())
		registry.Register(wsFeed)
		go wsFeed.Start(ctx)
	}

	// --- Pricing, resolution, ingestion ---
	pricer := pricing.NewEngine(cfg.Spreads, cfg.DisplayScale)
	res := resolver.New(logg.Desugar(), registry, pricer, cfg.StaleAfter, cfg.ProviderTimeout)

	hostname, _ := os.Hostname()
	holder := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
	scheduler := ingest.New(logg.Desugar(), ingest.Config{
		PollInterval: cfg.PollInterval,
		LockName:     cfg.IngestLockName,
		LockTTL:      cfg.IngestLockTTL,
		CacheTTL:     cfg.QuoteCacheTTL,
	}, st, st, res, pub, holder)
	go scheduler.Start(ctx)

	// --- Quote locks ---
	lockSvc := quotelock.NewService(logg.Desugar(), st, cfg.LockTTL)

	// --- Stream hub bridging NATS updates to SSE subscribers ---
	hub := stream.NewHub(logg.Desugar())
	go func() {
		if err := hub.Run(ctx, nc, cfg.UpdateSubject); err != nil {
			logg.Warnw("stream.hub_failed", "error", err)
		}
	}()

	// --- Audit retention (needs Postgres) ---
	var pruner *jobs.AuditPruner
	if pool := st.PG(); pool != nil {
		pruner = jobs.NewAuditPruner(logg.Desugar(), pool, pub, cfg.AuditPruneInterval, cfg.AuditRetention)
		go pruner.Start(ctx)
	}

	// --- Execution consumer (optional) ---
	var consumer *execution.Consumer
	if cfg.RabbitURL != "" {
		consumer, err = execution.NewConsumer(cfg.RabbitURL, lockSvc, logg.Desugar())
		if err != nil {
			logg.Fatalw("failed to init RabbitMQ consumer", "error", err)
		}
		if err := consumer.Start(ctx); err != nil {
			logg.Fatalw("failed to start RabbitMQ consumer", "error", err)
		}
	} else {
		logg.Warn("RABBIT_URL not configured; booked-trade reconciliation disabled")
	}

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	handler := api.NewHandler(logg.Desugar(), st, lockSvc, hub)
	api.RegisterRoutes(app, nc, st, handler)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	// --- Main process stays alive until interrupted ---
	logg.Infow("[quote-engine] running",
		"nats", cfg.NATSURL,
		"env", cfg.Env,
		"poll_interval", cfg.PollInterval,
		"providers", len(registry.List()))

	<-ctx.Done()
	logg.Info("shutting down [quote-engine]...")

	close(stopCleaner)
	scheduler.Stop()
	if wsFeed != nil {
		wsFeed.Stop()
	}
	if pruner != nil {
		pruner.Stop()
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logg.Warnw("rabbitmq.close_failed", "error", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := nc.Drain(); err != nil {
		logg.Warnw("nats.drain_failed", "error", err)
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}
