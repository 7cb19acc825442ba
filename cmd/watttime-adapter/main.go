package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/watttime-adapter/internal/api"
	"github.com/Checker-Finance/watttime-adapter/internal/config"
	"github.com/Checker-Finance/watttime-adapter/internal/emissions"
	"github.com/Checker-Finance/watttime-adapter/internal/jobs"
	"github.com/Checker-Finance/watttime-adapter/internal/metrics"
	"github.com/Checker-Finance/watttime-adapter/internal/publisher"
	"github.com/Checker-Finance/watttime-adapter/internal/rabbitmq"
	"github.com/Checker-Finance/watttime-adapter/internal/rate"
	"github.com/Checker-Finance/watttime-adapter/internal/regions"
	internalsecrets "github.com/Checker-Finance/watttime-adapter/internal/secrets"
	"github.com/Checker-Finance/watttime-adapter/internal/store"
	"github.com/Checker-Finance/watttime-adapter/internal/stream"
	"github.com/Checker-Finance/watttime-adapter/pkg/eventbus"
	"github.com/Checker-Finance/watttime-adapter/pkg/logger"
	"github.com/Checker-Finance/watttime-adapter/pkg/secrets"
	"github.com/Checker-Finance/watttime-adapter/pkg/utils"
	"github.com/Checker-Finance/watttime-adapter/pkg/watttime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	logg := logger.S()
	logg.Info("starting [watttime-adapter]...")
	logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))

	// --- AWS Secrets Manager provider ---
	awsProvider, err := secrets.NewAWSProvider(cfg.AWSRegion)
	if err != nil {
		logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
	}

	// --- Credentials resolver (secrets cached in-memory) ---
	credsCache := secrets.NewCache[secrets.Credentials](cfg.CacheTTL)
	stopCleaner := make(chan struct{})
	go credsCache.StartCleaner(cfg.CleanupFreq, stopCleaner)

	resolver := internalsecrets.NewCredentialsResolver(
		logg.Desugar(),
		cfg.Env,
		awsProvider,
		credsCache,
	)

	// --- Discover configured accounts ---
	accounts, err := resolver.DiscoverAccounts(ctx)
	if err != nil {
		logg.Warnw("failed to discover WattTime accounts from AWS Secrets Manager", "error", err)
	} else {
		logg.Infow("discovered WattTime accounts", "count", len(accounts), "accounts", accounts)
	}

	creds, err := resolver.Resolve(ctx, cfg.AccountName)
	if err != nil {
		logg.Fatalw("failed to resolve WattTime credentials",
			"account", cfg.AccountName, "error", err)
	}

	// --- WattTime client (performs the login handshake up front) ---
	wtOpts := []watttime.Option{
		watttime.WithLogger(logger.L()),
		watttime.WithRetryPolicy(watttime.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			Delay:       cfg.RetryDelay,
		}),
		watttime.WithRefreshObserver(metrics.TokenRefreshesTotal.Inc),
	}
	if cfg.WattTimeBaseURL != "" {
		wtOpts = append(wtOpts, watttime.WithBaseURL(cfg.WattTimeBaseURL))
	}
	wt, err := watttime.Login(ctx, creds.Username, creds.Password, wtOpts...)
	if err != nil {
		logg.Fatalw("failed to log in to WattTime", "error", err)
	}

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}

	// --- Publisher ---
	pub, err := publisher.New(nc, cfg.OutboundSubject, cfg.ServiceName)
	if err != nil {
		logg.Fatalw("failed to init publisher", "error", err)
	}

	// --- Rate limiter ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.RateRequestsPerSecond,
		Burst:             cfg.RateBurst,
	})

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, cfg.SnapshotTTL, logg.Desugar())
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}

	// --- Region catalog ---
	catalog := regions.NewCatalog(logg.Desugar())
	catalog.Seed(cfg.Regions)

	// --- In-process event bus (service → websocket hub) ---
	bus := eventbus.New()

	// --- Emissions service ---
	svc := emissions.NewService(
		cfg,
		logg.Desugar(),
		wt.Emissions,
		catalog,
		pub,
		st,
		bus,
		rateMgr,
	)

	// --- Poller ---
	poller := emissions.NewPoller(logg.Desugar(), cfg, svc, cfg.PollInterval)
	if len(cfg.Regions) == 0 {
		logg.Warn("no regions configured; skipping signal poller startup")
	} else {
		go poller.Run(ctx)
	}

	// --- Daily summary refresher ---
	var refresher *jobs.SummaryRefresher
	if hybrid, ok := st.(*store.HybridStore); ok && hybrid.PG != nil {
		refresher = jobs.NewSummaryRefresher(logg.Desugar(), nc, hybrid.PG, pub, 24*time.Hour)
		go refresher.Start(ctx)
	} else {
		logg.Warn("postgres unavailable; skipping summary refresher startup")
	}

	// --- Backfill queue consumer ---
	var consumer *rabbitmq.Consumer
	if cfg.RabbitURL != "" {
		consumer, err = rabbitmq.NewConsumer(cfg.RabbitURL, cfg.BackfillQueue, svc, logg.Desugar())
		if err != nil {
			logg.Fatalw("failed to init RabbitMQ consumer", "error", err)
		}
		if err := consumer.Start(ctx); err != nil {
			logg.Fatalw("failed to start RabbitMQ consumer", "error", err)
		}
	} else {
		logg.Warn("RABBITMQ_URL not set; backfill queue consumer disabled")
	}

	// --- Websocket stream ---
	var streamSrv *stream.Server
	if cfg.StreamEnabled {
		hub := stream.NewHub(logg.Desugar())
		hub.Attach(bus)
		streamSrv = stream.NewServer(cfg.StreamPort, hub, logg.Desugar())
		go func() {
			if err := streamSrv.Start(); err != nil {
				logg.Fatalw("stream.listen_failed", "error", err)
			}
		}()
	}

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	handler := api.NewEmissionsHandler(logg.Desugar(), svc, catalog)
	api.RegisterRoutes(app, nc, st, handler)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[watttime-adapter] running",
		"nats", cfg.NATSURL,
		"env", cfg.Env,
		"regions", cfg.Regions,
		"poll_interval", cfg.PollInterval)

	<-ctx.Done()
	logg.Info("shutting down [watttime-adapter]...")

	close(stopCleaner)
	poller.Stop()
	if refresher != nil {
		refresher.Stop()
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logg.Warnw("rabbitmq.close_failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if streamSrv != nil {
		if err := streamSrv.Shutdown(shutdownCtx); err != nil {
			logg.Warnw("stream.shutdown_failed", "error", err)
		}
	}
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
