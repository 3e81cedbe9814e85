// Package main is the entry point for the Airtime API server.
//
// It loads configuration (env, .env, SSM), builds the durable ledger pool,
// the ephemeral lock store, the external identity and realtime clients, and
// the session engine, then serves the v1 API over HTTP with graceful
// shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"golang.org/x/sync/errgroup"

	"airtime/internal/api/handlers"
	"airtime/internal/billing"
	"airtime/internal/config"
	"airtime/internal/core"
	"airtime/internal/db"
	"airtime/internal/external"
	"airtime/internal/lockstore"
	"airtime/internal/queue"
	"airtime/internal/session"
	"airtime/internal/telemetry"
)

const localEnvironment = "local"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	// SSM resolution is bypassed when APP_ENV=local, so no provider is needed
	// there. The region must come from the raw environment because the
	// provider is constructed before the config is parsed.
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != localEnvironment {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}

	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("airtime API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	// Durable ledger.
	database, err := db.New(ctx, db.PoolConfig{
		URL:               cfg.Database.URL.Unmask(),
		MaxConns:          int32(cfg.Database.MaxConns),
		MinConns:          int32(cfg.Database.MinConns),
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		ConnectTimeout:    cfg.Database.ConnectTimeout,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	// Ephemeral lock store. The engine fails open: an unreachable store at
	// startup degrades concurrency and rate enforcement, it does not block
	// serving.
	var locks lockstore.LockStore
	var redisStore *lockstore.RedisStore
	if redisURL := cfg.Redis.URL.Unmask(); redisURL != "" {
		redisStore, err = lockstore.NewRedisStoreFromURL(ctx, redisURL)
		if err != nil {
			logger.Error("lock store unavailable, continuing fail open", "error", err)
			locks = lockstore.NewNoop()
		} else {
			defer redisStore.Close()
			locks = redisStore
		}
	} else {
		logger.Warn("REDIS_URL not set, concurrency and rate limits run fail open")
		locks = lockstore.NewNoop()
	}

	// External clients.
	var identity external.IdentityVerifier
	if cfg.Identity.UseStub {
		logger.Warn("using stub identity verifier, tokens are not verified")
		identity = &external.StubIdentityVerifier{}
	} else {
		identity = external.NewIdentityVerifier(
			&http.Client{Timeout: cfg.Identity.Timeout},
			external.IdentityClientConfig{BaseURL: cfg.Identity.BaseURL, Logger: logger},
		)
	}

	issuer := external.NewRealtimeClient(
		&http.Client{Timeout: cfg.Realtime.Timeout},
		external.RealtimeClientConfig{
			APIKey:  cfg.Realtime.APIKey.Unmask(),
			BaseURL: cfg.Realtime.BaseURL,
			Logger:  logger,
		},
	)

	// Telemetry and the usage event queue share one AWS client config.
	// Both default to no-ops; neither is allowed to fail a request.
	var metrics telemetry.MetricsCollector = telemetry.Noop{}
	var usage queue.UsageEventPublisher = queue.NoopUsagePublisher{}
	emitMetrics := cfg.Observability.EnableMetrics && cfg.Environment != localEnvironment
	if emitMetrics || cfg.AWS.UsageQueueURL != "" {
		awsOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWS.Region)}
		if cfg.AWS.EndpointURL != "" {
			// LocalStack and similar emulators.
			awsOpts = append(awsOpts, awsconfig.WithBaseEndpoint(cfg.AWS.EndpointURL))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
		if emitMetrics {
			metrics = telemetry.NewCloudWatchCollector(
				cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger)
		}
		if cfg.AWS.UsageQueueURL != "" {
			usage = queue.NewSQSUsagePublisher(
				sqs.NewFromConfig(awsCfg), cfg.AWS.UsageQueueURL, logger)
		}
	}

	// Engine assembly.
	accounts := db.NewAccountRepo(database.Pool, logger)
	sessions := db.NewSessionRepo(database.Pool)
	planRegistry := billing.NewStaticPlanRegistry()

	sessionSvc := session.NewService(session.Config{
		Accounts:     accounts,
		Sessions:     sessions,
		Ledger:       session.NewPgLedger(database, logger),
		Locks:        locks,
		Plans:        planRegistry,
		Issuer:       issuer,
		Metrics:      metrics,
		Usage:        usage,
		Logger:       logger,
		DefaultModel: cfg.Realtime.DefaultModel,
	})

	syncer := billing.NewSubscriptionSyncer(accounts, logger)

	// HTTP chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Identity = identity
	srv.Locks = locks
	srv.Metrics = metrics

	srv.HealthProbes = append(srv.HealthProbes,
		core.ProbeFunc{ProbeName: "database", Fn: database.Ping})
	if redisStore != nil {
		srv.HealthProbes = append(srv.HealthProbes,
			core.ProbeFunc{ProbeName: "lock_store", Fn: redisStore.Ping})
	}

	sessionHandler := handlers.NewSessionHandler(sessionSvc, srv.Validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, sessionHandler.RegisterRoutes)

	webhookHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{}, syncer, cfg.Billing.StripeWebhookSecret.Unmask(), logger)
	srv.PublicRouteRegistrars = append(srv.PublicRouteRegistrars, webhookHandler.RegisterRoutes)

	srv.MountRoutes()

	return runHTTPServer(ctx, srv, cfg, logger)
}

// runHTTPServer serves until SIGINT/SIGTERM or a listener error, then drains
// in-flight requests within the configured shutdown deadline.
func runHTTPServer(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
