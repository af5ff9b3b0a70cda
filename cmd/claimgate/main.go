package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/claimgate/pkg/api"
	"github.com/platinummonkey/claimgate/pkg/async"
	"github.com/platinummonkey/claimgate/pkg/auth"
	"github.com/platinummonkey/claimgate/pkg/billing"
	"github.com/platinummonkey/claimgate/pkg/config"
	"github.com/platinummonkey/claimgate/pkg/entitlements"
	"github.com/platinummonkey/claimgate/pkg/housekeeping"
	"github.com/platinummonkey/claimgate/pkg/mailer"
	"github.com/platinummonkey/claimgate/pkg/middleware"
	"github.com/platinummonkey/claimgate/pkg/observability"
	"github.com/platinummonkey/claimgate/pkg/storage/postgres"
	"github.com/platinummonkey/claimgate/pkg/usage"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("claimgate exited with error")
		os.Exit(1)
	}
	logger.Info("claimgate stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	// Storage
	db, err := postgres.Open(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	store := postgres.New(db)
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info("database schema ready")

	var rdb *redis.Client
	var sessions auth.SessionStore = store.Sessions()
	var limiter middleware.Limiter
	rateConfig := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Auth.LoginRateLimit,
		WindowDuration:    cfg.Auth.LoginRateWindow,
	}
	if cfg.Storage.RedisURL != "" {
		rdb, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			return err
		}
		defer rdb.Close()
		sessions = postgres.NewRedisSessionStore(rdb)
		limiter = middleware.NewDistributedRateLimiter(rdb, rateConfig, "claimgate:throttle")
		logger.Info("using redis for sessions and login throttling")
	}

	table, err := entitlements.Load(cfg.EntitlementsPath)
	if err != nil {
		return err
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	metrics.RegisterDBStats(db)

	health := observability.NewHealthChecker(db, rdb, version)

	// Mail
	var sender mailer.Sender
	if cfg.Mail.Enabled {
		smtp, err := mailer.NewSMTPSender(mailer.Config{
			Enabled:  true,
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			StartTLS: cfg.Mail.StartTLS,
			Timeout:  cfg.Mail.Timeout,
		})
		if err != nil {
			return err
		}
		sender = smtp
	} else {
		logger.Warn("SMTP disabled, emails will be logged instead of sent")
		sender = mailer.NewLogSender(logger)
	}

	queueConfig := async.DefaultQueueConfig()
	queueConfig.Workers = cfg.Mail.Workers
	queueConfig.Capacity = cfg.Mail.QueueSize
	queueConfig.Retry.MaxAttempts = cfg.Mail.MaxAttempts
	notifier := mailer.NewNotifier(ctx, sender, metrics, mailer.NotifierConfig{
		Queue:         queueConfig,
		MagicLinkTTL:  cfg.Auth.MagicLinkTTL,
		ActivationTTL: cfg.Auth.ActivationTTL,
	}, logger)
	if cfg.Mail.Enabled {
		health.AddCheck("smtp", false, notifier.Ping)
	}

	// Domain services
	authService := auth.NewService(store, store, sessions, notifier, auth.Config{
		BaseURL:       cfg.Server.BaseURL,
		MagicLinkTTL:  cfg.Auth.MagicLinkTTL,
		ActivationTTL: cfg.Auth.ActivationTTL,
		SessionTTL:    cfg.Auth.SessionTTL,
	}, logger)
	meter := usage.NewMeter(store, table)

	var stripeClient billing.StripeClient
	if cfg.Billing.StripeSecretKey != "" {
		apiClient := billing.NewAPIClient(cfg.Billing.StripeSecretKey)
		stripeClient = apiClient
		health.AddCheck("stripe", false, apiClient.Ping)
	} else {
		logger.Warn("Stripe secret key not set, billing portal and API lookups are disabled")
	}
	processor := billing.NewProcessor(store, store, table.Resolver(), stripeClient, authService, metrics,
		billing.Config{WebhookSecret: cfg.Billing.StripeWebhookSecret}, logger)

	var scheduler *housekeeping.Scheduler
	if cfg.Housekeeping.Enabled {
		scheduler, err = housekeeping.New(housekeeping.Config{
			UsageSchedule:  cfg.Housekeeping.UsageSchedule,
			AuthSchedule:   cfg.Housekeeping.AuthSchedule,
			UsageRetention: cfg.Housekeeping.UsageRetention,
		}, meter, authService, metrics, logger)
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	// HTTP
	services := api.Services{
		Auth:     authService,
		Meter:    meter,
		Billing:  processor,
		Users:    store,
		Metrics:  metrics,
		Health:   health,
		Limiter:  limiter,
		Fallback: middleware.NewRateLimiter(rateConfig),
	}
	if cfg.Observability.MetricsEnabled {
		services.Registry = registry
	}
	server := api.NewServer(services, api.Config{
		AdminAPIKey:     cfg.Server.AdminAPIKey,
		UpgradeURL:      cfg.Billing.UpgradeURL,
		PortalReturnURL: cfg.Billing.PortalReturnURL,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		TrustProxy:      cfg.Server.TrustProxy,
		Tracing:         tp != nil,
	}, logger)

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes and scraping.
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	healthMux.Handle("/metrics", observability.MetricsHandler(registry))
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(map[string]interface{}{
			"addr":    apiServer.Addr,
			"version": version,
		}).Info("API server listening")
		return serve(apiServer)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		return serve(healthServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api server: %w", err))
		}
		if scheduler != nil {
			if err := scheduler.Stop(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := notifier.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("mail queue: %w", err))
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("health server: %w", err))
		}
		if err := observability.ShutdownTracing(shutdownCtx, tp, logger); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", srv.Addr, err)
	}
	return nil
}
