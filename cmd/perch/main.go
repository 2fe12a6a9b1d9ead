package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/perchsocial/perch/pkg/access"
	"github.com/perchsocial/perch/pkg/config"
	"github.com/perchsocial/perch/pkg/groups"
	"github.com/perchsocial/perch/pkg/httputil"
	"github.com/perchsocial/perch/pkg/identity"
	"github.com/perchsocial/perch/pkg/migrations"
	"github.com/perchsocial/perch/pkg/notify"
	"github.com/perchsocial/perch/pkg/observability"
	"github.com/perchsocial/perch/pkg/posts"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("perch exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return err
	}
	if err := migrations.RunMigrations(ctx, db, logger); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Notification stack. Without redis the sink degrades to a no-op.
	var sink posts.Notifier = notify.NopSink{}
	var redisClient *redis.Client
	if cfg.Notify.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return err
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		deliveryLog := notify.NewDeliveryLogStore(0)
		publisher := notify.NewPublisher(redisClient, cfg.Redis.Channel, deliveryLog, logger, metrics)
		sink = publisher

		retryConfig := notify.DefaultRetryConfig()
		retryConfig.MaxAttempts = cfg.Notify.MaxAttempts
		worker := notify.NewRetryWorker(publisher, deliveryLog, notify.NewRetryPolicy(retryConfig), cfg.Notify.RetryInterval, logger, metrics)
		worker.Start(ctx)
		defer worker.Stop()

		retention, err := notify.NewRetentionJob(deliveryLog, cfg.Notify.RetentionSchedule, cfg.Notify.RetentionAge, logger)
		if err != nil {
			return err
		}
		retention.Start()
		defer retention.Stop()
	}

	// Domain wiring, leaves first.
	userStore := identity.NewStore(db)
	groupStore := groups.NewStore(db)
	groupService := groups.NewService(groupStore, userStore, logger)
	recordStore := access.NewRecordStore(db)
	postStore := posts.NewStore(db, recordStore, groupService.Hierarchy(), sink)

	engine := access.NewEngine(access.EngineConfig{
		Records:          recordStore,
		Posts:            postStore,
		Groups:           groupService.Hierarchy(),
		ClosureCacheSize: cfg.Resolver.ClosureCacheSize,
		ClosureCacheTTL:  cfg.Resolver.ClosureCacheTTL,
		MaxWalkDepth:     cfg.Resolver.MaxWalkDepth,
		Logger:           logger,
		Metrics:          metrics,
	})
	groupService.SetClosureInvalidator(engine)

	validator := access.NewValidator(userStore, groupStore)
	coordinator := access.NewCoordinator(recordStore, postStore, validator, sink, logger, metrics)

	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
	)
	if cfg.Observability.MetricsEnabled {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}

	identity.NewHandlers(userStore).RegisterRoutes(router)
	groups.NewHandlers(groupService).RegisterRoutes(router)
	posts.NewHandlers(postStore, engine).RegisterRoutes(router)
	access.NewHandlers(engine, coordinator).RegisterRoutes(router)

	// Health and metrics on a separate port for probes.
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.WithField("addr", apiServer.Addr).Info("perch API listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("API server shutdown failed")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("health server shutdown failed")
	}
	return nil
}
