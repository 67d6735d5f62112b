// Command backofficed serves the back-office API: the audit ledger, the
// undo engine, on-demand integrity validation, and catalog lookups.
package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cardfolio/backoffice/pkg/blob"
	"github.com/cardfolio/backoffice/pkg/catalog"
	"github.com/cardfolio/backoffice/pkg/config"
	"github.com/cardfolio/backoffice/pkg/httputil"
	"github.com/cardfolio/backoffice/pkg/integrity"
	"github.com/cardfolio/backoffice/pkg/ledger"
	"github.com/cardfolio/backoffice/pkg/observability"
	"github.com/cardfolio/backoffice/pkg/storage/postgres"
	"github.com/cardfolio/backoffice/pkg/undo"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	metrics := observability.NewMetrics(nil)

	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	connections, err := postgres.NewConnectionManager(cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}

	store, err := ledger.NewDBStore(connections.Primary())
	if err != nil {
		logger.WithError(err).Error("Failed to initialize ledger store")
		os.Exit(1)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		logger.WithError(err).Error("Failed to ensure ledger schema")
		os.Exit(1)
	}
	recorder := ledger.NewRecorder(store, logger)

	engine := undo.NewEngine(store, undo.DefaultRegistry(connections.Primary()), logger, metrics)

	var redisClient *redis.Client
	if cfg.Cache.Enabled && cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("Redis unreachable, catalog cache degrades to local-only")
			redisClient = nil
		}
	}

	cardCache := catalog.NewCache(
		catalog.NewDBSource(connections.Replica()),
		redisClient,
		catalog.CacheConfig{
			LocalSize: cfg.Cache.LocalSize,
			LocalTTL:  cfg.Cache.LocalTTL,
			RedisTTL:  cfg.Cache.RedisTTL,
		},
		nil,
		metrics,
	)

	var photos blob.PhotoStore
	if cfg.Integrity.PhotoChecksEnabled {
		photoStore, err := blob.NewS3PhotoStore(ctx, cfg.Blob)
		if err != nil {
			logger.WithError(err).Error("Failed to initialize photo store")
			os.Exit(1)
		}
		photos = photoStore
	}

	runner := integrity.NewRunner(logger, metrics,
		integrity.NewOrphanCheck(connections.Replica(), photos),
		integrity.NewQuantityCheck(connections.Replica()),
		integrity.NewProfitCheck(connections.Replica()),
	)

	router := mux.NewRouter()
	router.Use(
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		httputil.RequestIDMiddleware,
		routeMetrics(metrics),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	)
	ledger.NewHandlers(store, recorder, metrics).RegisterRoutes(router)
	undo.NewHandlers(engine).RegisterRoutes(router)
	integrity.NewHandlers(runner).RegisterRoutes(router)
	catalog.NewHandlers(cardCache).RegisterRoutes(router)

	var handler http.Handler = router
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(router, "backoffice-http")
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port so probes bypass the API
	// middleware stack.
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(connections.Primary(), redisClient))
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.Register(func(ctx context.Context) error {
		return connections.Close()
	})
	if redisClient != nil {
		shutdown.Register(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	if otelProviders != nil {
		shutdown.Register(otelProviders.Shutdown)
	}

	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":        server.Addr,
			"health_addr": healthServer.Addr,
		}).Info("back-office server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	if err := shutdown.Wait(); err != nil {
		logger.WithError(err).Error("Shutdown completed with errors")
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

// routeMetrics instruments every request using the mux route template as
// the path label.
func routeMetrics(metrics *observability.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			metrics.HTTPMiddleware(path, next).ServeHTTP(w, r)
		})
	}
}
