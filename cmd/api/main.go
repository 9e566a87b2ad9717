package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/atelier-platform/production-engine/internal/api/handlers"
	"github.com/atelier-platform/production-engine/internal/api/openapi"
	"github.com/atelier-platform/production-engine/internal/bootstrap"
	"github.com/atelier-platform/production-engine/internal/config"
	"github.com/atelier-platform/production-engine/pkg/kafka"
	"github.com/atelier-platform/production-engine/pkg/logging"
	"github.com/atelier-platform/production-engine/pkg/metrics"
	"github.com/atelier-platform/production-engine/pkg/middleware"
	"github.com/atelier-platform/production-engine/pkg/outbox"
	"github.com/atelier-platform/production-engine/pkg/tracing"
)

const serviceName = "production-engine-api"

var newMetrics = metrics.New

var initTracing = tracing.Initialize

var openServices = bootstrap.Open

var newKafkaPublisher = func(cfg *kafka.Config, m *metrics.Metrics, logger *logging.Logger) (kafka.Publisher, func() error) {
	producer := kafka.NewProducer(cfg)
	instrumented := kafka.NewInstrumentedProducer(producer, m, logger)
	return kafka.NewCircuitBreakerProducer(instrumented, logger.Logger, m), producer.Close
}

var startHTTPServer = func(srv *http.Server) error {
	return srv.ListenAndServe()
}

func main() {
	configPath := flag.String("config", os.Getenv("PRODUCTION_CONFIG"), "path to the config file")
	flag.Parse()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	if err := run(context.Background(), *configPath, signalCh); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, signalCh <-chan os.Signal) error {
	cfg, err := config.Load(configPath, serviceName)
	if err != nil {
		logging.New(logging.DefaultConfig(serviceName)).WithError(err).Error("Failed to load configuration")
		return err
	}

	logConfig := logging.DefaultConfig(serviceName)
	logConfig.Level = logging.ParseLevel(cfg.LogLevel)
	logConfig.Environment = cfg.Environment
	logger := logging.New(logConfig)
	logger.SetDefault()

	logger.Info("Starting production engine API")

	tracerProvider, err := initTracing(ctx, &cfg.Tracing)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
	} else if tracerProvider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("Failed to shutdown tracer")
			}
		}()
		logger.Info("Tracing initialized", "endpoint", cfg.Tracing.OTLPEndpoint)
	}

	m := newMetrics(metrics.DefaultConfig(serviceName))

	mongoClient, services, err := openServices(ctx, cfg, m, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize services")
		return err
	}
	defer mongoClient.Close(context.Background())
	logger.Info("Connected to MongoDB", "database", cfg.MongoDB.Database, "stages", services.Registry.Pipeline().Len())

	if err := services.Store.EnsureIndexes(ctx); err != nil {
		logger.WithError(err).Error("Failed to ensure indexes")
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	group, groupCtx := errgroup.WithContext(runCtx)

	if cfg.Kafka.Enabled {
		publisher, closeProducer := newKafkaPublisher(&cfg.Kafka, m, logger)
		defer closeProducer()

		relay := outbox.NewPublisher(services.Store.Outbox, publisher, logger, m, &cfg.Outbox)
		group.Go(func() error { return relay.Run(groupCtx) })
		logger.Info("Outbox publisher started", "brokers", cfg.Kafka.Brokers)
	} else {
		logger.Warn("Kafka disabled; events stay in the outbox")
	}

	if cfg.Engine.WatchRegistry {
		group.Go(func() error { return services.Registry.Watch(groupCtx) })
	}

	router, err := newRouter(ctx, cfg, services, m, logger, func() error {
		return mongoClient.HealthCheck(ctx)
	})
	if err != nil {
		logger.WithError(err).Error("Failed to load API document")
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := startHTTPServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server error")
			stop()
		}
	}()
	logger.Info("Server started", "addr", cfg.Server.Addr)

	select {
	case <-signalCh:
	case <-groupCtx.Done():
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	stop()
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("Background worker failed")
		return err
	}

	logger.Info("Server stopped")
	return nil
}

// newRouter mounts the middleware chain and the v1 routes
func newRouter(ctx context.Context, cfg *config.Config, services *bootstrap.Services, m *metrics.Metrics, logger *logging.Logger, ready func() error) (*gin.Engine, error) {
	router := gin.New()
	router.Use(cors.New(corsConfig(cfg.Server.CORS)))
	middleware.Setup(router, middleware.DefaultConfig(serviceName, logger.Logger))
	router.Use(middleware.MetricsMiddleware(m))
	router.Use(middleware.TracingMiddleware(middleware.DefaultTracingConfig(serviceName)))

	router.GET("/health", middleware.HealthCheck(serviceName))
	router.GET("/ready", middleware.ReadinessCheck(serviceName, ready))
	router.GET("/metrics", middleware.MetricsEndpoint(m))

	v1 := router.Group("/api/v1")
	v1.GET("/openapi.yaml", openapi.Handler())
	if cfg.Server.ValidateRequests {
		validator, err := openapi.NewValidator(ctx)
		if err != nil {
			return nil, err
		}
		v1.Use(validator.RequestValidation())
		logger.Info("Request validation enabled")
	}
	handlers.NewOrderHandler(services.Workflow, services.Reservations, services.Costs, logger).RegisterRoutes(v1)
	handlers.NewStageHandler(services.Workflow, logger).RegisterRoutes(v1)
	handlers.NewMaterialHandler(services.Reservations, services.Performance, logger).RegisterRoutes(v1)
	return router, nil
}

func corsConfig(c config.CORSConfig) cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderRequestID, middleware.HeaderCorrelationID, middleware.HeaderActor},
		ExposeHeaders:    []string{"Content-Length", middleware.HeaderRequestID, middleware.HeaderCorrelationID},
		AllowCredentials: c.AllowCredentials,
		MaxAge:           c.MaxAge,
	}
}
