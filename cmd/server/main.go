package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"recycloai/internal/cache"
	"recycloai/internal/classifier"
	"recycloai/internal/config"
	"recycloai/internal/database"
	"recycloai/internal/events"
	"recycloai/internal/metrics"
	"recycloai/internal/middleware"
	"recycloai/internal/realtime"
	"recycloai/internal/repositories"
	"recycloai/internal/response"
	"recycloai/internal/router"
	"recycloai/internal/services"
	"recycloai/internal/storage"
	"recycloai/internal/utils/appinfo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting RecycloAI server",
		zap.String("service", appinfo.Name),
		zap.String("version", appinfo.Version()),
		zap.String("environment", cfg.Server.Environment),
		zap.String("database_provider", cfg.Database.Provider),
		zap.String("cache_provider", cfg.Cache.Provider),
		zap.String("storage_provider", cfg.Storage.Provider),
	)

	metrics.Register()

	// ===============================
	// PERSISTENCE
	// ===============================

	var (
		dbManager *database.Manager
		repos     *repositories.Collection
	)
	if cfg.Database.Provider == "memory" {
		logger.Warn("Using in-memory store, data is lost on restart")
		repos = repositories.NewMemoryCollection(nil)
	} else {
		manager, err := database.Open(cfg, logger.Named("database"))
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		dbManager = manager
		defer func() {
			if err := dbManager.Close(); err != nil {
				logger.Warn("Failed to close database", zap.Error(err))
			}
		}()

		repos, err = repositories.NewCollection(dbManager, logger.Named("repositories"))
		if err != nil {
			return fmt.Errorf("repositories: %w", err)
		}
	}

	// ===============================
	// INFRASTRUCTURE
	// ===============================

	displayCache, err := cache.NewCache(&cache.Config{
		Provider:      cfg.Cache.Provider,
		TTL:           cfg.Cache.TTL,
		MaxKeys:       cfg.Cache.MaxKeys,
		KeyPrefix:     "recycloai:",
		RedisURL:      cfg.Cache.RedisURL,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
		PoolSize:      cfg.Cache.PoolSize,
	}, logger.Named("cache"))
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	imageStorage, err := storage.New(cfg, logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	bus := events.NewEventBus(events.DefaultEventBusConfig(), logger.Named("events"))
	if err := bus.Start(context.Background()); err != nil {
		return fmt.Errorf("event bus: %w", err)
	}

	hub := realtime.NewHub(cfg.Server.AllowedOrigins, logger.Named("realtime"))
	for _, eventType := range []string{events.EventScanRecorded, events.EventAchievementUnlocked} {
		if err := bus.Subscribe(eventType, hub); err != nil {
			return fmt.Errorf("subscribe hub to %s: %w", eventType, err)
		}
	}

	var publisher *events.AMQPPublisher
	if cfg.Events.AMQPURL != "" {
		publisher, err = events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			// events are best effort, the API stays up without the broker
			logger.Error("Failed to connect to AMQP broker, event forwarding disabled", zap.Error(err))
		} else if err := bus.SubscribePattern("*", events.NewForwarder(publisher, logger.Named("amqp"))); err != nil {
			return fmt.Errorf("subscribe amqp forwarder: %w", err)
		} else {
			logger.Info("Forwarding domain events to AMQP", zap.String("exchange", cfg.Events.Exchange))
		}
	}

	// ===============================
	// SERVICES
	// ===============================

	serviceCollection, err := services.NewServiceCollection(services.Dependencies{
		Config:       cfg,
		Repositories: repos,
		DB:           dbManager,
		Cache:        displayCache,
		EventBus:     bus,
		Classifier:   classifier.New(cfg.Classifier, logger.Named("classifier")),
		Storage:      imageStorage,
		Logger:       logger.Named("services"),
	})
	if err != nil {
		return fmt.Errorf("services: %w", err)
	}

	// ===============================
	// HTTP
	// ===============================

	responseConfig := response.DefaultConfig()
	responseConfig.PrettyJSON = cfg.IsDevelopment()
	responseConfig.MaskInternalErrors = cfg.IsProduction()
	responseBuilder := response.NewBuilder(responseConfig, logger)

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty, trusting the X-User-ID header")
	}

	deps := router.Dependencies{
		Services:        serviceCollection,
		Hub:             hub,
		AuthMiddleware:  middleware.NewAuthMiddleware(cfg.Auth, responseBuilder, logger.Named("auth")),
		ResponseBuilder: responseBuilder,
		Logger:          logger,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}
	if cfg.Server.ScanRateLimit > 0 {
		deps.RateLimiter = middleware.NewRateLimiter(displayCache, middleware.RateLimiterConfig{
			Limit:  cfg.Server.ScanRateLimit,
			Window: cfg.Server.ScanRateWindow,
			Prefix: "ratelimit:scans",
		}, responseBuilder, logger.Named("ratelimit"))
	}
	if cfg.Storage.Provider == "local" {
		deps.UploadsDir = cfg.Storage.LocalDir
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.SetupRouter(deps),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
		close(serverErrors)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case sig := <-quit:
		logger.Info("Shutting down server", zap.String("signal", sig.String()))
	}

	// ===============================
	// GRACEFUL SHUTDOWN
	// ===============================

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	// hijacked websocket connections are not tracked by Shutdown
	hub.Close()

	if err := serviceCollection.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Services did not shut down cleanly", zap.Error(err))
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Warn("Failed to close AMQP publisher", zap.Error(err))
		}
	}

	logger.Info("Server exited")
	return nil
}

func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
