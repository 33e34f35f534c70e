package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/pythia/internal/api/handler"
	"github.com/cuongbtq/pythia/internal/api/router"
	"github.com/cuongbtq/pythia/internal/client"
	"github.com/cuongbtq/pythia/internal/config"
	"github.com/cuongbtq/pythia/internal/controller"
	"github.com/cuongbtq/pythia/internal/events"
	"github.com/cuongbtq/pythia/internal/session"
	"github.com/cuongbtq/pythia/internal/session/storage"
	"github.com/cuongbtq/pythia/shared/logger"
	"github.com/cuongbtq/pythia/shared/rabbitmq"
	"github.com/cuongbtq/pythia/shared/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(config.Path(*configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateServiceConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting session service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("backend", cfg.Backend.BaseURL),
	)

	backend, err := initClient(&cfg.Backend, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize backend client: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var cache session.Cache
	var dbClient *sqlite.Client
	if cfg.Cache.Enabled {
		dbClient, cache, err = initCache(ctx, &cfg.Cache, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize snapshot cache: %w", err)
		}
		defer dbClient.Close()
		appLogger.Info("Snapshot cache ready", slog.String("path", cfg.Cache.Path))
	}

	var rabbitClient *rabbitmq.Client
	var emitter *events.Emitter
	if cfg.Events.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.Events.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		appLogger.Info("RabbitMQ connection established")

		emitter = events.NewEmitter(&events.Config{
			Publisher:      rabbitClient,
			Logger:         appLogger.Logger,
			BufferSize:     cfg.Events.BufferSize,
			PublishTimeout: cfg.Events.RabbitMQ.Publish.Timeout,
		})
		emitter.Start(ctx)
		defer emitter.Stop()
	}

	newSession := func() handler.Session {
		id := uuid.NewString()
		var listeners []controller.Listener
		if emitter != nil {
			listeners = append(listeners, emitter.Listener(id))
		}
		return session.New(&session.Config{
			ID:           id,
			Client:       backend,
			Cache:        cache,
			Logger:       appLogger.Logger,
			PollInterval: cfg.Poll.Interval,
			FetchTimeout: cfg.Session.FetchTimeout,
			Params:       cfg.Defaults.Params,
			Enrich:       cfg.Defaults.Enrich,
			Listeners:    listeners,
		})
	}

	r, sessions := initRouter(cfg, appLogger.Logger, newSession)
	defer sessions.Shutdown()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		appLogger.Error("Server failed to start", slog.Any("error", err))
		return err
	}

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	})
}

// initClient creates the backend HTTP client
func initClient(cfg *config.BackendConfig, logger *slog.Logger) (*client.Client, error) {
	return client.New(&client.Config{
		BaseURL:         cfg.BaseURL,
		Timeout:         cfg.Timeout,
		RetryAttempts:   cfg.Retry.Attempts,
		RetryDelay:      cfg.Retry.Interval,
		RetryBackoffMul: cfg.Retry.BackoffMultiplier,
	}, logger)
}

// initCache opens the snapshot cache database
func initCache(ctx context.Context, cfg *config.CacheConfig, logger *slog.Logger) (*sqlite.Client, *storage.Storage, error) {
	db, err := sqlite.NewClient(&sqlite.Config{Path: cfg.Path}, logger)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.NewStorage(ctx, db, cfg.MaxEntries)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, store, nil
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, newSession func() handler.Session) (*gin.Engine, *handler.SessionHandler) {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger:         logger,
		NewSession:     newSession,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		ServiceName:    cfg.App.Name,
	})
}
