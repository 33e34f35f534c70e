package commands

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cuongbtq/pythia/internal/client"
	"github.com/cuongbtq/pythia/internal/config"
	"github.com/cuongbtq/pythia/shared/logger"
	"github.com/urfave/cli/v3"
)

// AppContext holds what every command needs to reach the backend
type AppContext struct {
	Config *config.Config
	Logger *logger.Logger
	Client *client.Client
	Out    io.Writer
}

// NewAppContext loads the configuration, applies the global flag overrides
// and creates the backend client
func NewAppContext(cmd *cli.Command) (*AppContext, error) {
	cfg, err := config.Load(config.Path(cmd.String("config")))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if u := cmd.String("backend"); u != "" {
		cfg.Backend.BaseURL = u
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if err := cfg.ValidateClientConfig(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.Kitchen,
		NoColor:      cfg.Logging.NoColor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	c, err := client.New(&client.Config{
		BaseURL:         cfg.Backend.BaseURL,
		Timeout:         cfg.Backend.Timeout,
		RetryAttempts:   cfg.Backend.Retry.Attempts,
		RetryDelay:      cfg.Backend.Retry.Interval,
		RetryBackoffMul: cfg.Backend.Retry.BackoffMultiplier,
	}, appLogger.Logger)
	if err != nil {
		_ = appLogger.Close()
		return nil, err
	}

	return &AppContext{
		Config: cfg,
		Logger: appLogger,
		Client: c,
		Out:    cmd.Root().Writer,
	}, nil
}

// Close releases the log output
func (ac *AppContext) Close() {
	if err := ac.Logger.Close(); err != nil {
		slog.Default().Warn("Failed to close log output", slog.Any("error", err))
	}
}
