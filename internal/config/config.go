package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/cuongbtq/pythia/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
	// MaxRetryAttempts caps transport retries
	MaxRetryAttempts = 10

	// EnvConfigPath overrides the default config file location
	EnvConfigPath = "PYTHIA_CONFIG_PATH"
	// EnvBackendURL overrides backend.base_url
	EnvBackendURL = "PYTHIA_BACKEND_URL"

	DefaultConfigPath = "configs/pythia/config.yaml"
)

// Config represents the complete application configuration
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Poll     PollConfig     `yaml:"poll"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Session  SessionConfig  `yaml:"session"`
	Server   ServerConfig   `yaml:"server"`
	Cache    CacheConfig    `yaml:"cache"`
	Events   EventsConfig   `yaml:"events"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
}

// BackendConfig locates the analysis backend
type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Retry   RetryConfig   `yaml:"retry"`
}

// RetryConfig holds GET retry settings. Zero attempts disables retry.
type RetryConfig struct {
	Attempts          int           `yaml:"attempts"`
	Interval          time.Duration `yaml:"interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// PollConfig holds job status polling settings
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// DefaultsConfig holds the parameters a new session starts with
type DefaultsConfig struct {
	Params domain.QueryParams `yaml:"params"`
	Enrich domain.EnrichQuery `yaml:"enrich"`
}

// SessionConfig holds session settings
type SessionConfig struct {
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// CacheConfig holds snapshot cache settings
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
}

// EventsConfig holds transition event publishing settings
type EventsConfig struct {
	Enabled    bool           `yaml:"enabled"`
	BufferSize int            `yaml:"buffer_size"`
	RabbitMQ   RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	BindingKey string           `yaml:"binding_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds the optional queue used to tail events
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Timeout           time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 2 * time.Minute,
			Retry: RetryConfig{
				Interval:          200 * time.Millisecond,
				BackoffMultiplier: 2,
			},
		},
		Poll: PollConfig{Interval: 1200 * time.Millisecond},
		Defaults: DefaultsConfig{
			Params: domain.DefaultQueryParams(),
			Enrich: domain.DefaultEnrichQuery(),
		},
		Session: SessionConfig{FetchTimeout: 2 * time.Minute},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    3 * time.Minute,
			IdleTimeout:     2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  512 << 20,
		},
		Cache: CacheConfig{Enabled: true, MaxEntries: 256},
		Events: EventsConfig{
			BufferSize: 64,
			RabbitMQ: RabbitMQConfig{
				Host:     "localhost",
				Port:     5672,
				User:     "guest",
				Password: "guest",
				VHost:    "/",
				Exchange: ExchangeConfig{Name: "pythia.jobs", Type: "topic", Durable: true},
				Connection: ConnectionConfig{
					RetryAttempts: 3,
					RetryInterval: 2 * time.Second,
					Heartbeat:     10 * time.Second,
				},
				Publish: PublishConfig{
					RetryAttempts:     3,
					RetryInterval:     100 * time.Millisecond,
					BackoffMultiplier: 2,
					Timeout:           5 * time.Second,
				},
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "console", Output: "stderr"},
		App:     AppConfig{Name: "pythia", Version: "dev", Environment: "development"},
	}
}

// Path picks the config file: the flag value, then PYTHIA_CONFIG_PATH, then
// DefaultConfigPath when that file exists. An empty result means defaults only.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultConfigPath); err == nil {
		return DefaultConfigPath
	}
	return ""
}

// Load reads and parses the configuration file on top of Default. An empty
// path yields the defaults. Environment overrides are applied last.
func Load(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if u := os.Getenv(EnvBackendURL); u != "" {
		config.Backend.BaseURL = u
	}

	return config, nil
}

// ValidateClientConfig checks everything needed to talk to the backend
func (c *Config) ValidateClientConfig() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base_url is required")
	}

	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid backend base_url: %q", c.Backend.BaseURL)
	}

	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend timeout must not be negative")
	}

	if c.Backend.Retry.Attempts < 0 || c.Backend.Retry.Attempts > MaxRetryAttempts {
		return fmt.Errorf("invalid backend retry attempts: %d (must be between 0 and %d)", c.Backend.Retry.Attempts, MaxRetryAttempts)
	}

	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll interval must be greater than 0")
	}

	if err := c.Defaults.Params.Validate(); err != nil {
		return fmt.Errorf("invalid default params: %w", err)
	}

	if err := c.Defaults.Enrich.Validate(); err != nil {
		return fmt.Errorf("invalid default enrichment: %w", err)
	}

	return nil
}

// ValidateServiceConfig checks the session service configuration
func (c *Config) ValidateServiceConfig() error {
	if err := c.ValidateClientConfig(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown_timeout must be greater than 0")
	}

	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache max_entries must not be negative")
	}

	if c.Events.Enabled {
		if err := c.Events.RabbitMQ.validate(); err != nil {
			return err
		}
	}

	return nil
}

func (r *RabbitMQConfig) validate() error {
	if r.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if r.Port < MinPort || r.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", r.Port, MinPort, MaxPort)
	}

	if r.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	return nil
}
