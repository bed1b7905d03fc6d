package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/italolelis/batch_downloader/internal/downloader"
	"github.com/italolelis/batch_downloader/internal/telemetry"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	Manifest string `envconfig:"MANIFEST" required:"true"`

	Overwrite      bool          `envconfig:"OVERWRITE" default:"false"`
	MaxRedirects   int           `envconfig:"MAX_REDIRECTS" default:"5"`
	MaxRetry       int           `envconfig:"MAX_RETRY" default:"10"`
	Timeout        time.Duration `envconfig:"TIMEOUT" default:"5m"`
	MaxConnections int           `envconfig:"MAX_CONNECTIONS" default:"100"`
	ChunkSize      int           `envconfig:"CHUNK_SIZE" default:"1024"`
	InitialWait    time.Duration `envconfig:"INITIAL_WAIT" default:"10s"`
	WaitIncrement  time.Duration `envconfig:"WAIT_INCREMENT" default:"60s"`
	MaxWait        time.Duration `envconfig:"MAX_WAIT" default:"10m"`

	ProgressInterval time.Duration `envconfig:"PROGRESS_INTERVAL" default:"5s"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFile          string        `envconfig:"LOG_FILE"`
	DBPath           string        `envconfig:"DB_PATH" default:"downloads.db"`
	PartRetention    time.Duration `envconfig:"PART_RETENTION" default:"0"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`
	NotifyAlways      bool   `envconfig:"NOTIFY_ALWAYS" default:"false"`

	Index struct {
		Path      string `split_words:"true"`
		Dir       string `split_words:"true"`
		Extension string `split_words:"true" default:".shp"`
		Prefix    string `split_words:"true"`
		Relative  bool   `split_words:"true" default:"true"`
	}

	Telemetry struct {
		Enabled        bool          `split_words:"true" default:"false"`
		ServiceName    string        `split_words:"true" default:"batch_downloader"`
		ServiceVersion string        `split_words:"true" default:"dev"`
		OTLPEndpoint   string        `envconfig:"OTLP_ENDPOINT"`
		OTLPInterval   time.Duration `envconfig:"OTLP_INTERVAL" default:"30s"`
	}

	Web struct {
		BindAddress     string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings no batch can run with.
func (c *Config) Validate() error {
	switch {
	case c.Manifest == "":
		return fmt.Errorf("MANIFEST is required")
	case c.MaxConnections <= 0:
		return fmt.Errorf("MAX_CONNECTIONS must be positive, got %d", c.MaxConnections)
	case c.ChunkSize <= 0:
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	case c.MaxRetry < 0:
		return fmt.Errorf("MAX_RETRY must not be negative, got %d", c.MaxRetry)
	case c.MaxRedirects < 0:
		return fmt.Errorf("MAX_REDIRECTS must not be negative, got %d", c.MaxRedirects)
	case c.MaxWait < c.InitialWait:
		return fmt.Errorf("MAX_WAIT (%s) must not be below INITIAL_WAIT (%s)", c.MaxWait, c.InitialWait)
	}

	return nil
}

// DownloaderOptions maps the config onto the batch options.
func (c *Config) DownloaderOptions() downloader.Options {
	opts := downloader.DefaultOptions()

	opts.MaxConnections = c.MaxConnections
	opts.Timeout = c.Timeout
	opts.ProgressInterval = c.ProgressInterval

	opts.Transfer.Overwrite = c.Overwrite
	opts.Transfer.ChunkSize = c.ChunkSize
	opts.Transfer.InitialWait = c.InitialWait
	opts.Transfer.WaitIncrement = c.WaitIncrement
	opts.Transfer.MaxWait = c.MaxWait
	opts.Transfer.MaxRetry = c.MaxRetry
	opts.Transfer.MaxRedirects = c.MaxRedirects

	return opts
}

// TelemetryConfig maps the config onto the telemetry settings.
func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: c.Telemetry.ServiceVersion,
		OTLPEndpoint:   c.Telemetry.OTLPEndpoint,
		OTLPInterval:   c.Telemetry.OTLPInterval,
	}
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
