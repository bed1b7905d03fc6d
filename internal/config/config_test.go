package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("MANIFEST", "batch.yaml")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "batch.yaml", cfg.Manifest)
	assert.False(t, cfg.Overwrite)
	assert.Equal(t, 5, cfg.MaxRedirects)
	assert.Equal(t, 10, cfg.MaxRetry)
	assert.Equal(t, 5*time.Minute, cfg.Timeout)
	assert.Equal(t, 100, cfg.MaxConnections)
	assert.Equal(t, 1024, cfg.ChunkSize)
	assert.Equal(t, 10*time.Second, cfg.InitialWait)
	assert.Equal(t, 60*time.Second, cfg.WaitIncrement)
	assert.Equal(t, 10*time.Minute, cfg.MaxWait)
	assert.Equal(t, ".shp", cfg.Index.Extension)
	assert.True(t, cfg.Index.Relative)
	assert.Equal(t, "batch_downloader", cfg.Telemetry.ServiceName)
}

func TestLoadConfig_RequiresManifest(t *testing.T) {
	t.Setenv("MANIFEST", "")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("MANIFEST", "m.yaml")
	t.Setenv("OVERWRITE", "true")
	t.Setenv("MAX_CONNECTIONS", "4")
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:9999")
	t.Setenv("INDEX_PATH", "out/index.json")
	t.Setenv("TELEMETRY_ENABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.Overwrite)
	assert.Equal(t, 4, cfg.MaxConnections)
	assert.Equal(t, "127.0.0.1:9999", cfg.Web.BindAddress)
	assert.Equal(t, "out/index.json", cfg.Index.Path)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{Manifest: "m.yaml", MaxConnections: 1, ChunkSize: 1, InitialWait: time.Second, MaxWait: time.Second}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no manifest", func(c *Config) { c.Manifest = "" }},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }},
		{"negative retry", func(c *Config) { c.MaxRetry = -1 }},
		{"negative redirects", func(c *Config) { c.MaxRedirects = -1 }},
		{"max wait below initial", func(c *Config) { c.MaxWait = time.Millisecond }},
	}

	c := valid()
	require.NoError(t, c.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestDownloaderOptions(t *testing.T) {
	c := Config{
		Overwrite:      true,
		MaxRedirects:   3,
		MaxRetry:       4,
		Timeout:        time.Minute,
		MaxConnections: 7,
		ChunkSize:      2048,
		InitialWait:    time.Second,
		WaitIncrement:  2 * time.Second,
		MaxWait:        time.Minute,
	}

	opts := c.DownloaderOptions()

	assert.Equal(t, 7, opts.MaxConnections)
	assert.Equal(t, time.Minute, opts.Timeout)
	assert.True(t, opts.Transfer.Overwrite)
	assert.Equal(t, 2048, opts.Transfer.ChunkSize)
	assert.Equal(t, 3, opts.Transfer.MaxRedirects)
	assert.Equal(t, 4, opts.Transfer.MaxRetry)
	assert.Equal(t, 2*time.Second, opts.Transfer.WaitIncrement)
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}

	for in, want := range tests {
		c := Config{LogLevel: in}
		assert.Equal(t, want, c.SlogLevel(), in)
	}
}
