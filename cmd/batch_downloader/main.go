package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/italolelis/batch_downloader/internal/catalog"
	"github.com/italolelis/batch_downloader/internal/cleanup"
	"github.com/italolelis/batch_downloader/internal/config"
	"github.com/italolelis/batch_downloader/internal/downloader"
	"github.com/italolelis/batch_downloader/internal/http/rest"
	"github.com/italolelis/batch_downloader/internal/logctx"
	"github.com/italolelis/batch_downloader/internal/manifest"
	"github.com/italolelis/batch_downloader/internal/notifier"
	"github.com/italolelis/batch_downloader/internal/storage/sqlite"
	"github.com/italolelis/batch_downloader/internal/telemetry"
	"gopkg.in/natefinch/lumberjack.v2"
)

var errBatchFailed = errors.New("batch finished with failed transfers")

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	var out io.Writer = os.Stdout

	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		defer rotator.Close()

		out = io.MultiWriter(os.Stdout, rotator)
	}

	logger := slog.New(logctx.NewContextHandler(
		slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("batch downloader starting...", "log_level", cfg.LogLevel, "manifest", cfg.Manifest)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, cfg.TelemetryConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Load Manifest
	m, err := manifest.Load(cfg.Manifest)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	urls, destinations := m.Pairs()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	ledger := sqlite.NewInstrumentedTransferRepository(database, tel)

	// =========================================================================
	// Start Downloader
	opts := cfg.DownloaderOptions()
	opts.ProgressOutput = os.Stderr

	manager := downloader.NewManager(opts, downloader.WithTelemetry(tel))

	// =========================================================================
	// Start API Service
	if cfg.Web.BindAddress != "" {
		server := setupServer(ctx, manager, tel, cfg)

		go func() {
			logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server error", "err", err)
			}
		}()

		defer func() {
			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(ctx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)
				_ = server.Close()
			}
		}()
	}

	// =========================================================================
	// Start Cleanup
	if cfg.PartRetention > 0 {
		removed, err := cleanup.DeleteOrphanedParts(ctx, m.Roots(), cfg.PartRetention)
		if err != nil {
			logger.Error("failed to delete orphaned part files", "err", err)
		} else if removed > 0 {
			logger.Info("deleted orphaned part files", "count", removed)
		}
	}

	// =========================================================================
	// Run Batch
	batch, err := manager.DownloadAll(ctx, urls, destinations)
	if err != nil {
		return fmt.Errorf("failed to run batch: %w", err)
	}

	ctx = logctx.WithBatchID(ctx, batch.ID)
	summary := batch.Summary()

	for _, r := range batch.Failed() {
		logger.ErrorContext(ctx, "transfer failed",
			"url", r.URL,
			"destination", r.Destination,
			"attempts", r.Attempts,
			"unclassified", r.Unclassified,
			"err", r.Err)
	}

	if err := ledger.RecordBatch(ctx, batch.Records(downloader.InstanceID())); err != nil {
		logger.ErrorContext(ctx, "failed to record batch", "err", err)
	}

	notify(ctx, cfg, batch.ID, summary)

	if cfg.Index.Path != "" {
		if err := writeIndex(cfg); err != nil {
			logger.ErrorContext(ctx, "failed to write index", "err", err)
		}
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%w: %s", errBatchFailed, summary)
	}

	return nil
}

func notify(ctx context.Context, cfg *config.Config, batchID string, summary downloader.Summary) {
	if cfg.DiscordWebhookURL == "" || (summary.Failed == 0 && !cfg.NotifyAlways) {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}

	icon := "✅"
	if summary.Failed > 0 {
		icon = "❌"
	}

	if err := notif.Notify(ctx, fmt.Sprintf("%s Batch %s: %s", icon, batchID, summary)); err != nil {
		logger.ErrorContext(ctx, "failed to send notification", "err", err)
	}
}

func writeIndex(cfg *config.Config) error {
	dir := cfg.Index.Dir
	if dir == "" {
		dir = filepath.Dir(cfg.Index.Path)
	}

	files, err := catalog.List(dir, cfg.Index.Extension, cfg.Index.Prefix)
	if err != nil {
		return err
	}

	return catalog.WriteIndex(cfg.Index.Path, files, cfg.Index.Relative)
}

// setupServer prepares the handlers and services to create the http status server.
func setupServer(ctx context.Context, manager *downloader.Manager, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	handler := rest.NewStatusHandler(manager, tel)

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      handler.Routes(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
