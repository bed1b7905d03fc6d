package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/batch_downloader/internal/downloader/progress"
	"github.com/italolelis/batch_downloader/internal/logctx"
	"github.com/italolelis/batch_downloader/internal/ratelimit"
	"github.com/italolelis/batch_downloader/internal/telemetry"
	"github.com/italolelis/batch_downloader/internal/transfer"
	"golang.org/x/sync/errgroup"
)

// ErrLengthMismatch is returned when a batch is given a different number of
// URLs and destinations.
var ErrLengthMismatch = errors.New("urls and destinations differ in length")

// Options configures a batch.
type Options struct {
	// MaxConnections bounds the transfers fetching at once.
	MaxConnections int
	// Timeout bounds every request of the session.
	Timeout time.Duration
	// ProgressInterval is how often the aggregate status line is rendered.
	ProgressInterval time.Duration
	// ProgressOutput receives the aggregate status lines. Nil disables them.
	ProgressOutput io.Writer

	Transfer transfer.Options
}

// DefaultOptions returns the batch defaults.
func DefaultOptions() Options {
	opts := Options{
		MaxConnections:   100,
		Timeout:          5 * time.Minute,
		ProgressInterval: 5 * time.Second,
		Transfer:         transfer.DefaultOptions(),
	}

	opts.Transfer.MaxRedirects = 5
	opts.Transfer.MaxRetry = 10

	return opts
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClient makes every batch use client instead of a fresh session.
func WithClient(client transfer.Doer) Option {
	return func(m *Manager) {
		m.client = client
	}
}

// WithTelemetry instruments batches and transfers.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(m *Manager) {
		m.telemetry = tel
	}
}

// Manager downloads batches of files with bounded concurrency.
type Manager struct {
	opts      Options
	client    transfer.Doer
	telemetry *telemetry.Telemetry
	tracker   atomic.Pointer[progress.Tracker]
}

func NewManager(opts Options, options ...Option) *Manager {
	m := &Manager{opts: opts}

	for _, o := range options {
		o(m)
	}

	return m
}

// Progress returns the counters of the running or last batch.
func (m *Manager) Progress() (progress.Snapshot, bool) {
	tracker := m.tracker.Load()
	if tracker == nil {
		return progress.Snapshot{}, false
	}

	return tracker.Snapshot(), true
}

// DownloadAll downloads urls[i] into destinations[i] for every i and returns
// once every transfer is terminal. A failing transfer never stops the others;
// the returned error is reserved for problems with the batch itself.
func (m *Manager) DownloadAll(ctx context.Context, urls, destinations []string) (*BatchResult, error) {
	if len(urls) != len(destinations) {
		return nil, fmt.Errorf("%w: %d urls, %d destinations", ErrLengthMismatch, len(urls), len(destinations))
	}

	limiter, err := ratelimit.New(m.opts.MaxConnections)
	if err != nil {
		return nil, fmt.Errorf("invalid max connections: %w", err)
	}

	batch := &BatchResult{
		ID:      uuid.NewString(),
		Started: time.Now(),
		Results: make([]Result, len(urls)),
	}

	ctx = logctx.WithBatchID(ctx, batch.ID)
	logger := logctx.LoggerFromContext(ctx)

	client := m.client
	if client == nil {
		session := NewHTTPClient(m.opts.Timeout, m.opts.Transfer.MaxRedirects, nil)
		defer session.CloseIdleConnections()

		client = session
	}

	tracker := progress.NewTracker(len(urls), m.opts.ProgressOutput)
	m.tracker.Store(tracker)

	displayCtx, stopDisplay := context.WithCancel(ctx)
	displayDone := make(chan struct{})

	go func() {
		defer close(displayDone)

		tracker.Run(displayCtx, m.opts.ProgressInterval)
	}()

	logger.InfoContext(ctx, "starting batch", "files", len(urls), "max_connections", m.opts.MaxConnections)

	_ = m.telemetry.InstrumentBatch(ctx, func(ctx context.Context) error {
		var wg errgroup.Group

		for i := range urls {
			wg.Go(func() error {
				batch.Results[i] = m.download(ctx, urls[i], destinations[i], client, limiter, tracker)

				return nil
			})
		}

		// goroutines never return an error: failures are isolated in Results
		_ = wg.Wait()

		if s := batch.Summary(); s.Failed > 0 {
			return fmt.Errorf("%d of %d transfers failed", s.Failed, s.Total)
		}

		return nil
	})

	stopDisplay()
	<-displayDone

	batch.Finished = time.Now()
	batch.PeakConcurrency = limiter.Peak()

	summary := batch.Summary()
	logger.InfoContext(ctx, "batch finished",
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"unclassified", summary.Unclassified,
		"duration", batch.Duration().String())

	return batch, nil
}

func (m *Manager) download(
	ctx context.Context,
	url, destination string,
	client transfer.Doer,
	limiter *ratelimit.Limiter,
	tracker *progress.Tracker,
) (res Result) {
	logger := logctx.LoggerFromContext(ctx)

	t := transfer.New(url, destination, m.opts.Transfer)
	sink := &instrumentedProgress{Tracker: tracker, telemetry: m.telemetry}

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "transfer panic",
				"url", url,
				"panic", r,
				"stack", string(debug.Stack()))

			m.telemetry.RecordSystemError("downloader", "panic")

			res = Result{
				URL:          url,
				Destination:  destination,
				State:        transfer.StateFailed,
				Attempts:     t.Attempts(),
				Err:          &transfer.UnclassifiedError{URL: url, Op: "panic", Err: fmt.Errorf("%v", r)},
				Unclassified: true,
			}
		}
	}()

	err := m.telemetry.InstrumentDownload(ctx, func(ctx context.Context) (string, error) {
		err := t.Run(ctx, client, limiter, sink)

		return t.State().String(), err
	})

	var unclassified *transfer.UnclassifiedError

	return Result{
		URL:          url,
		Destination:  destination,
		State:        t.State(),
		Attempts:     t.Attempts(),
		Bytes:        t.Written(),
		Err:          err,
		Unclassified: errors.As(err, &unclassified),
	}
}

// instrumentedProgress forwards transfer progress to the batch tracker and
// to the metrics.
type instrumentedProgress struct {
	*progress.Tracker

	telemetry *telemetry.Telemetry
}

func (p *instrumentedProgress) ReportBytes(n int64) {
	p.Tracker.ReportBytes(n)
	p.telemetry.RecordBytes(n)
}

func (p *instrumentedProgress) ReportRetry() {
	p.Tracker.ReportRetry()
	p.telemetry.RecordRetry()
}

var _ transfer.Doer = (*http.Client)(nil)
