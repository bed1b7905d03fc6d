package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/batch_downloader/internal/downloader/progress"
	"github.com/italolelis/batch_downloader/internal/logctx"
)

const (
	dirPerm  = 0755
	filePerm = 0644

	progressInterval = int64(100 * 1024 * 1024) // 100MB
)

// State is a step of the per-file download state machine.
type State int

const (
	StatePending State = iota
	StateFetching
	StateStreaming
	StateFinalizing
	StateBackoff
	StateSucceeded
	StateSkipped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetching:
		return "fetching"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateBackoff:
		return "backoff"
	case StateSucceeded:
		return "succeeded"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateSkipped || s == StateFailed
}

// Options configures a single transfer.
type Options struct {
	// Overwrite replaces an existing destination instead of skipping it.
	Overwrite bool
	// ChunkSize is the read size used while streaming the body.
	ChunkSize int
	// InitialWait is the first backoff wait.
	InitialWait time.Duration
	// WaitIncrement is added to the wait after every retry.
	WaitIncrement time.Duration
	// MaxWait caps the backoff wait.
	MaxWait time.Duration
	// MaxRetry bounds the retries after a transient fault; a transfer makes
	// at most MaxRetry+1 attempts.
	MaxRetry int
	// MaxRedirects is enforced by the session issuing the requests.
	MaxRedirects int
}

// DefaultOptions returns the options used for a single file download.
func DefaultOptions() Options {
	return Options{
		ChunkSize:     1024,
		InitialWait:   10 * time.Second,
		WaitIncrement: 60 * time.Second,
		MaxWait:       10 * time.Minute,
		MaxRetry:      1,
		MaxRedirects:  1,
	}
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultOptions().ChunkSize
	}

	if o.MaxRetry < 0 {
		o.MaxRetry = 0
	}

	if o.InitialWait < 0 {
		o.InitialWait = 0
	}

	if o.WaitIncrement < 0 {
		o.WaitIncrement = 0
	}

	if o.MaxWait < o.InitialWait {
		o.MaxWait = o.InitialWait
	}

	return o
}

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Permits bounds how many transfers are fetching at once.
type Permits interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Progress receives advisory progress updates. Implementations must be safe
// for concurrent use.
type Progress interface {
	ReportExpected(n int64)
	ReportBytes(n int64)
	ReportRetry()
	ReportItemComplete()
}

type noopProgress struct{}

func (noopProgress) ReportExpected(int64) {}
func (noopProgress) ReportBytes(int64)    {}
func (noopProgress) ReportRetry()         {}
func (noopProgress) ReportItemComplete()  {}

// Transfer downloads one URL into one destination path.
type Transfer struct {
	URL         string
	Destination string

	opts     Options
	backoff  *Backoff
	state    State
	attempts int
	written  int64
	expected bool
	err      error
}

// New creates a pending transfer.
func New(url, destination string, opts Options) *Transfer {
	opts = opts.withDefaults()

	return &Transfer{
		URL:         url,
		Destination: destination,
		opts:        opts,
		backoff:     NewBackoff(opts.InitialWait, opts.WaitIncrement, opts.MaxWait),
		state:       StatePending,
	}
}

// State returns the current state.
func (t *Transfer) State() State { return t.state }

// Attempts returns the number of fetch attempts made.
func (t *Transfer) Attempts() int { return t.attempts }

// Wait returns the backoff wait that the next retry would use.
func (t *Transfer) Wait() time.Duration { return t.backoff.Wait() }

// Written returns the bytes written by the last attempt.
func (t *Transfer) Written() int64 { return t.written }

// Err returns the error that made the transfer fail, if any.
func (t *Transfer) Err() error { return t.err }

// Run drives the transfer to a terminal state. It returns nil when the file
// was downloaded or skipped. A *RetryExhaustedError or *FinalizeError means
// the transfer failed in a handled way; an *UnclassifiedError escaped the
// retry path and is left to the caller.
func (t *Transfer) Run(ctx context.Context, client Doer, permits Permits, tracker Progress) (err error) {
	if tracker == nil {
		tracker = noopProgress{}
	}

	defer tracker.ReportItemComplete()

	defer func() {
		if err != nil {
			t.state = StateFailed
			t.err = err
		}
	}()

	logger := logctx.LoggerFromContext(ctx).With("url", t.URL, "file", filepath.Base(t.Destination))

	if !t.opts.Overwrite && exists(t.Destination) {
		logger.InfoContext(ctx, "skipping existing file")

		t.state = StateSkipped

		return nil
	}

	if err := os.MkdirAll(filepath.Dir(t.Destination), dirPerm); err != nil {
		return &UnclassifiedError{URL: t.URL, Op: "prepare", Err: err}
	}

	for {
		t.attempts++

		err := t.attempt(ctx, client, permits, tracker, logger)
		if err == nil {
			break
		}

		if !IsTransient(err) {
			logger.ErrorContext(ctx, "download failed", "attempt", t.attempts, "err", err)

			return err
		}

		if t.attempts > t.opts.MaxRetry {
			t.discardPart(ctx, logger)

			logger.ErrorContext(ctx, "giving up after too many retries", "attempts", t.attempts, "err", err)

			return &RetryExhaustedError{URL: t.URL, Attempts: t.attempts, Err: err}
		}

		t.state = StateBackoff
		wait := t.backoff.Next()

		logger.WarnContext(ctx, "server error, retrying",
			"wait", wait.String(),
			"retry", t.attempts,
			"max_retry", t.opts.MaxRetry,
			"err", err)

		tracker.ReportRetry()

		if err := sleep(ctx, wait); err != nil {
			return &UnclassifiedError{URL: t.URL, Op: "backoff", Err: err}
		}
	}

	return t.finalize(ctx, logger)
}

func (t *Transfer) attempt(ctx context.Context, client Doer, permits Permits, tracker Progress, logger *slog.Logger) error {
	t.state = StateFetching

	release, err := permits.Acquire(ctx)
	if err != nil {
		return &UnclassifiedError{URL: t.URL, Op: "acquire", Err: err}
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return &UnclassifiedError{URL: t.URL, Op: "fetch", Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil && classifyFetch(err) {
			return &TransientError{Op: "fetch", Err: err}
		}

		return &UnclassifiedError{URL: t.URL, Op: "fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &UnclassifiedError{
			URL:        t.URL,
			Op:         "fetch",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", resp.Status),
		}
	}

	total := resp.ContentLength
	if total > 0 && !t.expected {
		tracker.ReportExpected(total)

		t.expected = true
	}

	size := "unknown"
	if total >= 0 {
		size = humanize.Bytes(uint64(total))
	}

	logger.InfoContext(ctx, "downloading", "size", size, "attempt", t.attempts)

	t.state = StateStreaming

	return t.stream(ctx, resp.Body, total, tracker, logger)
}

// stream copies body into the part file chunk by chunk. The part file is
// truncated first, so a retry always restarts from zero.
func (t *Transfer) stream(ctx context.Context, body io.Reader, total int64, tracker Progress, logger *slog.Logger) error {
	out, err := os.OpenFile(PartPath(t.Destination), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return &UnclassifiedError{URL: t.URL, Op: "create", Err: err}
	}

	t.written = 0

	pr := progress.NewReader(body, total, progressInterval, func(read, total int64) {
		if total > 0 {
			logger.DebugContext(ctx, "download progress",
				"downloaded", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))
		} else {
			logger.DebugContext(ctx, "download progress", "downloaded", humanize.Bytes(uint64(read)))
		}
	})

	buf := make([]byte, t.opts.ChunkSize)

	for {
		n, rerr := pr.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()

				return &UnclassifiedError{URL: t.URL, Op: "write", Err: werr}
			}

			t.written += int64(n)
			tracker.ReportBytes(int64(n))
		}

		if errors.Is(rerr, io.EOF) {
			break
		}

		if rerr != nil {
			out.Close()

			if ctx.Err() != nil {
				return &UnclassifiedError{URL: t.URL, Op: "stream", Err: ctx.Err()}
			}

			return &TransientError{Op: "stream", Err: rerr}
		}
	}

	if err := out.Close(); err != nil {
		return &UnclassifiedError{URL: t.URL, Op: "write", Err: err}
	}

	return nil
}

// finalize promotes the part file to the destination name.
func (t *Transfer) finalize(ctx context.Context, logger *slog.Logger) error {
	t.state = StateFinalizing

	if t.opts.Overwrite {
		if err := os.Remove(t.Destination); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.ErrorContext(ctx, "failed to remove existing file", "err", err)

			return &FinalizeError{Path: t.Destination, Op: "remove", Err: err}
		}
	}

	if err := os.Rename(PartPath(t.Destination), t.Destination); err != nil {
		logger.ErrorContext(ctx, "failed to promote part file", "err", err)

		return &FinalizeError{Path: t.Destination, Op: "rename", Err: err}
	}

	t.state = StateSucceeded

	logger.InfoContext(ctx, "done", "size", humanize.Bytes(uint64(t.written)), "attempts", t.attempts)

	return nil
}

func (t *Transfer) discardPart(ctx context.Context, logger *slog.Logger) {
	if err := os.Remove(PartPath(t.Destination)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.WarnContext(ctx, "failed to remove part file", "err", err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}
