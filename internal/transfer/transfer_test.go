package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPermits struct {
	mu       sync.Mutex
	acquired int
	held     int
}

func (p *countingPermits) Acquire(ctx context.Context) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.acquired++
	p.held++

	var once sync.Once

	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()

			p.held--
		})
	}, nil
}

type recordingProgress struct {
	bytes     atomic.Int64
	expected  atomic.Int64
	retries   atomic.Int64
	completed atomic.Int64
}

func (p *recordingProgress) ReportExpected(n int64) { p.expected.Add(n) }
func (p *recordingProgress) ReportBytes(n int64)    { p.bytes.Add(n) }
func (p *recordingProgress) ReportRetry()           { p.retries.Add(1) }
func (p *recordingProgress) ReportItemComplete()    { p.completed.Add(1) }

func testClient(maxRedirects int) *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("stopped after %d redirects: %w", maxRedirects, ErrTooManyRedirects)
			}

			return nil
		},
	}
}

func testOptions() Options {
	return Options{
		ChunkSize:     1024,
		InitialWait:   time.Millisecond,
		WaitIncrement: time.Millisecond,
		MaxWait:       3 * time.Millisecond,
		MaxRetry:      3,
		MaxRedirects:  1,
	}
}

func payload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}

	return data
}

// interruptingServer cuts the connection halfway through the body for the
// first failures requests, then serves the full body.
func interruptingServer(t *testing.T, body []byte, failures int) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)

		w.Header().Set("Content-Length", strconv.Itoa(len(body)))

		if failures < 0 || int(n) <= failures {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(body[:len(body)/2])
			w.(http.Flusher).Flush()

			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}

			return
		}

		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	return srv, &calls
}

func TestRun_Success(t *testing.T) {
	body := payload(10_000)
	srv, calls := interruptingServer(t, body, 0)

	dest := filepath.Join(t.TempDir(), "nested", "file.bin")
	permits := &countingPermits{}
	progress := &recordingProgress{}

	tr := New(srv.URL, dest, testOptions())
	require.NoError(t, tr.Run(context.Background(), testClient(1), permits, progress))

	assert.Equal(t, StateSucceeded, tr.State())
	assert.Equal(t, 1, tr.Attempts())
	assert.Equal(t, int32(1), calls.Load())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(body, got))
	assert.Equal(t, int64(len(body)), tr.Written())

	assert.NoFileExists(t, PartPath(dest))
	assert.Equal(t, int64(len(body)), progress.bytes.Load())
	assert.Equal(t, int64(len(body)), progress.expected.Load())
	assert.Equal(t, int64(1), progress.completed.Load())
	assert.Equal(t, 0, permits.held, "permit released")
}

func TestRun_RetriesInterruptedStream(t *testing.T) {
	body := payload(8192)
	srv, calls := interruptingServer(t, body, 2)

	dest := filepath.Join(t.TempDir(), "file.bin")
	progress := &recordingProgress{}
	permits := &countingPermits{}

	tr := New(srv.URL, dest, testOptions())
	require.NoError(t, tr.Run(context.Background(), testClient(1), permits, progress))

	assert.Equal(t, StateSucceeded, tr.State())
	assert.Equal(t, 3, tr.Attempts())
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(2), progress.retries.Load())
	assert.Equal(t, int64(1), progress.completed.Load())
	assert.Equal(t, 3, permits.acquired)
	assert.Equal(t, 0, permits.held)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(body, got), "final file matches the full body")
	assert.NoFileExists(t, PartPath(dest))
}

func TestRun_RetryExhausted(t *testing.T) {
	body := payload(4096)
	srv, calls := interruptingServer(t, body, -1)

	dest := filepath.Join(t.TempDir(), "file.bin")
	opts := testOptions()
	opts.MaxRetry = 1

	tr := New(srv.URL, dest, opts)
	err := tr.Run(context.Background(), testClient(1), &countingPermits{}, nil)

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.True(t, IsTransient(exhausted.Err))

	assert.Equal(t, StateFailed, tr.State())
	assert.Equal(t, 2, tr.Attempts())
	assert.Equal(t, int32(2), calls.Load())
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, PartPath(dest))
	assert.Same(t, err, tr.Err())
}

func TestRun_SkipsExistingFile(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("new content"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	original := []byte("original content")
	require.NoError(t, os.WriteFile(dest, original, 0o644))

	permits := &countingPermits{}
	progress := &recordingProgress{}

	tr := New(srv.URL, dest, testOptions())
	require.NoError(t, tr.Run(context.Background(), testClient(1), permits, progress))

	assert.Equal(t, StateSkipped, tr.State())
	assert.Zero(t, calls.Load(), "no request issued")
	assert.Zero(t, permits.acquired, "no permit taken for a skip")
	assert.Equal(t, int64(1), progress.completed.Load())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

func TestRun_OverwriteIsIdempotent(t *testing.T) {
	body := payload(5000)
	srv, _ := interruptingServer(t, body, 0)

	dest := filepath.Join(t.TempDir(), "file.bin")
	require.NoError(t, os.WriteFile(dest, []byte("stale"), 0o644))

	opts := testOptions()
	opts.Overwrite = true

	var results [][]byte

	for i := 0; i < 2; i++ {
		tr := New(srv.URL, dest, opts)
		require.NoError(t, tr.Run(context.Background(), testClient(1), &countingPermits{}, nil))
		assert.Equal(t, StateSucceeded, tr.State())

		got, err := os.ReadFile(dest)
		require.NoError(t, err)

		results = append(results, got)
	}

	assert.Equal(t, body, results[0])
	assert.Equal(t, results[0], results[1])
}

func TestRun_UnknownContentLength(t *testing.T) {
	body := payload(3000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// flushing before the body is complete forces chunked encoding
		_, _ = w.Write(body[:100])
		w.(http.Flusher).Flush()
		_, _ = w.Write(body[100:])
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	progress := &recordingProgress{}

	tr := New(srv.URL, dest, testOptions())
	require.NoError(t, tr.Run(context.Background(), testClient(1), &countingPermits{}, progress))

	assert.Equal(t, StateSucceeded, tr.State())
	assert.Zero(t, progress.expected.Load())
	assert.Equal(t, int64(len(body)), progress.bytes.Load())

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), info.Size())
}

func TestRun_TooManyRedirectsIsTransient(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer srv.Close()

	opts := testOptions()
	opts.MaxRetry = 2

	dest := filepath.Join(t.TempDir(), "file.bin")
	tr := New(srv.URL, dest, opts)

	err := tr.Run(context.Background(), testClient(1), &countingPermits{}, nil)

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.ErrorIs(t, err, ErrTooManyRedirects)
	assert.Equal(t, 3, tr.Attempts())
	// initial request plus one followed redirect per attempt
	assert.Equal(t, int32(6), calls.Load())
}

func TestRun_UnexpectedStatusIsUnclassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	progress := &recordingProgress{}
	permits := &countingPermits{}

	tr := New(srv.URL, dest, testOptions())
	err := tr.Run(context.Background(), testClient(1), permits, progress)

	var unclassified *UnclassifiedError
	require.ErrorAs(t, err, &unclassified)
	assert.Equal(t, http.StatusNotFound, unclassified.StatusCode)
	assert.False(t, IsTransient(err))

	assert.Equal(t, StateFailed, tr.State())
	assert.Equal(t, 1, tr.Attempts(), "unclassified faults are not retried")
	assert.Equal(t, int64(1), progress.completed.Load())
	assert.Equal(t, 0, permits.held)
	assert.NoFileExists(t, dest)
}

func TestRun_FinalizeFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("body"))
	}))
	defer srv.Close()

	// a non-empty directory at the destination cannot be removed
	dest := filepath.Join(t.TempDir(), "file.bin")
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "child"), 0o755))

	opts := testOptions()
	opts.Overwrite = true

	tr := New(srv.URL, dest, opts)
	err := tr.Run(context.Background(), testClient(1), &countingPermits{}, nil)

	var finalizeErr *FinalizeError
	require.ErrorAs(t, err, &finalizeErr)
	assert.Equal(t, "remove", finalizeErr.Op)
	assert.Equal(t, StateFailed, tr.State())
	assert.Equal(t, int32(1), calls.Load())
}

func TestRun_CancelledDuringBackoff(t *testing.T) {
	body := payload(2048)
	srv, _ := interruptingServer(t, body, -1)

	opts := testOptions()
	opts.InitialWait = time.Hour
	opts.MaxWait = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	tr := New(srv.URL, filepath.Join(t.TempDir(), "file.bin"), opts)
	err := tr.Run(ctx, testClient(1), &countingPermits{}, nil)

	var unclassified *UnclassifiedError
	require.ErrorAs(t, err, &unclassified)
	assert.Equal(t, "backoff", unclassified.Op)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, StateFailed, tr.State())
}

func TestOptions_WithDefaults(t *testing.T) {
	opts := Options{ChunkSize: -1, MaxRetry: -3, InitialWait: time.Second, MaxWait: time.Millisecond}.withDefaults()

	assert.Equal(t, 1024, opts.ChunkSize)
	assert.Zero(t, opts.MaxRetry)
	assert.Equal(t, time.Second, opts.MaxWait)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "succeeded", StateSucceeded.String())
	assert.Equal(t, "backoff", StateBackoff.String())
	assert.True(t, StateSkipped.Terminal())
	assert.False(t, StateStreaming.Terminal())
}
