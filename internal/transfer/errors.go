package transfer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrTooManyRedirects is returned by the session when a response chain exceeds
// the configured redirect bound.
var ErrTooManyRedirects = errors.New("too many redirects")

// TransientError represents a network fault that is eligible for retry: the
// redirect limit was hit, or the payload was interrupted mid-stream.
type TransientError struct {
	Op  string // The step that failed ("fetch" or "stream")
	Err error  // Underlying error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient fault during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// RetryExhaustedError is returned once a transient fault recurs beyond the
// retry bound. It is the only failure surfaced as a hard error for a transfer.
type RetryExhaustedError struct {
	URL      string // Source URL of the transfer
	Attempts int    // Number of fetch attempts made
	Err      error  // Last transient fault
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("too many retries for %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// FinalizeError represents a local failure while promoting the temporary file
// to its final name. The body was already received, so it is never retried.
type FinalizeError struct {
	Path string // Final destination path
	Op   string // "remove" or "rename"
	Err  error  // Underlying error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("finalize %s failed for '%s': %v", e.Op, e.Path, e.Err)
}

func (e *FinalizeError) Unwrap() error {
	return e.Err
}

// UnclassifiedError wraps any fault outside the transient classification:
// unexpected HTTP status codes, dial failures, local write errors.
type UnclassifiedError struct {
	URL        string // Source URL of the transfer
	Op         string // The step that failed
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Err        error  // Underlying error, if any
}

func (e *UnclassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("unclassified fault during %s of %s (HTTP %d)", e.Op, e.URL, e.StatusCode)
	}

	return fmt.Sprintf("unclassified fault during %s of %s: %v", e.Op, e.URL, e.Err)
}

func (e *UnclassifiedError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is eligible for the retry path.
func IsTransient(err error) bool {
	var te *TransientError

	return errors.As(err, &te)
}

// classifyFetch decides whether an error returned by the session while issuing
// the request is transient. Timeouts and resets count as interruptions.
func classifyFetch(err error) bool {
	if errors.Is(err, ErrTooManyRedirects) {
		return true
	}

	return isInterruption(err)
}

// isInterruption matches errors produced when a connection is cut while a
// response is in flight.
func isInterruption(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
