package progress

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Tracker aggregates progress across a whole batch. It is advisory only:
// nothing it does can fail a transfer.
type Tracker struct {
	total     int64
	completed atomic.Int64
	bytes     atomic.Int64
	expected  atomic.Int64
	retries   atomic.Int64
	started   time.Time
	out       io.Writer
}

// Snapshot is a point-in-time copy of the tracker counters.
type Snapshot struct {
	Total         int64         `json:"total"`
	Completed     int64         `json:"completed"`
	Bytes         int64         `json:"bytes"`
	ExpectedBytes int64         `json:"expected_bytes"`
	Retries       int64         `json:"retries"`
	Elapsed       time.Duration `json:"elapsed_ns"`
}

// NewTracker creates a tracker for total items that renders status lines to
// out. A nil out disables rendering.
func NewTracker(total int, out io.Writer) *Tracker {
	return &Tracker{
		total:   int64(total),
		started: time.Now(),
		out:     out,
	}
}

// ReportExpected adds n bytes to the advertised size of the batch.
func (t *Tracker) ReportExpected(n int64) {
	if n > 0 {
		t.expected.Add(n)
	}
}

// ReportBytes adds n streamed bytes.
func (t *Tracker) ReportBytes(n int64) {
	if n > 0 {
		t.bytes.Add(n)
	}
}

// ReportRetry counts a scheduled retry.
func (t *Tracker) ReportRetry() {
	t.retries.Add(1)
}

// ReportItemComplete counts one item reaching a terminal state. The count
// never exceeds the total.
func (t *Tracker) ReportItemComplete() {
	for {
		current := t.completed.Load()
		if current >= t.total {
			return
		}

		if t.completed.CompareAndSwap(current, current+1) {
			return
		}
	}
}

// Snapshot returns the current counters.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		Total:         t.total,
		Completed:     t.completed.Load(),
		Bytes:         t.bytes.Load(),
		ExpectedBytes: t.expected.Load(),
		Retries:       t.retries.Load(),
		Elapsed:       time.Since(t.started),
	}
}

// String renders the snapshot as a single status line.
func (s Snapshot) String() string {
	rate := 0.0
	if secs := s.Elapsed.Seconds(); secs > 0 {
		rate = float64(s.Bytes) / secs
	}

	size := humanize.Bytes(uint64(s.Bytes))
	if s.ExpectedBytes > 0 {
		size += " of " + humanize.Bytes(uint64(s.ExpectedBytes))
	}

	return fmt.Sprintf("%d/%d files, %s, %d retries, %s/s",
		s.Completed, s.Total, size, s.Retries, humanize.Bytes(uint64(rate)))
}

// Run renders a status line every interval until ctx is done, then renders a
// final one.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if t.out == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.render()

			return
		case <-ticker.C:
			t.render()
		}
	}
}

func (t *Tracker) render() {
	// display errors never reach the transfers
	_, _ = fmt.Fprintln(t.out, t.Snapshot().String())
}
