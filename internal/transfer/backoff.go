package transfer

import (
	"context"
	"time"
)

// Backoff carries the retry state of a transfer: how many attempts were made
// and how long to wait before the next one. Waits grow by a fixed increment
// and never exceed max.
type Backoff struct {
	attempt   int
	wait      time.Duration
	increment time.Duration
	max       time.Duration
}

// NewBackoff returns a Backoff starting at initial. An initial wait above max
// is clamped.
func NewBackoff(initial, increment, max time.Duration) *Backoff {
	if initial > max {
		initial = max
	}

	return &Backoff{wait: initial, increment: increment, max: max}
}

// Attempt returns the number of retries scheduled so far.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Wait returns the duration the next call to Next will hand out.
func (b *Backoff) Wait() time.Duration {
	return b.wait
}

// Next returns the wait to apply now and advances the state.
func (b *Backoff) Next() time.Duration {
	current := b.wait

	b.attempt++

	b.wait += b.increment
	if b.wait > b.max {
		b.wait = b.max
	}

	return current
}

// sleep blocks for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
