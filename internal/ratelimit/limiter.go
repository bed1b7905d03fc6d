// Package ratelimit bounds how many transfers hold a network slot at once.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter is a counting permit pool. Waiters are served in the order the
// underlying semaphore queues them.
type Limiter struct {
	sem   *semaphore.Weighted
	size  int64
	inUse atomic.Int64
	peak  atomic.Int64
}

// New returns a Limiter allowing at most size concurrent holders.
func New(size int) (*Limiter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("limiter size must be positive, got %d", size)
	}

	return &Limiter{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}, nil
}

// Acquire blocks until a permit is available or ctx is done. The returned
// release func is safe to call more than once; only the first call returns
// the permit.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire permit: %w", err)
	}

	l.trackPeak(l.inUse.Add(1))

	var once sync.Once

	return func() {
		once.Do(func() {
			l.inUse.Add(-1)
			l.sem.Release(1)
		})
	}, nil
}

// Size returns the configured number of permits.
func (l *Limiter) Size() int { return int(l.size) }

// InUse returns the number of permits currently held.
func (l *Limiter) InUse() int { return int(l.inUse.Load()) }

// Peak returns the highest number of permits held at the same time.
func (l *Limiter) Peak() int { return int(l.peak.Load()) }

func (l *Limiter) trackPeak(current int64) {
	for {
		peak := l.peak.Load()
		if current <= peak || l.peak.CompareAndSwap(peak, current) {
			return
		}
	}
}
