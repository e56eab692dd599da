// Package limiter bounds how many batch tasks run at once.
package limiter

import (
	"context"
	"sync/atomic"

	"github.com/loykin/devdash/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// DefaultSize is the number of concurrent batch tasks when none is configured.
const DefaultSize = 2

// Limiter admits at most Size tasks at once. Waiters are admitted in arrival
// order.
type Limiter struct {
	size     int
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	waiting  atomic.Int64
}

func New(size int) *Limiter {
	if size <= 0 {
		size = DefaultSize
	}
	return &Limiter{size: size, sem: semaphore.NewWeighted(int64(size))}
}

func (l *Limiter) Size() int { return l.size }

// InFlight is the number of tasks currently holding a permit.
func (l *Limiter) InFlight() int { return int(l.inFlight.Load()) }

// Waiting is the number of tasks queued for a permit.
func (l *Limiter) Waiting() int { return int(l.waiting.Load()) }

// Run waits for a permit, runs task and releases the permit however task
// returns. If ctx is done before a permit is granted, task is not run and
// ctx.Err() is returned.
func (l *Limiter) Run(ctx context.Context, task func(context.Context) error) error {
	_, err := WithPermit(ctx, l, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, task(ctx)
	})
	return err
}

// WithPermit is Run for tasks that produce a value.
func WithPermit[T any](ctx context.Context, l *Limiter, task func(context.Context) (T, error)) (T, error) {
	var zero T
	l.waiting.Add(1)
	l.report()
	err := l.sem.Acquire(ctx, 1)
	l.waiting.Add(-1)
	if err != nil {
		l.report()
		return zero, err
	}
	l.inFlight.Add(1)
	l.report()
	defer func() {
		l.inFlight.Add(-1)
		l.sem.Release(1)
		l.report()
	}()
	return task(ctx)
}

func (l *Limiter) report() {
	metrics.SetLimiter(l.InFlight(), l.Waiting())
}
