package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNeverExceedsSize(t *testing.T) {
	const k, n = 3, 20
	l := New(k)
	var cur, peak atomic.Int64
	var wg sync.WaitGroup
	var completed atomic.Int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := l.Run(context.Background(), func(context.Context) error {
				c := cur.Add(1)
				for {
					p := peak.Load()
					if c <= p || peak.CompareAndSwap(p, c) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				cur.Add(-1)
				if i%4 == 0 {
					return errors.New("task failed")
				}
				return nil
			})
			if err == nil || err.Error() == "task failed" {
				completed.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int64(k))
	assert.Equal(t, int64(n), completed.Load())
	assert.Equal(t, 0, l.InFlight())
	assert.Equal(t, 0, l.Waiting())
}

func TestDefaultSize(t *testing.T) {
	assert.Equal(t, DefaultSize, New(0).Size())
	assert.Equal(t, 5, New(5).Size())
}

func TestFIFOAdmission(t *testing.T) {
	l := New(1)
	release := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = l.Run(context.Background(), func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = l.Run(context.Background(), func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
		// wait until the goroutine is queued before starting the next one
		require.Eventually(t, func() bool { return l.Waiting() == i+1 }, time.Second, time.Millisecond)
		time.Sleep(10 * time.Millisecond)
	}
	close(release)
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestReleaseOnErrorAndPanic(t *testing.T) {
	l := New(1)
	err := l.Run(context.Background(), func(context.Context) error { return errors.New("boom") })
	assert.EqualError(t, err, "boom")

	func() {
		defer func() { _ = recover() }()
		_ = l.Run(context.Background(), func(context.Context) error { panic("bad task") })
	}()

	v, err := WithPermit(context.Background(), l, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 0, l.InFlight())
}

func TestCancelWhileWaiting(t *testing.T) {
	l := New(1)
	release := make(chan struct{})
	holding := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(context.Background(), func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := l.Run(ctx, func(context.Context) error { ran = true; return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)
	assert.Equal(t, 0, l.Waiting())

	close(release)
	<-done
}
