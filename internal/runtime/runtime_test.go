package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runners() map[string]func() Runner {
	return map[string]func() Runner{
		"threaded":  func() Runner { return NewThreaded(nil) },
		"eventloop": func() Runner { return NewEventLoop(nil) },
	}
}

func TestRunner_WaitReportsFirstError(t *testing.T) {
	for name, mk := range runners() {
		t.Run(name, func(t *testing.T) {
			r := mk()
			boom := errors.New("boom")
			ctx := context.Background()

			r.Go(ctx, "ok", func(ctx context.Context) error { return nil })
			r.Go(ctx, "fail", func(ctx context.Context) error { return boom })
			r.Go(ctx, "cancelled", func(ctx context.Context) error { return context.Canceled })

			assert.ErrorIs(t, r.Wait(), boom)
			// a drained runner is reusable
			r.Go(ctx, "again", func(ctx context.Context) error { return nil })
			assert.NoError(t, r.Wait())
		})
	}
}

func TestRunner_PanicIsContained(t *testing.T) {
	for name, mk := range runners() {
		t.Run(name, func(t *testing.T) {
			r := mk()
			var ran atomic.Bool
			ctx := context.Background()

			r.Go(ctx, "panics", func(ctx context.Context) error { panic("bad task") })
			r.Go(ctx, "survivor", func(ctx context.Context) error {
				ran.Store(true)
				return nil
			})

			err := r.Wait()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "panics")
			assert.True(t, ran.Load())
		})
	}
}

func TestRunner_SleepHonoursCancel(t *testing.T) {
	for name, mk := range runners() {
		t.Run(name, func(t *testing.T) {
			r := mk()
			ctx, cancel := context.WithCancel(context.Background())
			errCh := make(chan error, 1)

			r.Go(ctx, "sleeper", func(ctx context.Context) error {
				err := r.Sleep(ctx, time.Hour)
				errCh <- err
				return err
			})
			cancel()

			select {
			case err := <-errCh:
				assert.ErrorIs(t, err, context.Canceled)
			case <-time.After(2 * time.Second):
				t.Fatal("sleep did not return after cancel")
			}
			assert.NoError(t, r.Wait())
		})
	}
}

func TestEventLoop_OneTaskAtATime(t *testing.T) {
	l := NewEventLoop(nil)
	ctx := context.Background()

	var active, maxActive atomic.Int32
	for i := 0; i < 8; i++ {
		l.Go(ctx, "worker", func(ctx context.Context) error {
			for j := 0; j < 20; j++ {
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				// busy section with no suspension point
				for k := 0; k < 1000; k++ {
					_ = k * k
				}
				active.Add(-1)
				if err := l.Sleep(ctx, time.Millisecond); err != nil {
					return err
				}
			}
			return nil
		})
	}

	require.NoError(t, l.Wait())
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestEventLoop_AwaitLetsOthersRun(t *testing.T) {
	l := NewEventLoop(nil)
	ctx := context.Background()
	ch := make(chan int)

	var mu sync.Mutex
	var got []int

	l.Go(ctx, "consumer", func(ctx context.Context) error {
		for i := 0; i < 3; i++ {
			var v int
			if err := l.Await(ctx, func(ctx context.Context) error {
				v = <-ch
				return nil
			}); err != nil {
				return err
			}
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		}
		return nil
	})
	l.Go(ctx, "producer", func(ctx context.Context) error {
		for i := 1; i <= 3; i++ {
			if err := l.Await(ctx, func(ctx context.Context) error {
				ch <- i
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})

	require.NoError(t, l.Wait())
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestEventLoop_AwaitOutsideTaskRunsInline(t *testing.T) {
	l := NewEventLoop(nil)
	called := false
	err := l.Await(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestEventLoop_NestedGo(t *testing.T) {
	l := NewEventLoop(nil)
	ctx := context.Background()
	var child atomic.Bool

	l.Go(ctx, "parent", func(ctx context.Context) error {
		l.Go(ctx, "child", func(ctx context.Context) error {
			child.Store(true)
			return nil
		})
		return nil
	})

	require.NoError(t, l.Wait())
	assert.True(t, child.Load())
}

func TestEventLoop_PanicInsideAwaitKeepsOneBaton(t *testing.T) {
	l := NewEventLoop(nil)
	ctx := context.Background()

	l.Go(ctx, "panics-in-await", func(ctx context.Context) error {
		return l.Await(ctx, func(context.Context) error { panic("boom") })
	})

	var active, maxActive atomic.Int32
	for i := 0; i < 4; i++ {
		l.Go(ctx, "after", func(ctx context.Context) error {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return l.Sleep(ctx, time.Millisecond)
		})
	}

	done := make(chan error, 1)
	go func() { done <- l.Wait() }()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panics-in-await")
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after a panic inside Await")
	}
	assert.Equal(t, int32(1), maxActive.Load())
}
