package runtime

import (
	"context"
	"log"
	"sync"
	"time"
)

type loopKey struct{}

// EventLoop schedules tasks cooperatively: exactly one task executes at a
// time, and control passes only at Await and Sleep. Tasks interleave but
// never run in parallel.
type EventLoop struct {
	baton chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	firstErr error

	logger *log.Logger
}

// NewEventLoop creates a single-threaded cooperative runner.
func NewEventLoop(logger *log.Logger) *EventLoop {
	if logger == nil {
		logger = log.Default()
	}
	l := &EventLoop{
		baton:  make(chan struct{}, 1),
		logger: logger,
	}
	l.baton <- struct{}{}
	return l
}

var _ Runner = (*EventLoop)(nil)

// Go queues fn. It starts once the running task reaches a suspension point.
func (l *EventLoop) Go(ctx context.Context, name string, fn Task) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		<-l.baton
		defer func() { l.baton <- struct{}{} }()

		taskCtx := context.WithValue(ctx, loopKey{}, l)
		if err := runTask(taskCtx, l.logger, name, fn); err != nil && !isCancel(err) {
			l.mu.Lock()
			if l.firstErr == nil {
				l.firstErr = err
			}
			l.mu.Unlock()
		}
	}()
}

// inTask reports whether ctx belongs to a task holding this loop's baton.
func (l *EventLoop) inTask(ctx context.Context) bool {
	owner, _ := ctx.Value(loopKey{}).(*EventLoop)
	return owner == l
}

// Await yields the loop while fn blocks, then resumes the caller.
// Called from outside a task, fn simply runs. The baton is reacquired even
// if fn panics.
func (l *EventLoop) Await(ctx context.Context, fn Task) error {
	if !l.inTask(ctx) {
		return fn(ctx)
	}
	l.baton <- struct{}{}
	defer func() { <-l.baton }()
	return fn(ctx)
}

// Sleep yields the loop for d.
func (l *EventLoop) Sleep(ctx context.Context, d time.Duration) error {
	return l.Await(ctx, func(ctx context.Context) error {
		return sleep(ctx, d)
	})
}

// Wait blocks until every task has returned.
func (l *EventLoop) Wait() error {
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.firstErr
	l.firstErr = nil
	return err
}
