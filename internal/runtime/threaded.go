package runtime

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Threaded runs every task on its own goroutine.
type Threaded struct {
	mu     sync.Mutex
	group  *errgroup.Group
	logger *log.Logger
}

// NewThreaded creates a goroutine-backed runner.
func NewThreaded(logger *log.Logger) *Threaded {
	if logger == nil {
		logger = log.Default()
	}
	return &Threaded{group: new(errgroup.Group), logger: logger}
}

var _ Runner = (*Threaded)(nil)

// Go schedules fn on a new goroutine.
func (r *Threaded) Go(ctx context.Context, name string, fn Task) {
	r.mu.Lock()
	g := r.group
	r.mu.Unlock()

	g.Go(func() error {
		err := runTask(ctx, r.logger, name, fn)
		if err != nil && isCancel(err) {
			return nil
		}
		return err
	})
}

// Await runs fn on the calling goroutine.
func (r *Threaded) Await(ctx context.Context, fn Task) error {
	return fn(ctx)
}

// Sleep waits for d or until ctx is done.
func (r *Threaded) Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

// Wait waits for all tasks and resets the runner for reuse.
func (r *Threaded) Wait() error {
	r.mu.Lock()
	g := r.group
	r.mu.Unlock()

	err := g.Wait()

	r.mu.Lock()
	if r.group == g {
		r.group = new(errgroup.Group)
	}
	r.mu.Unlock()
	return err
}
