// Package runtime abstracts how tasks are scheduled so components are
// written once and run either on goroutines or on a single cooperative loop.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Task is a unit of work scheduled on a Runner.
type Task func(ctx context.Context) error

// Runner schedules tasks and marks their suspension points.
//
// Inside a task, every operation that may block (network I/O, channel
// receive/send across tasks, timers) must go through Await or Sleep.
type Runner interface {
	// Go schedules fn as an independent task.
	Go(ctx context.Context, name string, fn Task)

	// Await runs a blocking operation. On a cooperative runner other tasks
	// may execute while fn blocks.
	Await(ctx context.Context, fn Task) error

	// Sleep waits for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error

	// Wait blocks until every scheduled task has returned and reports the
	// first task error other than context cancellation.
	Wait() error
}

// runTask executes fn, turning a panic into an error so one failing task
// never takes down the process.
func runTask(ctx context.Context, logger *log.Logger, name string, fn Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", name, r)
			logger.Printf("[runtime] %v", err)
		}
	}()
	return fn(ctx)
}

// sleep is the shared timer wait.
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

// isCancel reports whether err only reflects shutdown.
func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
