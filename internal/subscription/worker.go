package subscription

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"sol-beast/internal/domain"
	"sol-beast/internal/observability"
	"sol-beast/internal/runtime"
	"sol-beast/internal/solana"
)

// State is the lifecycle position of one endpoint subscription.
type State int

const (
	Disconnected State = iota
	Connecting
	SubscribeSent
	Subscribed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case SubscribeSent:
		return "subscribe_sent"
	case Subscribed:
		return "subscribed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// deliveryGrace bounds how long a deduplicated signature waits for the
// consumer once shutdown has begun.
const deliveryGrace = time.Second

var errConnectionEnded = errors.New("connection ended")

// worker owns one endpoint's connection and reconnect loop.
type worker struct {
	name    string
	url     string
	program string

	runner  runtime.Runner
	dial    Dialer
	filter  Filter
	seen    *SeenSet
	out     chan<- string
	backoff Backoff
	logger  *log.Logger

	onState     func(name string, s State)
	onDuplicate func(sig string)
	onLog       func(level domain.LogLevel, msg string)
}

func (w *worker) setState(s State) {
	observability.SetSubscriptionState(w.name, int(s))
	if w.onState != nil {
		w.onState(w.name, s)
	}
}

func (w *worker) logf(level domain.LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	w.logger.Printf("[sub:%s] %s", w.name, msg)
	if w.onLog != nil {
		w.onLog(level, fmt.Sprintf("%s: %s", w.name, msg))
	}
}

// run loops until ctx is cancelled.
func (w *worker) run(ctx context.Context) error {
	defer w.setState(Disconnected)

	for {
		if ctx.Err() != nil {
			return nil
		}

		w.setState(Connecting)
		var client solana.LogsClient
		err := w.runner.Await(ctx, func(ctx context.Context) error {
			c, err := w.dial(ctx, w.url)
			client = c
			return err
		})
		if err == nil {
			err = w.session(ctx, client)
		}
		w.setState(Disconnected)
		if ctx.Err() != nil {
			return nil
		}

		delay := w.backoff.Next()
		w.logf(domain.LevelWarn, "disconnected: %v; reconnecting in %s", err, delay)
		observability.RecordReconnect(w.name)
		if err := w.runner.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// session subscribes on an open connection and forwards notifications
// until the connection or ctx ends.
func (w *worker) session(ctx context.Context, client solana.LogsClient) error {
	defer w.runner.Await(context.WithoutCancel(ctx), func(context.Context) error {
		return client.Close()
	})

	w.setState(SubscribeSent)
	var subID int64
	err := w.runner.Await(ctx, func(ctx context.Context) error {
		id, err := client.Subscribe(ctx, w.program)
		subID = id
		return err
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	w.setState(Subscribed)
	w.backoff.Reset()
	w.logf(domain.LevelInfo, "subscribed to %s logs (subscription %d)", w.program, subID)

	for {
		var n solana.LogNotification
		var ok bool
		err := w.runner.Await(ctx, func(ctx context.Context) error {
			select {
			case n, ok = <-client.Notifications():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			return err
		}
		if !ok {
			if cerr := client.Err(); cerr != nil {
				return cerr
			}
			return errConnectionEnded
		}
		if err := w.handle(ctx, n); err != nil {
			return err
		}
	}
}

// handle applies the error skip, log filter and dedup, then forwards.
// Notifications from one connection are handled in receipt order.
func (w *worker) handle(ctx context.Context, n solana.LogNotification) error {
	observability.RecordNotification(w.name)

	if n.Err != nil || n.Signature == "" {
		return nil
	}
	if w.filter != nil && !w.filter.Match(n.Logs) {
		return nil
	}
	if !w.seen.CheckAndInsert(n.Signature) {
		observability.RecordDuplicate()
		if w.onDuplicate != nil {
			w.onDuplicate(n.Signature)
		}
		return nil
	}
	return w.deliver(ctx, n.Signature)
}

// deliver pushes sig to the consumer. A signature that passed dedup is
// still offered for deliveryGrace after cancellation.
func (w *worker) deliver(ctx context.Context, sig string) error {
	return w.runner.Await(ctx, func(ctx context.Context) error {
		select {
		case w.out <- sig:
			return nil
		case <-ctx.Done():
		}

		timer := time.NewTimer(deliveryGrace)
		defer timer.Stop()
		select {
		case w.out <- sig:
			return ctx.Err()
		case <-timer.C:
			w.logger.Printf("[sub:%s] dropped %s at shutdown: consumer not reading", w.name, sig)
			return ctx.Err()
		}
	})
}
