// Package subscription keeps one log subscription per configured endpoint
// and merges them into a single deduplicated stream of signatures.
package subscription

import (
	"context"
	"fmt"
	"log"
	"sync"

	"sol-beast/internal/domain"
	"sol-beast/internal/runtime"
	"sol-beast/internal/solana"
)

// Dialer opens a duplex log connection.
type Dialer func(ctx context.Context, url string) (solana.LogsClient, error)

// Filter decides whether a notification's log lines are worth resolving.
type Filter interface {
	Match(logs []string) bool
}

// DefaultBufferSize sizes the merged output channel.
const DefaultBufferSize = 1024

// ManagerOptions configures Manager.
type ManagerOptions struct {
	Endpoints []domain.Endpoint
	ProgramID string

	Runner runtime.Runner
	Seen   *SeenSet
	Dialer Dialer
	Filter Filter

	// BufferSize of the output channel; DefaultBufferSize when zero.
	BufferSize int
	// Backoff template copied into every worker; DefaultBackoff when zero.
	Backoff Backoff

	Logger *log.Logger

	// OnLog receives operator-facing messages.
	OnLog func(level domain.LogLevel, msg string)
	// OnState observes state transitions.
	OnState func(endpoint string, s State)
	// OnDuplicate observes signatures dropped by dedup.
	OnDuplicate func(sig string)
}

// Manager runs the per-endpoint workers.
type Manager struct {
	opts   ManagerOptions
	logger *log.Logger

	mu      sync.Mutex
	states  map[string]State
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a manager. Nil Runner, Seen and Dialer get defaults.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Runner == nil {
		opts.Runner = runtime.NewThreaded(opts.Logger)
	}
	if opts.Seen == nil {
		opts.Seen = NewSeenSet(DefaultSeenCapacity)
	}
	if opts.Dialer == nil {
		opts.Dialer = solana.DialLogs
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Backoff.Initial <= 0 {
		opts.Backoff = DefaultBackoff()
	}
	return &Manager{
		opts:   opts,
		logger: opts.Logger,
		states: make(map[string]State),
	}
}

// Start launches one worker per endpoint and returns the merged stream.
// The channel is closed after Stop once every worker has exited. A Manager
// runs once; later Start calls return an already closed channel.
func (m *Manager) Start(ctx context.Context) <-chan string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		m.logger.Printf("[subscription] Start called on a used manager")
		closed := make(chan string)
		close(closed)
		return closed
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	out := make(chan string, m.opts.BufferSize)

	var wg sync.WaitGroup
	for i, ep := range m.opts.Endpoints {
		name := ep.Name()
		if _, taken := m.states[name]; taken {
			name = fmt.Sprintf("%s#%d", name, i)
		}
		m.states[name] = Disconnected

		w := &worker{
			name:        name,
			url:         ep.WSURL,
			program:     m.opts.ProgramID,
			runner:      m.opts.Runner,
			dial:        m.opts.Dialer,
			filter:      m.opts.Filter,
			seen:        m.opts.Seen,
			out:         out,
			backoff:     m.opts.Backoff,
			logger:      m.logger,
			onState:     m.recordState,
			onDuplicate: m.opts.OnDuplicate,
			onLog:       m.opts.OnLog,
		}
		wg.Add(1)
		m.opts.Runner.Go(ctx, "sub:"+name, func(ctx context.Context) error {
			defer wg.Done()
			return w.run(ctx)
		})
	}

	done := m.done
	go func() {
		wg.Wait()
		close(out)
		close(done)
	}()

	m.logger.Printf("[subscription] started %d endpoint workers for %s", len(m.opts.Endpoints), m.opts.ProgramID)
	return out
}

// Stop cancels every worker, which closes its connection, and waits for
// all of them to exit. Safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// States returns the current state per endpoint.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out
}

// Seen exposes the shared dedup set.
func (m *Manager) Seen() *SeenSet { return m.opts.Seen }

func (m *Manager) recordState(name string, s State) {
	m.mu.Lock()
	m.states[name] = s
	m.mu.Unlock()
	if m.opts.OnState != nil {
		m.opts.OnState(name, s)
	}
}
