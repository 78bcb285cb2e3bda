// Package engine wires the state store, subscription manager and detection
// pipeline together and implements the start and stop commands.
package engine

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"sol-beast/internal/detection"
	"sol-beast/internal/domain"
	"sol-beast/internal/handoff"
	"sol-beast/internal/runtime"
	"sol-beast/internal/solana"
	"sol-beast/internal/state"
	"sol-beast/internal/storage"
	"sol-beast/internal/subscription"
)

// DefaultDrainTimeout bounds how long Stop waits for queued signatures.
const DefaultDrainTimeout = 10 * time.Second

// Options configures an Engine.
type Options struct {
	Store    *state.Store
	Runner   runtime.Runner
	Executor handoff.Executor
	Archive  storage.DetectionArchive
	Metrics  *detection.Metrics
	Logger   *log.Logger

	// RejectionPatterns replaces the transport's default patterns when non-nil.
	RejectionPatterns []string
	// HTTPOptions configure the request/response RPC client.
	HTTPOptions []solana.ClientOption
	// Dialer opens log subscriptions; solana.DialLogs when nil.
	Dialer subscription.Dialer
	// Caller, when set, replaces the Transport built from settings.
	Caller solana.Caller
	// MetadataClient fetches off-chain metadata documents.
	MetadataClient *http.Client

	DrainTimeout time.Duration
}

// Engine owns one detection run at a time.
type Engine struct {
	opts    Options
	store   *state.Store
	runner  runtime.Runner
	metrics *detection.Metrics
	logger  *log.Logger

	mu  sync.Mutex
	run *activeRun
}

type activeRun struct {
	manager        *subscription.Manager
	transport      *solana.Transport
	cancelPipeline context.CancelFunc
	pipelineDone   chan struct{}
}

// New creates an engine. Store is required.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Runner == nil {
		opts.Runner = runtime.NewThreaded(opts.Logger)
	}
	if opts.Metrics == nil {
		opts.Metrics = &detection.Metrics{}
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	return &Engine{
		opts:    opts,
		store:   opts.Store,
		runner:  opts.Runner,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

// Store returns the engine's state store.
func (e *Engine) Store() *state.Store { return e.store }

// Metrics returns detection counters.
func (e *Engine) Metrics() detection.MetricsSnapshot { return e.metrics.Snapshot() }

// States returns the subscription state per endpoint, empty when stopped.
func (e *Engine) States() map[string]string {
	e.mu.Lock()
	run := e.run
	e.mu.Unlock()

	out := make(map[string]string)
	if run == nil {
		return out
	}
	for name, s := range run.manager.States() {
		out[name] = s.String()
	}
	return out
}

// Start marks the store running and launches subscriptions and the
// pipeline from the current settings. The run outlives ctx; only Stop ends it.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run != nil {
		return state.ErrAlreadyRunning
	}
	if err := e.store.Start(); err != nil {
		return err
	}

	settings := e.store.Settings()
	run := &activeRun{pipelineDone: make(chan struct{})}

	caller := e.opts.Caller
	if caller == nil {
		run.transport = solana.NewTransport(settings.SolanaRPCURLs[0], solana.TransportOptions{
			RejectionPatterns: e.opts.RejectionPatterns,
			HTTPOptions:       e.opts.HTTPOptions,
			OnSwitch:          e.recordSwitch,
			Logger:            e.logger,
		})
		caller = run.transport
	}

	base := context.WithoutCancel(ctx)

	run.manager = subscription.NewManager(subscription.ManagerOptions{
		Endpoints: domain.EndpointsFromSettings(settings),
		ProgramID: settings.PumpFunProgram,
		Runner:    e.runner,
		Seen:      subscription.NewSeenSet(settings.CacheCapacity),
		Dialer:    e.opts.Dialer,
		Filter:    detection.NewLogFilter(e.metrics),
		Logger:    e.logger,
		OnLog: func(level domain.LogLevel, msg string) {
			e.store.RecordLog(level, msg, "")
		},
		OnDuplicate: func(string) { e.metrics.IncDuplicate() },
	})
	sigs := run.manager.Start(base)

	pipeline := detection.NewPipeline(detection.PipelineOptions{
		Caller:   caller,
		Store:    e.store,
		Runner:   e.runner,
		Executor: e.opts.Executor,
		Archive:  e.opts.Archive,
		Metrics:  e.metrics,
		HTTP:     e.opts.MetadataClient,
		Logger:   e.logger,
	})

	var pipeCtx context.Context
	pipeCtx, run.cancelPipeline = context.WithCancel(base)
	done := run.pipelineDone
	e.runner.Go(pipeCtx, "pipeline", func(ctx context.Context) error {
		defer close(done)
		pipeline.Run(ctx, sigs)
		return nil
	})

	e.run = run
	e.logger.Printf("[engine] started with %d endpoints", len(settings.SolanaWSURLs))
	return nil
}

// Stop closes every subscription, lets the pipeline drain queued
// signatures for up to DrainTimeout, then marks the store stopped.
func (e *Engine) Stop() error {
	e.mu.Lock()
	run := e.run
	e.run = nil
	e.mu.Unlock()
	if run == nil {
		return state.ErrNotRunning
	}

	run.manager.Stop()

	timer := time.NewTimer(e.opts.DrainTimeout)
	select {
	case <-run.pipelineDone:
		timer.Stop()
	case <-timer.C:
		e.logger.Printf("[engine] drain timed out after %v, abandoning in-flight detections", e.opts.DrainTimeout)
		run.cancelPipeline()
		<-run.pipelineDone
	}
	run.cancelPipeline()

	if run.transport != nil {
		if err := run.transport.Close(); err != nil {
			e.logger.Printf("[engine] close transport: %v", err)
		}
	}
	return e.store.Stop()
}

// Running reports whether a run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run != nil
}

func (e *Engine) recordSwitch(from, to solana.Protocol, reason string) {
	e.store.RecordLog(domain.LevelWarn,
		fmt.Sprintf("RPC transport switched from %s to %s", from, to),
		"matched rejection pattern "+reason)
}
