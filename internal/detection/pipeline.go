// Package detection turns deduplicated signatures into scored, recorded
// token detections.
package detection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"sol-beast/internal/domain"
	"sol-beast/internal/handoff"
	"sol-beast/internal/observability"
	"sol-beast/internal/runtime"
	"sol-beast/internal/solana"
	"sol-beast/internal/state"
	"sol-beast/internal/storage"
)

// Signature outcomes recorded in metrics.
const (
	OutcomeDetected   = "detected"
	OutcomeIrrelevant = "irrelevant"
	OutcomeError      = "error"
)

// PipelineOptions configures Pipeline.
type PipelineOptions struct {
	Caller   solana.Caller
	Store    *state.Store
	Runner   runtime.Runner
	Executor handoff.Executor         // optional; accepted tokens in real mode
	Archive  storage.DetectionArchive // optional
	Metrics  *Metrics
	HTTP     *http.Client // off-chain metadata client
	Logger   *log.Logger
	Now      func() time.Time
}

// Pipeline resolves, extracts, enriches, scores and records detections.
type Pipeline struct {
	store    *state.Store
	caller   solana.Caller
	runner   runtime.Runner
	executor handoff.Executor
	archive  storage.DetectionArchive
	metrics  *Metrics
	logger   *log.Logger
	now      func() time.Time

	resolver  *Resolver
	metadata  *MetadataFetcher
	evaluator *Evaluator
}

// NewPipeline creates a pipeline.
func NewPipeline(opts PipelineOptions) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Runner == nil {
		opts.Runner = runtime.NewThreaded(opts.Logger)
	}
	if opts.Metrics == nil {
		opts.Metrics = &Metrics{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		store:     opts.Store,
		caller:    opts.Caller,
		runner:    opts.Runner,
		executor:  opts.Executor,
		archive:   opts.Archive,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
		resolver:  NewResolver(opts.Caller, opts.Runner),
		metadata:  NewMetadataFetcher(opts.Caller, opts.HTTP, opts.Runner),
		evaluator: &Evaluator{},
	}
}

// Metrics returns the pipeline's counters.
func (p *Pipeline) Metrics() *Metrics { return p.metrics }

// Run processes signatures until sigs is closed or ctx is done, with at most
// max_concurrent_detections in flight. In-flight work is drained before
// Run returns.
func (p *Pipeline) Run(ctx context.Context, sigs <-chan string) {
	limit := p.store.Settings().MaxConcurrentDetections
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for {
		var sig string
		var ok bool
		err := p.runner.Await(ctx, func(ctx context.Context) error {
			select {
			case sig, ok = <-sigs:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil || !ok {
			break
		}

		err = p.runner.Await(ctx, func(ctx context.Context) error {
			select {
			case sem <- struct{}{}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			break
		}

		wg.Add(1)
		observability.AddInFlight(1)
		p.runner.Go(ctx, "detect:"+sig, func(ctx context.Context) error {
			defer func() {
				<-sem
				observability.AddInFlight(-1)
				wg.Done()
			}()
			_, err := p.Process(ctx, sig)
			if err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Printf("[pipeline] %s: %v", sig, err)
			}
			return nil
		})
	}

	p.runner.Await(context.WithoutCancel(ctx), func(context.Context) error {
		wg.Wait()
		return nil
	})
}

// Process runs one signature through every step. It returns nil, nil for
// signatures that turn out to be irrelevant.
func (p *Pipeline) Process(ctx context.Context, sig string) (*domain.DetectedToken, error) {
	start := time.Now()
	settings := p.store.Settings()

	token, err := p.process(ctx, sig, settings)
	elapsed := time.Since(start).Seconds()
	switch {
	case err != nil:
		p.metrics.incFailure()
		observability.RecordSignature(OutcomeError, elapsed)
		if !errors.Is(err, context.Canceled) {
			p.store.RecordLog(domain.LevelError, "Failed to process "+sig, err.Error())
		}
	case token == nil:
		observability.RecordSignature(OutcomeIrrelevant, elapsed)
	default:
		p.metrics.incDetected()
		observability.RecordSignature(OutcomeDetected, elapsed)
	}
	return token, err
}

func (p *Pipeline) process(ctx context.Context, sig string, settings domain.Settings) (*domain.DetectedToken, error) {
	// 1. resolve
	tx, err := p.resolver.Resolve(ctx, sig, settings.PumpFunProgram)
	if errors.Is(err, ErrNotTarget) || errors.Is(err, ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// 2. extract
	info, err := ParseCreate(tx, settings.PumpFunProgram)
	if errors.Is(err, ErrNoCreate) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	token := domain.DetectedToken{
		Signature:     sig,
		Mint:          info.Mint,
		Creator:       info.Creator,
		BondingCurve:  info.BondingCurve,
		HolderAddress: info.HolderAddress,
		DetectedAt:    p.now(),
	}

	// 3. enrich, best effort
	meta, err := p.metadata.Fetch(ctx, info.Mint, settings.MetadataProgram)
	if err != nil {
		p.enrichmentFailed(info.Mint, err)
	}
	applyMetadata(&token, meta)

	in := EvalInput{Name: meta.Name, Symbol: meta.Symbol}
	curve, err := p.fetchCurve(ctx, info.BondingCurve)
	if err != nil {
		p.enrichmentFailed(info.Mint, err)
		in.PriceSOL = FallbackPriceSOL
		in.FallbackPrice = true
	} else {
		in.Curve = curve
		in.PriceSOL = curve.PriceSOL()
		liq := curve.LiquiditySOL()
		token.LiquiditySOL = &liq
	}

	// 4. score
	d := p.evaluator.Evaluate(settings, in)
	token.ShouldBuy = d.ShouldBuy
	token.EvaluationReason = d.Reason
	token.TokenAmount = d.TokenAmount
	token.BuyPriceSOL = d.PriceSOL
	token.PriceIsFallback = in.FallbackPrice

	// 5. record
	p.record(ctx, token)
	return &token, nil
}

func (p *Pipeline) fetchCurve(ctx context.Context, address string) (*BondingCurve, error) {
	var info *solana.AccountInfo
	err := p.runner.Await(ctx, func(ctx context.Context) error {
		var callErr error
		info, callErr = solana.GetAccountInfo(ctx, p.caller, address)
		return callErr
	})
	if err != nil {
		return nil, &EnrichmentError{Stage: StageCurve, Err: err}
	}
	if info == nil {
		return nil, &EnrichmentError{Stage: StageCurve, Err: fmt.Errorf("bonding curve account %s not found", address)}
	}
	curve, err := DecodeBondingCurve(info.Data)
	if err != nil {
		return nil, &EnrichmentError{Stage: StageCurve, Err: err}
	}
	return curve, nil
}

func (p *Pipeline) enrichmentFailed(mint string, err error) {
	stage := "unknown"
	var ee *EnrichmentError
	if errors.As(err, &ee) {
		stage = ee.Stage
	}
	observability.RecordEnrichmentFailure(stage)
	p.store.RecordLog(domain.LevelWarn, "Enrichment degraded for "+mint, err.Error())
}

func applyMetadata(token *domain.DetectedToken, meta *Metadata) {
	if meta == nil {
		return
	}
	set := func(v string) *string {
		if v == "" {
			return nil
		}
		return &v
	}
	token.Name = set(meta.Name)
	token.Symbol = set(meta.Symbol)
	token.ImageURI = set(meta.Image)
	token.Description = set(meta.Description)
	token.MetadataURI = meta.URI
}

// record appends the detection, then hands it to the archive and, for an
// accepted token while running live, to the executor.
func (p *Pipeline) record(ctx context.Context, token domain.DetectedToken) {
	p.store.RecordDetection(token)

	verdict := "rejected"
	if token.ShouldBuy {
		verdict = "accepted"
	}
	price := fmt.Sprintf("%.9f SOL", token.BuyPriceSOL)
	if token.PriceIsFallback {
		price += " (fallback)"
	}
	p.store.RecordLog(domain.LevelInfo,
		fmt.Sprintf("Detected %s (%s) %s", token.DisplayName(), token.DisplaySymbol(), verdict),
		fmt.Sprintf("mint=%s price=%s reason=%s", token.Mint, price, token.EvaluationReason))

	if p.archive != nil {
		err := p.runner.Await(ctx, func(ctx context.Context) error {
			return p.archive.Append(ctx, token)
		})
		if err != nil {
			p.store.RecordLog(domain.LevelWarn, "Archive append failed for "+token.Mint, err.Error())
		}
	}

	if !token.ShouldBuy {
		return
	}
	run := p.store.RunState()
	if !run.Mode.IsLive() || !run.Running {
		p.store.Logf(domain.LevelInfo, "dry-run: would buy %s for %.4f SOL", token.Mint, p.store.Settings().BuyAmount)
		return
	}
	if p.executor == nil {
		p.store.RecordLog(domain.LevelWarn, "No trade executor configured", "mint="+token.Mint)
		return
	}
	err := p.runner.Await(ctx, func(ctx context.Context) error {
		return p.executor.Submit(ctx, token)
	})
	if err != nil {
		p.store.RecordLog(domain.LevelError, "Trade handoff failed for "+token.Mint, err.Error())
		return
	}
	p.store.Logf(domain.LevelInfo, "Handed %s to trade executor", token.Mint)
}
