package detection

import (
	"fmt"
	"math"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"sol-beast/internal/domain"
)

// FallbackPriceSOL is assumed when the pricing account cannot be read.
const FallbackPriceSOL = 0.00001

// EvalInput is the resolved and enriched data a decision is made on.
type EvalInput struct {
	PriceSOL float64
	// Curve is nil when the pricing account could not be read.
	Curve         *BondingCurve
	Name          string
	Symbol        string
	FallbackPrice bool
}

// Decision is the heuristic outcome.
type Decision struct {
	ShouldBuy   bool
	Reason      string
	TokenAmount float64
	PriceSOL    float64
}

// Evaluator applies the built-in heuristics and the optional custom rule.
// The compiled rule is cached per source text.
type Evaluator struct {
	mu      sync.Mutex
	source  string
	program *vm.Program
	err     error
}

// Evaluate scores in against settings with a throwaway Evaluator.
func Evaluate(settings domain.Settings, in EvalInput) Decision {
	return new(Evaluator).Evaluate(settings, in)
}

// Evaluate scores in against settings.
func (e *Evaluator) Evaluate(settings domain.Settings, in EvalInput) Decision {
	d := builtin(settings, in)
	if !d.ShouldBuy || settings.CustomRule == "" {
		return d
	}

	program, err := e.compiled(settings.CustomRule)
	if err != nil {
		return Decision{Reason: fmt.Sprintf("Custom rule invalid: %v", err), TokenAmount: d.TokenAmount, PriceSOL: d.PriceSOL}
	}

	env := domain.RuleEnv{
		Price:         in.PriceSOL,
		TokenAmount:   d.TokenAmount,
		BuyAmount:     settings.BuyAmount,
		Name:          in.Name,
		Symbol:        in.Symbol,
		HasCurve:      in.Curve != nil,
		FallbackPrice: in.FallbackPrice,
	}
	if in.Curve != nil {
		env.Liquidity = in.Curve.LiquiditySOL()
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return Decision{Reason: fmt.Sprintf("Custom rule failed: %v", err), TokenAmount: d.TokenAmount, PriceSOL: d.PriceSOL}
	}
	if ok, _ := out.(bool); !ok {
		return Decision{Reason: "Custom rule rejected token", TokenAmount: d.TokenAmount, PriceSOL: d.PriceSOL}
	}
	d.Reason += "; custom rule passed"
	return d
}

func (e *Evaluator) compiled(source string) (*vm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source != source || (e.program == nil && e.err == nil) {
		e.source = source
		e.program, e.err = domain.CompileRule(source)
	}
	return e.program, e.err
}

func builtin(settings domain.Settings, in EvalInput) Decision {
	price := in.PriceSOL
	d := Decision{PriceSOL: price}
	if price > 0 {
		d.TokenAmount = math.Floor(settings.BuyAmount / price * tokenDecimals)
	}

	if !settings.EnableSaferSniping {
		d.ShouldBuy = true
		d.Reason = "Safer sniping disabled - auto-approve"
		return d
	}

	if d.TokenAmount < float64(settings.MinTokensThreshold) {
		d.Reason = fmt.Sprintf("Token amount %.0f below threshold %d", d.TokenAmount, settings.MinTokensThreshold)
		return d
	}
	if price > settings.MaxSOLPerToken {
		d.Reason = fmt.Sprintf("Price %.9f SOL exceeds max %.9f SOL per token", price, settings.MaxSOLPerToken)
		return d
	}
	if in.Curve != nil {
		liq := in.Curve.LiquiditySOL()
		if liq < settings.MinLiquiditySOL {
			d.Reason = fmt.Sprintf("Liquidity %.4f SOL below min %.4f SOL", liq, settings.MinLiquiditySOL)
			return d
		}
		if liq > settings.MaxLiquiditySOL {
			d.Reason = fmt.Sprintf("Liquidity %.4f SOL exceeds max %.4f SOL", liq, settings.MaxLiquiditySOL)
			return d
		}
	}

	d.ShouldBuy = true
	d.Reason = "All heuristic checks passed"
	return d
}
