package domain

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// RuleEnv is the variable set visible to a custom heuristic rule.
type RuleEnv struct {
	Price         float64 `expr:"price"`
	Liquidity     float64 `expr:"liquidity"`
	TokenAmount   float64 `expr:"token_amount"`
	BuyAmount     float64 `expr:"buy_amount"`
	Name          string  `expr:"name"`
	Symbol        string  `expr:"symbol"`
	HasCurve      bool    `expr:"has_curve"`
	FallbackPrice bool    `expr:"fallback_price"`
}

// CompileRule compiles a boolean rule against RuleEnv.
// Example: `liquidity >= 5 && symbol != ""`.
func CompileRule(source string) (*vm.Program, error) {
	return expr.Compile(source, expr.Env(RuleEnv{}), expr.AsBool())
}
