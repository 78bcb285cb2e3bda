// Package handoff passes accepted detections to the trade executor. Nothing
// here signs or submits transactions.
package handoff

import (
	"context"
	"log"

	"sol-beast/internal/domain"
)

// Executor receives accepted tokens while the bot runs in real mode.
type Executor interface {
	Submit(ctx context.Context, token domain.DetectedToken) error
}

// LogExecutor only logs the intent to buy.
type LogExecutor struct {
	logger *log.Logger
}

// NewLogExecutor creates a LogExecutor. A nil logger uses log.Default().
func NewLogExecutor(logger *log.Logger) *LogExecutor {
	if logger == nil {
		logger = log.Default()
	}
	return &LogExecutor{logger: logger}
}

var _ Executor = (*LogExecutor)(nil)

// Submit logs the token and returns nil.
func (e *LogExecutor) Submit(ctx context.Context, token domain.DetectedToken) error {
	e.logger.Printf("[handoff] buy intent mint=%s symbol=%s price=%.9f amount=%.0f",
		token.Mint, token.DisplaySymbol(), token.BuyPriceSOL, token.TokenAmount)
	return ctx.Err()
}
