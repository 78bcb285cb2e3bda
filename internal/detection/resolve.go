package detection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sol-beast/internal/runtime"
	"sol-beast/internal/solana"
)

// ErrNotTarget marks a transaction that does not involve the target program.
var ErrNotTarget = errors.New("transaction does not invoke target program")

// ErrTransactionNotFound marks a signature the node could not return.
var ErrTransactionNotFound = errors.New("transaction not found")

const (
	resolveAttempts = 3
	resolveBackoff  = 250 * time.Millisecond
)

// Resolver fetches transactions, retrying only on rate limiting.
type Resolver struct {
	caller solana.Caller
	runner runtime.Runner
}

// NewResolver creates a resolver over caller.
func NewResolver(caller solana.Caller, runner runtime.Runner) *Resolver {
	if runner == nil {
		runner = runtime.NewThreaded(nil)
	}
	return &Resolver{caller: caller, runner: runner}
}

// Resolve fetches sig and checks that programID is among its invoked
// programs.
func (r *Resolver) Resolve(ctx context.Context, sig, programID string) (*solana.Transaction, error) {
	var tx *solana.Transaction
	var err error
	for attempt := 1; ; attempt++ {
		err = r.runner.Await(ctx, func(ctx context.Context) error {
			var callErr error
			tx, callErr = solana.GetTransaction(ctx, r.caller, sig)
			return callErr
		})
		if err == nil || !isRateLimited(err) || attempt >= resolveAttempts {
			break
		}
		if serr := r.runner.Sleep(ctx, resolveBackoff*time.Duration(attempt)); serr != nil {
			return nil, serr
		}
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", sig, err)
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	if !InvokesProgram(tx, programID) {
		return nil, ErrNotTarget
	}
	return tx, nil
}

func isRateLimited(err error) bool {
	text := err.Error()
	return strings.Contains(text, "429") || strings.Contains(strings.ToLower(text), "too many requests")
}

// InvokesProgram reports whether any top-level or inner instruction of tx
// is executed by programID.
func InvokesProgram(tx *solana.Transaction, programID string) bool {
	keys := tx.AccountKeys()
	match := func(ix solana.Instruction) bool {
		return ix.ProgramIDIndex >= 0 && ix.ProgramIDIndex < len(keys) && keys[ix.ProgramIDIndex] == programID
	}

	if tx.Message != nil {
		for _, ix := range tx.Message.Instructions {
			if match(ix) {
				return true
			}
		}
	}
	if tx.Meta != nil {
		for _, set := range tx.Meta.InnerInstructions {
			for _, ix := range set.Instructions {
				if match(ix) {
					return true
				}
			}
		}
	}
	return false
}
