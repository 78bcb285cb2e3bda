package detection

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"sol-beast/internal/solana"
)

// CreateDiscriminator prefixes the target program's create instruction data.
var CreateDiscriminator = []byte{24, 30, 200, 40, 5, 28, 7, 119}

// ErrNoCreate marks a transaction without a create instruction.
var ErrNoCreate = errors.New("no create instruction")

// Account positions in the create instruction.
const (
	createAccountMint    = 0
	createAccountCurve   = 2
	createAccountCreator = 7
	createMinAccounts    = 8
)

// CreateInfo is what a create instruction reveals about a new token.
type CreateInfo struct {
	Mint          string
	Creator       string
	BondingCurve  string
	HolderAddress string
	Inner         bool
}

// ParseCreate finds the create instruction, top-level first, then inner.
func ParseCreate(tx *solana.Transaction, programID string) (*CreateInfo, error) {
	keys := tx.AccountKeys()

	if tx.Message != nil {
		for _, ix := range tx.Message.Instructions {
			if info, ok := extractCreate(ix, keys, programID); ok {
				return complete(info, programID)
			}
		}
	}
	if tx.Meta != nil {
		for _, set := range tx.Meta.InnerInstructions {
			for _, ix := range set.Instructions {
				if info, ok := extractCreate(ix, keys, programID); ok {
					info.Inner = true
					return complete(info, programID)
				}
			}
		}
	}
	return nil, ErrNoCreate
}

func extractCreate(ix solana.Instruction, keys []string, programID string) (*CreateInfo, bool) {
	if ix.ProgramIDIndex < 0 || ix.ProgramIDIndex >= len(keys) || keys[ix.ProgramIDIndex] != programID {
		return nil, false
	}
	data, err := base58.Decode(ix.Data)
	if err != nil || len(data) < len(CreateDiscriminator) || !bytes.Equal(data[:len(CreateDiscriminator)], CreateDiscriminator) {
		return nil, false
	}
	if len(ix.Accounts) < createMinAccounts {
		return nil, false
	}

	account := func(pos int) string {
		idx := ix.Accounts[pos]
		if idx < 0 || idx >= len(keys) {
			return ""
		}
		return keys[idx]
	}

	info := &CreateInfo{
		Mint:         account(createAccountMint),
		BondingCurve: account(createAccountCurve),
		Creator:      account(createAccountCreator),
	}
	if info.Mint == "" || info.Creator == "" {
		return nil, false
	}
	return info, true
}

// complete fills in derived addresses.
func complete(info *CreateInfo, programID string) (*CreateInfo, error) {
	if info.BondingCurve == "" {
		curve, err := BondingCurveAddress(info.Mint, programID)
		if err != nil {
			return nil, fmt.Errorf("derive bonding curve for %s: %w", info.Mint, err)
		}
		info.BondingCurve = curve
	}
	holder, err := AssociatedTokenAddress(info.BondingCurve, info.Mint)
	if err != nil {
		return nil, fmt.Errorf("derive holder address for %s: %w", info.Mint, err)
	}
	info.HolderAddress = holder
	return info, nil
}
