package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Caller executes a named JSON-RPC method. result is decoded from the
// response's result field and may be nil.
type Caller interface {
	Call(ctx context.Context, method string, params []interface{}, result interface{}) error
}

// Transaction is a confirmed transaction in "json" encoding.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err               interface{}           `json:"err"`
	LogMessages       []string              `json:"logMessages"`
	InnerInstructions []InnerInstructionSet `json:"innerInstructions"`
	LoadedAddresses   *LoadedAddresses      `json:"loadedAddresses"`
}

// LoadedAddresses are lookup-table accounts of a versioned transaction.
type LoadedAddresses struct {
	Writable []string `json:"writable"`
	Readonly []string `json:"readonly"`
}

// InnerInstructionSet groups CPI instructions under one top-level index.
type InnerInstructionSet struct {
	Index        int           `json:"index"`
	Instructions []Instruction `json:"instructions"`
}

// Instruction is a compiled instruction; Data is base58.
type Instruction struct {
	ProgramIDIndex int    `json:"programIdIndex"`
	Accounts       []int  `json:"accounts"`
	Data           string `json:"data"`
}

// TransactionMessage contains the parsed transaction message.
type TransactionMessage struct {
	AccountKeys  []string      `json:"accountKeys"`
	Instructions []Instruction `json:"instructions"`
}

// AccountKeys returns static keys followed by loaded writable and readonly
// keys, the order instruction indexes refer to.
func (tx *Transaction) AccountKeys() []string {
	if tx == nil || tx.Message == nil {
		return nil
	}
	keys := append([]string(nil), tx.Message.AccountKeys...)
	if tx.Meta != nil && tx.Meta.LoadedAddresses != nil {
		keys = append(keys, tx.Meta.LoadedAddresses.Writable...)
		keys = append(keys, tx.Meta.LoadedAddresses.Readonly...)
	}
	return keys
}

// getTransactionResult is the raw RPC response for getTransaction.
type getTransactionResult struct {
	Slot        int64            `json:"slot"`
	BlockTime   *int64           `json:"blockTime"`
	Meta        *TransactionMeta `json:"meta"`
	Transaction *struct {
		Signatures []string            `json:"signatures"`
		Message    *TransactionMessage `json:"message"`
	} `json:"transaction"`
}

// GetTransaction retrieves a confirmed transaction by signature.
// Returns nil, nil if the node does not know the transaction.
func GetTransaction(ctx context.Context, c Caller, signature string) (*Transaction, error) {
	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "json",
			"maxSupportedTransactionVersion": 0,
			"commitment":                     "confirmed",
		},
	}

	var result *getTransactionResult
	if err := c.Call(ctx, "getTransaction", params, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	tx := &Transaction{
		Slot:      result.Slot,
		Signature: signature,
		Meta:      result.Meta,
	}
	if result.BlockTime != nil {
		tx.BlockTime = *result.BlockTime
	}
	if result.Transaction != nil {
		tx.Message = result.Transaction.Message
	}
	return tx, nil
}

// AccountInfo represents Solana account information with decoded data.
type AccountInfo struct {
	Lamports   uint64
	Owner      string
	Data       []byte
	Executable bool
}

type getAccountInfoResult struct {
	Value *struct {
		Lamports   uint64   `json:"lamports"`
		Owner      string   `json:"owner"`
		Data       []string `json:"data"` // [base64_data, encoding]
		Executable bool     `json:"executable"`
	} `json:"value"`
}

// GetAccountInfo retrieves an account in base64 encoding.
// Returns nil, nil if the account does not exist.
func GetAccountInfo(ctx context.Context, c Caller, address string) (*AccountInfo, error) {
	params := []interface{}{
		address,
		map[string]interface{}{
			"encoding":   "base64",
			"commitment": "confirmed",
		},
	}

	var result getAccountInfoResult
	if err := c.Call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, nil
	}

	info := &AccountInfo{
		Lamports:   result.Value.Lamports,
		Owner:      result.Value.Owner,
		Executable: result.Value.Executable,
	}
	if len(result.Value.Data) >= 1 {
		data, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
		if err != nil {
			return nil, newError(KindMalformed, "getAccountInfo", fmt.Errorf("decode account data: %w", err))
		}
		info.Data = data
	}
	return info, nil
}

// decodeResult unmarshals raw into result, mapping failures to KindMalformed.
func decodeResult(method string, raw json.RawMessage, result interface{}) error {
	if result == nil || raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return newError(KindMalformed, method, fmt.Errorf("unmarshal result: %w", err))
	}
	return nil
}
