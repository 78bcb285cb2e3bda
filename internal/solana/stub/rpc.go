// Package stub provides an in-memory solana.Caller for tests.
package stub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"sol-beast/internal/solana"
)

// Caller answers getTransaction and getAccountInfo from in-memory fixtures.
// Results pass through JSON so decoding matches the real transports.
type Caller struct {
	mu           sync.Mutex
	transactions map[string]interface{}
	accounts     map[string][]byte
	failures     map[string][]error
	calls        map[string]int
}

// NewCaller creates an empty stub.
func NewCaller() *Caller {
	return &Caller{
		transactions: make(map[string]interface{}),
		accounts:     make(map[string][]byte),
		failures:     make(map[string][]error),
		calls:        make(map[string]int),
	}
}

var _ solana.Caller = (*Caller)(nil)

// AddTransaction stores the raw getTransaction result for a signature.
func (c *Caller) AddTransaction(signature string, result interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transactions[signature] = result
}

// AddAccount stores raw account data for an address.
func (c *Caller) AddAccount(address string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[address] = data
}

// FailNext queues errors returned by the next calls of method, in order.
func (c *Caller) FailNext(method string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[method] = append(c.failures[method], errs...)
}

// Calls returns how many times method was called.
func (c *Caller) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// Call implements solana.Caller.
func (c *Caller) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.calls[method]++
	if queued := c.failures[method]; len(queued) > 0 {
		c.failures[method] = queued[1:]
		c.mu.Unlock()
		return queued[0]
	}
	value, err := c.resolve(method, params)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("stub marshal: %w", err)
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(raw, result)
}

func (c *Caller) resolve(method string, params []interface{}) (interface{}, error) {
	key := ""
	if len(params) > 0 {
		key, _ = params[0].(string)
	}

	switch method {
	case "getTransaction":
		return c.transactions[key], nil
	case "getAccountInfo":
		data, ok := c.accounts[key]
		if !ok {
			return map[string]interface{}{"value": nil}, nil
		}
		return map[string]interface{}{
			"value": map[string]interface{}{
				"lamports":   1,
				"owner":      "11111111111111111111111111111111",
				"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
				"executable": false,
			},
		}, nil
	default:
		return nil, &solana.TransportError{
			Kind:   solana.KindRPC,
			Method: method,
			Err:    &solana.RPCError{Code: -32601, Message: "Method not found"},
		}
	}
}
