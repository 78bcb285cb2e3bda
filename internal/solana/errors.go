package solana

import (
	"errors"
	"fmt"
)

// ErrorKind classifies transport failures.
type ErrorKind int

const (
	KindConnect ErrorKind = iota + 1
	KindRejected
	KindTimeout
	KindMalformed
	KindCorrelation
	KindClosed
	KindRPC
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindRejected:
		return "rejected"
	case KindTimeout:
		return "timeout"
	case KindMalformed:
		return "malformed"
	case KindCorrelation:
		return "correlation"
	case KindClosed:
		return "closed"
	case KindRPC:
		return "rpc"
	default:
		return "unknown"
	}
}

// TransportError is returned by every Call in this package for transport
// failures. A WS call abandoned because its context was cancelled returns
// ctx.Err() itself, since cancellation is not a transport fault.
type TransportError struct {
	Kind   ErrorKind
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Method, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsKind reports whether err carries a TransportError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == kind
}

// KindOf returns the kind of the outermost TransportError in err, or 0.
func KindOf(err error) ErrorKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

func newError(kind ErrorKind, method string, err error) *TransportError {
	return &TransportError{Kind: kind, Method: method, Err: err}
}
