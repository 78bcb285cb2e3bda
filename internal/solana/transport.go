package solana

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"sol-beast/internal/domain"
	"sol-beast/internal/observability"
)

// Protocol identifies the wire protocol a Transport is using.
type Protocol int32

const (
	ProtocolHTTP Protocol = iota
	ProtocolWS
)

func (p Protocol) String() string {
	if p == ProtocolWS {
		return "ws"
	}
	return "http"
}

// SessionDialer opens a duplex session; DialSession in production.
type SessionDialer func(ctx context.Context, endpoint string) (*WSSession, error)

// TransportOptions configures Transport.
type TransportOptions struct {
	// RejectionPatterns replaces DefaultRejectionPatterns when non-nil.
	RejectionPatterns []string
	// HTTPOptions are passed to NewHTTPClient.
	HTTPOptions []ClientOption
	// WS configures the duplex session opened after a switch.
	WS *WSConfig
	// Dial overrides how the duplex session is opened.
	Dial SessionDialer
	// OnSwitch is called once when the transport moves to the duplex
	// protocol, with the pattern that triggered it.
	OnSwitch func(from, to Protocol, reason string)
	Logger   *log.Logger
}

// Transport executes JSON-RPC calls over HTTP until the provider rejects
// HTTP access, then switches permanently to a single duplex session on the
// scheme-substituted address. It never retries a failed call other than
// the one reissue that accompanies the switch.
type Transport struct {
	rpcURL  string
	wsURL   string
	http    *HTTPClient
	matcher *RejectionMatcher
	dial    SessionDialer
	opts    TransportOptions
	logger  *log.Logger

	mu       sync.Mutex
	protocol Protocol
	session  *WSSession
	closed   bool

	switchMu sync.Mutex
}

// NewTransport creates a transport for an RPC address.
func NewTransport(rpcURL string, opts TransportOptions) *Transport {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	t := &Transport{
		rpcURL:  rpcURL,
		wsURL:   domain.DuplexURL(rpcURL),
		http:    NewHTTPClient(rpcURL, opts.HTTPOptions...),
		matcher: NewRejectionMatcher(opts.RejectionPatterns),
		dial:    opts.Dial,
		opts:    opts,
		logger:  logger,
	}
	if t.dial == nil {
		t.dial = func(ctx context.Context, endpoint string) (*WSSession, error) {
			return DialSession(ctx, endpoint, opts.WS)
		}
	}
	return t
}

var _ Caller = (*Transport)(nil)

// Matcher exposes the rejection matcher so patterns can be extended.
func (t *Transport) Matcher() *RejectionMatcher { return t.matcher }

// Protocol returns the protocol used for new calls.
func (t *Transport) Protocol() Protocol {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.protocol
}

// DuplexURL is the address used after a switch.
func (t *Transport) DuplexURL() string { return t.wsURL }

// Call executes method on the active protocol.
func (t *Transport) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return newError(KindClosed, method, ErrSessionClosed)
	}
	protocol, session := t.protocol, t.session
	t.mu.Unlock()

	if protocol == ProtocolWS {
		return t.callWS(ctx, session, method, params, result)
	}

	start := time.Now()
	err := t.http.Call(ctx, method, params, result)
	observability.RecordTransportCall(ProtocolHTTP.String(), method, time.Since(start).Seconds(), err)
	if err == nil {
		return nil
	}

	pattern, rejected := t.matcher.Match(err)
	if !rejected {
		return err
	}

	session, swErr := t.switchToWS(ctx, pattern, err)
	if swErr != nil {
		return swErr
	}
	return t.callWS(ctx, session, method, params, result)
}

func (t *Transport) callWS(ctx context.Context, session *WSSession, method string, params []interface{}, result interface{}) error {
	start := time.Now()
	err := session.Call(ctx, method, params, result)
	observability.RecordTransportCall(ProtocolWS.String(), method, time.Since(start).Seconds(), err)
	return err
}

// switchToWS opens the duplex session once. Concurrent rejected calls wait
// for the first switch and share its session.
func (t *Transport) switchToWS(ctx context.Context, pattern string, cause error) (*WSSession, error) {
	t.switchMu.Lock()
	defer t.switchMu.Unlock()

	t.mu.Lock()
	if t.protocol == ProtocolWS {
		session := t.session
		t.mu.Unlock()
		return session, nil
	}
	t.mu.Unlock()

	session, err := t.dial(ctx, t.wsURL)
	if err != nil {
		t.logger.Printf("[transport] HTTP rejected by %s (%q) but duplex dial to %s failed: %v", t.rpcURL, pattern, t.wsURL, err)
		return nil, newError(KindRejected, "", fmt.Errorf("duplex fallback after %v: %w", cause, err))
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		session.Close()
		return nil, newError(KindClosed, "", ErrSessionClosed)
	}
	t.protocol = ProtocolWS
	t.session = session
	t.mu.Unlock()

	reason := fmt.Sprintf("matched %q: %v", pattern, cause)
	t.logger.Printf("[transport] switching %s from http to ws (%s): %s", t.rpcURL, t.wsURL, reason)
	observability.RecordTransportSwitch()
	if t.opts.OnSwitch != nil {
		t.opts.OnSwitch(ProtocolHTTP, ProtocolWS, reason)
	}
	return session, nil
}

// Close releases the duplex session, if any. Later calls fail with KindClosed.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	session := t.session
	t.mu.Unlock()

	if session != nil {
		return session.Close()
	}
	return nil
}
