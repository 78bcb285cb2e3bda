package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig configures a duplex session.
type WSConfig struct {
	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration
	// CallTimeout bounds a Call when ctx carries no deadline.
	CallTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// NotificationBuffer sizes the notification channel.
	NotificationBuffer int
	// OnCorrelationMiss is invoked from the reader for responses whose id
	// matches no pending call.
	OnCorrelationMiss func(id uint64)
	// Logger receives session diagnostics.
	Logger *log.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		HandshakeTimeout:   10 * time.Second,
		CallTimeout:        30 * time.Second,
		PingInterval:       30 * time.Second,
		ReadTimeout:        60 * time.Second,
		WriteTimeout:       10 * time.Second,
		NotificationBuffer: 10000,
	}
}

func (c WSConfig) withDefaults() WSConfig {
	d := DefaultWSConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.NotificationBuffer <= 0 {
		c.NotificationBuffer = d.NotificationBuffer
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// ErrSessionClosed is the cause reported once a session has ended.
var ErrSessionClosed = errors.New("session closed")

// pendingCall is one slot of the correlation table.
type pendingCall struct {
	method    string
	subscribe bool
	ch        chan wsResponse
}

type wsResponse struct {
	result json.RawMessage
	err    *RPCError
}

// WSSession is one persistent JSON-RPC connection. Concurrent calls are
// matched to responses by request id; log notifications are routed to
// Notifications for subscriptions opened on this session. A session never
// redials: once the connection drops every pending and later call fails
// with KindClosed.
type WSSession struct {
	endpoint string
	config   WSConfig

	conn      *websocket.Conn
	writeMu   sync.Mutex
	requestID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*pendingCall
	subs    map[int64]struct{}
	err     error

	notifications chan LogNotification
	misses        atomic.Uint64

	closed    atomic.Bool
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// DialSession opens a duplex session to endpoint.
func DialSession(ctx context.Context, endpoint string, config *WSConfig) (*WSSession, error) {
	var cfg WSConfig
	if config != nil {
		cfg = *config
	}
	cfg = cfg.withDefaults()

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, newError(KindTimeout, "", fmt.Errorf("websocket dial: %w", err))
		}
		return nil, newError(KindConnect, "", fmt.Errorf("websocket dial: %w", err))
	}

	s := &WSSession{
		endpoint:      endpoint,
		config:        cfg,
		conn:          conn,
		pending:       make(map[uint64]*pendingCall),
		subs:          make(map[int64]struct{}),
		notifications: make(chan LogNotification, cfg.NotificationBuffer),
		closing:       make(chan struct{}),
		done:          make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

var _ Caller = (*WSSession)(nil)

// Endpoint returns the dialed URL.
func (s *WSSession) Endpoint() string { return s.endpoint }

// Call sends one request and waits for the response with the same id.
func (s *WSSession) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	raw, err := s.roundTrip(ctx, method, params, false)
	if err != nil {
		return err
	}
	return decodeResult(method, raw, result)
}

// Subscribe opens a logsSubscribe subscription mentioning programID and
// returns the subscription id. Notifications arrive on Notifications.
func (s *WSSession) Subscribe(ctx context.Context, programID string) (int64, error) {
	params := []interface{}{
		map[string]interface{}{"mentions": []string{programID}},
		map[string]string{"commitment": "confirmed"},
	}
	raw, err := s.roundTrip(ctx, "logsSubscribe", params, true)
	if err != nil {
		return 0, err
	}
	var subID int64
	if err := decodeResult("logsSubscribe", raw, &subID); err != nil {
		return 0, err
	}
	return subID, nil
}

// Notifications delivers log notifications in receipt order. It is closed
// when the session ends.
func (s *WSSession) Notifications() <-chan LogNotification { return s.notifications }

// Done is closed when the session ends.
func (s *WSSession) Done() <-chan struct{} { return s.done }

// Err returns why the session ended, or nil while it is open.
func (s *WSSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// CorrelationMisses counts responses that matched no pending call.
func (s *WSSession) CorrelationMisses() uint64 { return s.misses.Load() }

// Close closes the connection and waits for the session goroutines.
func (s *WSSession) Close() error {
	if s.closed.Swap(true) {
		s.wg.Wait()
		return nil
	}
	close(s.closing)

	s.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	s.conn.Close()

	s.wg.Wait()
	return nil
}

func (s *WSSession) roundTrip(ctx context.Context, method string, params []interface{}, subscribe bool) (json.RawMessage, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.CallTimeout)
		defer cancel()
	}

	reqID := s.requestID.Add(1)
	call := &pendingCall{method: method, subscribe: subscribe, ch: make(chan wsResponse, 1)}

	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return nil, newError(KindClosed, method, err)
	}
	s.pending[reqID] = call
	s.mu.Unlock()

	if err := s.write(rpcRequest{JSONRPC: "2.0", ID: reqID, Method: method, Params: params}); err != nil {
		s.forget(reqID)
		if s.Err() != nil {
			return nil, newError(KindClosed, method, err)
		}
		return nil, newError(KindConnect, method, fmt.Errorf("write request: %w", err))
	}

	select {
	case resp := <-call.ch:
		if resp.err != nil {
			return nil, newError(KindRPC, method, resp.err)
		}
		return resp.result, nil
	case <-s.done:
		return nil, newError(KindClosed, method, s.Err())
	case <-ctx.Done():
		s.forget(reqID)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, newError(KindTimeout, method, ctx.Err())
		}
		return nil, ctx.Err()
	}
}

func (s *WSSession) forget(reqID uint64) {
	s.mu.Lock()
	delete(s.pending, reqID)
	s.mu.Unlock()
}

func (s *WSSession) write(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return s.conn.WriteJSON(v)
}

// readLoop is the only reader of the connection.
func (s *WSSession) readLoop() {
	defer s.wg.Done()
	defer close(s.notifications)

	for {
		s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				err = ErrSessionClosed
			}
			s.finish(err)
			return
		}
		s.handleMessage(message)
	}
}

// finish records the terminal error and releases every waiter.
func (s *WSSession) finish(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if err == nil {
			err = ErrSessionClosed
		}
		s.err = err
		s.pending = make(map[uint64]*pendingCall)
		s.mu.Unlock()
		close(s.done)
		s.conn.Close()
	})
}

// wsMessage covers responses and notifications in one decode.
type wsMessage struct {
	ID     *uint64               `json:"id"`
	Method string                `json:"method"`
	Result json.RawMessage       `json:"result"`
	Error  *RPCError             `json:"error"`
	Params *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}

// handleMessage processes incoming WebSocket message.
func (s *WSSession) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.config.Logger.Printf("[ws] discarding malformed frame from %s: %v", s.endpoint, err)
		return
	}

	switch {
	case msg.ID != nil:
		s.handleResponse(*msg.ID, &msg)
	case msg.Method == "logsNotification" && msg.Params != nil:
		s.handleLogsNotification(msg.Params)
	case msg.Error != nil:
		s.config.Logger.Printf("[ws] error from %s: code=%d msg=%s", s.endpoint, msg.Error.Code, msg.Error.Message)
	}
}

func (s *WSSession) handleResponse(id uint64, msg *wsMessage) {
	s.mu.Lock()
	call, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
		// Register before releasing the caller so the first notification
		// is never seen for an unknown subscription.
		if call.subscribe && msg.Error == nil {
			var subID int64
			if err := json.Unmarshal(msg.Result, &subID); err == nil {
				s.subs[subID] = struct{}{}
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		s.misses.Add(1)
		if s.config.OnCorrelationMiss != nil {
			s.config.OnCorrelationMiss(id)
		}
		return
	}
	call.ch <- wsResponse{result: msg.Result, err: msg.Error}
}

func (s *WSSession) handleLogsNotification(params *wsNotificationParams) {
	s.mu.Lock()
	_, known := s.subs[params.Subscription]
	s.mu.Unlock()
	if !known {
		return
	}

	value := params.Result.Value
	n := LogNotification{
		Subscription: params.Subscription,
		Signature:    value.Signature,
		Logs:         value.Logs,
		Err:          value.Err,
	}
	if params.Result.Context != nil {
		n.Slot = params.Result.Context.Slot
	}

	// Block until consumed: notifications are never dropped while open.
	select {
	case s.notifications <- n:
	case <-s.closing:
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (s *WSSession) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				// the reader observes the broken connection
				continue
			}
		}
	}
}
