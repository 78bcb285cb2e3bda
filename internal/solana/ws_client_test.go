package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsServer upgrades each connection and hands it to serve.
func wsServer(t *testing.T, serve func(c *websocket.Conn)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()
		serve(c)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func readRequest(t *testing.T, c *websocket.Conn) (rpcRequest, bool) {
	_, msg, err := c.ReadMessage()
	if err != nil {
		return rpcRequest{}, false
	}
	var req rpcRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		t.Errorf("unmarshal request: %v", err)
		return rpcRequest{}, false
	}
	return req, true
}

func drain(c *websocket.Conn) {
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func notification(sub int64, sig string, slot int64) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "logsNotification",
		"params": map[string]interface{}{
			"subscription": sub,
			"result": map[string]interface{}{
				"context": map[string]interface{}{"slot": slot},
				"value": map[string]interface{}{
					"signature": sig,
					"logs":      []string{"Program log: Instruction: Create"},
					"err":       nil,
				},
			},
		},
	}
}

func TestWSSession_ConcurrentCallsDoNotCrossResolve(t *testing.T) {
	url := wsServer(t, func(c *websocket.Conn) {
		first, ok := readRequest(t, c)
		if !ok {
			return
		}
		second, ok := readRequest(t, c)
		if !ok {
			return
		}
		// answer in reverse order, echoing the method name
		for _, req := range []rpcRequest{second, first} {
			c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": req.Method})
		}
		drain(c)
	})

	session, err := DialSession(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("DialSession: %v", err)
	}
	defer session.Close()

	var wg sync.WaitGroup
	results := make(map[string]string)
	var mu sync.Mutex
	for _, method := range []string{"methodA", "methodB"} {
		wg.Add(1)
		go func(method string) {
			defer wg.Done()
			var got string
			if err := session.Call(context.Background(), method, nil, &got); err != nil {
				t.Errorf("Call %s: %v", method, err)
				return
			}
			mu.Lock()
			results[method] = got
			mu.Unlock()
		}(method)
	}
	wg.Wait()

	for _, method := range []string{"methodA", "methodB"} {
		if results[method] != method {
			t.Errorf("call %s resolved with %q", method, results[method])
		}
	}
}

func TestWSSession_SubscribeDeliversInOrder(t *testing.T) {
	url := wsServer(t, func(c *websocket.Conn) {
		req, ok := readRequest(t, c)
		if !ok {
			return
		}
		if req.Method != "logsSubscribe" {
			t.Errorf("expected logsSubscribe, got %s", req.Method)
		}
		filter, _ := req.Params[0].(map[string]interface{})
		mentions, _ := filter["mentions"].([]interface{})
		if len(mentions) != 1 || mentions[0] != "prog" {
			t.Errorf("unexpected mentions filter: %v", filter)
		}
		c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 12345})
		c.WriteJSON(notification(12345, "sig1", 100))
		c.WriteJSON(notification(999, "foreign", 100))
		c.WriteJSON(notification(12345, "sig2", 101))
		drain(c)
	})

	session, err := DialSession(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("DialSession: %v", err)
	}
	defer session.Close()

	subID, err := session.Subscribe(context.Background(), "prog")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if subID != 12345 {
		t.Errorf("expected subscription 12345, got %d", subID)
	}

	var got []string
	for len(got) < 2 {
		select {
		case n := <-session.Notifications():
			if n.Subscription != 12345 {
				t.Errorf("unexpected subscription %d", n.Subscription)
			}
			got = append(got, n.Signature)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for notifications, got %v", got)
		}
	}
	if got[0] != "sig1" || got[1] != "sig2" {
		t.Errorf("expected [sig1 sig2], got %v", got)
	}
}

func TestWSSession_CorrelationMiss(t *testing.T) {
	url := wsServer(t, func(c *websocket.Conn) {
		req, ok := readRequest(t, c)
		if !ok {
			return
		}
		c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID + 1000, "result": "stray"})
		c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "mine"})
		drain(c)
	})

	missed := make(chan uint64, 1)
	session, err := DialSession(context.Background(), url, &WSConfig{
		OnCorrelationMiss: func(id uint64) { missed <- id },
	})
	if err != nil {
		t.Fatalf("DialSession: %v", err)
	}
	defer session.Close()

	var got string
	if err := session.Call(context.Background(), "getSlot", nil, &got); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != "mine" {
		t.Errorf("expected own response, got %q", got)
	}

	select {
	case id := <-missed:
		if id != 1001 {
			t.Errorf("expected miss for id 1001, got %d", id)
		}
	case <-time.After(time.Second):
		t.Fatal("OnCorrelationMiss not called")
	}
	if session.CorrelationMisses() != 1 {
		t.Errorf("expected 1 miss, got %d", session.CorrelationMisses())
	}
}

func TestWSSession_DropFailsPendingAndLaterCalls(t *testing.T) {
	url := wsServer(t, func(c *websocket.Conn) {
		// read one request and hang up without answering
		readRequest(t, c)
	})

	session, err := DialSession(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("DialSession: %v", err)
	}
	defer session.Close()

	err = session.Call(context.Background(), "getSlot", nil, nil)
	if !IsKind(err, KindClosed) {
		t.Fatalf("expected closed kind for pending call, got %v", err)
	}

	select {
	case <-session.Done():
	case <-time.After(time.Second):
		t.Fatal("session not done after drop")
	}
	if session.Err() == nil {
		t.Error("expected terminal error")
	}
	if _, ok := <-session.Notifications(); ok {
		t.Error("expected notifications channel closed")
	}

	err = session.Call(context.Background(), "getSlot", nil, nil)
	if !IsKind(err, KindClosed) {
		t.Fatalf("expected closed kind after drop, got %v", err)
	}
}

func TestWSSession_CallTimeout(t *testing.T) {
	url := wsServer(t, drain)

	session, err := DialSession(context.Background(), url, &WSConfig{CallTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("DialSession: %v", err)
	}
	defer session.Close()

	err = session.Call(context.Background(), "getSlot", nil, nil)
	if !IsKind(err, KindTimeout) {
		t.Fatalf("expected timeout kind, got %v", err)
	}
}

func TestWSSession_CallCancelledReturnsContextError(t *testing.T) {
	url := wsServer(t, drain)

	session, err := DialSession(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("DialSession: %v", err)
	}
	defer session.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	err = session.Call(ctx, "getSlot", nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var te *TransportError
	if errors.As(err, &te) {
		t.Fatalf("cancellation should not be a TransportError, got kind %s", te.Kind)
	}
}

func TestWSSession_CloseWithUnreadNotifications(t *testing.T) {
	url := wsServer(t, func(c *websocket.Conn) {
		req, ok := readRequest(t, c)
		if !ok {
			return
		}
		c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 7})
		for i := 0; i < 10; i++ {
			c.WriteJSON(notification(7, "sig", int64(i)))
		}
		drain(c)
	})

	session, err := DialSession(context.Background(), url, &WSConfig{NotificationBuffer: 1})
	if err != nil {
		t.Fatalf("DialSession: %v", err)
	}
	if _, err := session.Subscribe(context.Background(), "prog"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		session.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on unread notifications")
	}
}

func TestDialSession_Failure(t *testing.T) {
	_, err := DialSession(context.Background(), "ws://127.0.0.1:1/", nil)
	if !IsKind(err, KindConnect) {
		t.Fatalf("expected connect kind, got %v", err)
	}
}
