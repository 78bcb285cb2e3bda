package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dualServer serves HTTP POSTs with httpHandler and upgrades WebSocket
// requests on the same address, answering every call with its method name.
type dualServer struct {
	*httptest.Server
	httpHits atomic.Int32
	wsDials  atomic.Int32
	wsPaths  chan string
	dropWS   atomic.Bool
}

func newDualServer(t *testing.T, httpHandler http.HandlerFunc) *dualServer {
	t.Helper()
	d := &dualServer{wsPaths: make(chan string, 4)}
	d.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			d.wsDials.Add(1)
			d.wsPaths <- r.URL.RequestURI()
			c, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer c.Close()
			for {
				_, msg, err := c.ReadMessage()
				if err != nil {
					return
				}
				if d.dropWS.Load() {
					return
				}
				var req rpcRequest
				json.Unmarshal(msg, &req)
				c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "ws:" + req.Method})
			}
		}
		d.httpHits.Add(1)
		httpHandler(w, r)
	}))
	t.Cleanup(d.Close)
	return d
}

func forbidden(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Access denied for this origin", http.StatusForbidden)
}

type switchRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (s *switchRecorder) record(from, to Protocol, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, from.String()+"->"+to.String()+" "+reason)
}

func (s *switchRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reasons)
}

func TestTransport_StaysOnHTTPWhenAccepted(t *testing.T) {
	srv := newDualServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "http:" + req.Method})
	})

	tr := NewTransport(srv.URL, TransportOptions{})
	defer tr.Close()

	var got string
	require.NoError(t, tr.Call(context.Background(), "getSlot", nil, &got))
	assert.Equal(t, "http:getSlot", got)
	assert.Equal(t, ProtocolHTTP, tr.Protocol())
	assert.Equal(t, int32(0), srv.wsDials.Load())
}

func TestTransport_SwitchesOnRejectionAndNeverReturnsToHTTP(t *testing.T) {
	srv := newDualServer(t, forbidden)
	rec := &switchRecorder{}

	tr := NewTransport(srv.URL+"/rpc?key=abc", TransportOptions{OnSwitch: rec.record})
	defer tr.Close()
	assert.True(t, strings.HasPrefix(tr.DuplexURL(), "ws://"))

	var got string
	require.NoError(t, tr.Call(context.Background(), "getAccountInfo", nil, &got))
	assert.Equal(t, "ws:getAccountInfo", got, "failed call is reissued over the duplex session")
	assert.Equal(t, ProtocolWS, tr.Protocol())
	assert.Equal(t, "/rpc?key=abc", <-srv.wsPaths, "path and query survive scheme substitution")

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.Call(context.Background(), "getTransaction", nil, &got))
		assert.Equal(t, "ws:getTransaction", got)
	}

	assert.Equal(t, int32(1), srv.httpHits.Load(), "HTTP is attempted exactly once")
	assert.Equal(t, int32(1), srv.wsDials.Load(), "one persistent duplex connection")
	require.Equal(t, 1, rec.count())
	assert.Contains(t, rec.reasons[0], "http->ws")
	assert.Contains(t, rec.reasons[0], "403")
}

func TestTransport_ConcurrentRejectionsSwitchOnce(t *testing.T) {
	srv := newDualServer(t, forbidden)
	rec := &switchRecorder{}
	tr := NewTransport(srv.URL, TransportOptions{OnSwitch: rec.record})
	defer tr.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var got string
			if err := tr.Call(context.Background(), "getSlot", nil, &got); err != nil {
				t.Errorf("Call: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, int32(1), srv.wsDials.Load())
}

func TestTransport_NonRejectionErrorIsReturned(t *testing.T) {
	srv := newDualServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	})
	tr := NewTransport(srv.URL, TransportOptions{})
	defer tr.Close()

	err := tr.Call(context.Background(), "getSlot", nil, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConnect))
	assert.Equal(t, ProtocolHTTP, tr.Protocol())

	// still on HTTP: the next call hits HTTP again
	_ = tr.Call(context.Background(), "getSlot", nil, nil)
	assert.Equal(t, int32(2), srv.httpHits.Load())
	assert.Equal(t, int32(0), srv.wsDials.Load())
}

func TestTransport_CustomPatterns(t *testing.T) {
	teapot := func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "short and stout", http.StatusTeapot)
	}

	t.Run("replaced list ignores defaults", func(t *testing.T) {
		srv := newDualServer(t, forbidden)
		tr := NewTransport(srv.URL, TransportOptions{RejectionPatterns: []string{"teapot"}})
		defer tr.Close()
		require.Error(t, tr.Call(context.Background(), "getSlot", nil, nil))
		assert.Equal(t, ProtocolHTTP, tr.Protocol())
	})

	t.Run("added pattern switches", func(t *testing.T) {
		srv := newDualServer(t, teapot)
		tr := NewTransport(srv.URL, TransportOptions{})
		defer tr.Close()
		tr.Matcher().AddPattern("Teapot")
		require.NoError(t, tr.Call(context.Background(), "getSlot", nil, nil))
		assert.Equal(t, ProtocolWS, tr.Protocol())
	})
}

func TestTransport_DialFailureAfterRejection(t *testing.T) {
	srv := newDualServer(t, forbidden)
	tr := NewTransport(srv.URL, TransportOptions{
		Dial: func(ctx context.Context, endpoint string) (*WSSession, error) {
			return nil, errors.New("no duplex here")
		},
	})
	defer tr.Close()

	err := tr.Call(context.Background(), "getSlot", nil, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindRejected))
	assert.Equal(t, ProtocolHTTP, tr.Protocol())
}

func TestTransport_DroppedSessionIsNotReopened(t *testing.T) {
	srv := newDualServer(t, forbidden)
	tr := NewTransport(srv.URL, TransportOptions{})
	defer tr.Close()

	require.NoError(t, tr.Call(context.Background(), "getSlot", nil, nil))
	srv.dropWS.Store(true)

	err := tr.Call(context.Background(), "getSlot", nil, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindClosed))

	err = tr.Call(context.Background(), "getSlot", nil, nil)
	assert.True(t, IsKind(err, KindClosed))
	assert.Equal(t, int32(1), srv.wsDials.Load())
	assert.Equal(t, int32(1), srv.httpHits.Load())
}

func TestTransport_CallAfterClose(t *testing.T) {
	tr := NewTransport("http://127.0.0.1:1", TransportOptions{})
	require.NoError(t, tr.Close())
	assert.True(t, IsKind(tr.Call(context.Background(), "getSlot", nil, nil), KindClosed))
}
