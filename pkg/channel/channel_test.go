package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	received chan string
	conns    chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{
		received: make(chan string, 128),
		conns:    make(chan *websocket.Conn, 8),
	}
	var up websocket.Upgrader
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.received <- string(data)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *testServer) next(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-s.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func (s *testServer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func connect(t *testing.T, url string, opts Options) *Channel {
	t.Helper()
	c := New(url, opts)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSendBeforeConnectIsDropped(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws", Options{})
	assert.Equal(t, Closed, c.State())
	assert.False(t, c.Send(map[string]string{"type": "ping"}))
}

func TestSendPreservesOrder(t *testing.T) {
	srv := newTestServer(t)
	c := connect(t, srv.wsURL(), Options{})
	assert.Equal(t, Open, c.State())

	for i := range 20 {
		require.True(t, c.Send(map[string]int{"seq": i}))
	}
	for i := range 20 {
		assert.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, i), srv.next(t))
	}
}

func TestHeartbeat(t *testing.T) {
	srv := newTestServer(t)
	connect(t, srv.wsURL(), Options{
		Heartbeat:        20 * time.Millisecond,
		HeartbeatMessage: map[string]string{"type": "ping"},
	})

	assert.JSONEq(t, `{"type":"ping"}`, srv.next(t))
	assert.JSONEq(t, `{"type":"ping"}`, srv.next(t))
}

func TestOnOpenRunsBeforeMessages(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.wsURL(), Options{})

	var order []string
	got := make(chan struct{})
	c.OnOpen(func() {
		order = append(order, "open")
		c.Send(map[string]string{"type": "hello"})
	})
	c.OnMessage(func(data []byte) {
		order = append(order, string(data))
		close(got)
	})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })

	conn := srv.conn(t)
	assert.JSONEq(t, `{"type":"hello"}`, srv.next(t))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no message dispatched")
	}
	assert.Equal(t, []string{"open", `{"type":"pong"}`}, order)
}

func TestCloseIsTerminal(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.wsURL(), Options{Reconnect: true, ReconnectDelay: 10 * time.Millisecond})

	var closes atomic.Int32
	var errs atomic.Int32
	c.OnClose(func() { closes.Add(1) })
	c.OnError(func(error) { errs.Add(1) })
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Close())
	assert.Equal(t, Closed, c.State())
	assert.True(t, c.Terminal())

	assert.False(t, c.Send(map[string]string{"type": "base_stop"}), "send after close is a no-op")
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
	assert.NoError(t, c.Close(), "second close is harmless")

	assert.Eventually(t, func() bool { return closes.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), closes.Load())
	assert.Zero(t, errs.Load(), "explicit close is not an error")
	assert.Equal(t, Closed, c.State(), "no reconnect after explicit close")
}

func TestCloseFlushesQueue(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.wsURL(), Options{})
	require.NoError(t, c.Connect(context.Background()))

	for i := range 5 {
		require.True(t, c.Send(map[string]int{"seq": i}))
	}
	require.NoError(t, c.Close())

	for i := range 5 {
		assert.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, i), srv.next(t))
	}
}

func TestServerCloseWithoutReconnect(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.wsURL(), Options{})

	var mu sync.Mutex
	var states []State
	c.OnState(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	closed := make(chan struct{})
	c.OnClose(func() { close(closed) })
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })

	srv.conn(t).Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close not reported")
	}
	assert.Equal(t, Closed, c.State())
	assert.False(t, c.Terminal(), "unexpected close is transient")
	assert.False(t, c.Send(map[string]string{"type": "ping"}))

	time.Sleep(50 * time.Millisecond)
	select {
	case <-srv.conns:
		t.Fatal("reconnected without Reconnect option")
	default:
	}

	mu.Lock()
	assert.Equal(t, []State{Connecting, Open, Closed}, states)
	mu.Unlock()
}

func TestReconnect(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.wsURL(), Options{Reconnect: true, ReconnectDelay: 20 * time.Millisecond})

	var opens atomic.Int32
	c.OnOpen(func() { opens.Add(1) })
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })

	srv.conn(t).Close()
	srv.conn(t)

	assert.Eventually(t, func() bool { return opens.Load() == 2 && c.State() == Open },
		2*time.Second, 5*time.Millisecond)
	assert.True(t, c.Send(map[string]string{"type": "ping"}))
	assert.JSONEq(t, `{"type":"ping"}`, srv.next(t))
}

func TestConnectFailure(t *testing.T) {
	srv := newTestServer(t)
	url := srv.wsURL()
	srv.Close()

	c := New(url, Options{})
	var errs atomic.Int32
	c.OnError(func(error) { errs.Add(1) })

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, Closed, c.State())
	assert.Equal(t, int32(1), errs.Load())
	assert.False(t, c.Terminal())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestEveryHandlerIsCalled(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.wsURL(), Options{})

	var opens, messages, closes atomic.Int32
	got := make(chan struct{}, 2)
	for range 2 {
		c.OnOpen(func() { opens.Add(1) })
		c.OnMessage(func([]byte) {
			messages.Add(1)
			got <- struct{}{}
		})
		c.OnClose(func() { closes.Add(1) })
	}
	require.NoError(t, c.Connect(context.Background()))

	conn := srv.conn(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)))
	for range 2 {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatal("message not dispatched to every handler")
		}
	}
	require.NoError(t, c.Close())

	assert.Equal(t, int32(2), opens.Load())
	assert.Equal(t, int32(2), messages.Load())
	assert.Eventually(t, func() bool { return closes.Load() == 2 }, time.Second, 10*time.Millisecond)
}
