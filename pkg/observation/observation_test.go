package observation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
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

	"github.com/gwillem/lerobot-remote/pkg/channel"
	"github.com/gwillem/lerobot-remote/pkg/protocol"
)

func TestStore_ReplaceIsWholesale(t *testing.T) {
	s := NewStore(nil)
	assert.Nil(t, s.Latest())

	s.Handle(&protocol.Observation{Values: map[string]float64{"a": 1, "b": 2}})
	first := s.Latest()
	s.Handle(&protocol.Observation{Values: map[string]float64{"a": 3}})
	second := s.Latest()

	v, ok := second.Get("a")
	require.True(t, ok)
	assert.Equal(t, 3.0, v)
	_, ok = second.Get("b")
	assert.False(t, ok, "absent keys are not carried over")
	assert.Greater(t, second.Version, first.Version)

	// Earlier versions are never mutated.
	assert.Equal(t, map[string]float64{"a": 1, "b": 2}, first.Values)
}

func TestStore_ReplaceCopiesInput(t *testing.T) {
	s := NewStore(nil)
	in := map[string]float64{"a": 1}
	s.Replace(in)
	in["a"] = 99
	v, _ := s.Latest().Get("a")
	assert.Equal(t, 1.0, v)
}

func TestStore_Handle(t *testing.T) {
	tests := []struct {
		name    string
		msg     protocol.Message
		changed bool
	}{
		{"observation", &protocol.Observation{Values: map[string]float64{"a": 1}}, true},
		{"action result with observation", &protocol.ActionResult{Status: "success", Values: map[string]float64{"a": 2}}, true},
		{"action result without observation", &protocol.ActionResult{Status: "error", Message: "robot not connected"}, false},
		{"observation error status", &protocol.Observation{Status: "error", Message: "robot not connected"}, false},
		{"camera frames", &protocol.CameraFrames{}, false},
		{"pong", &protocol.Pong{}, false},
		{"unrecognized", &protocol.Unrecognized{Type: "telemetry"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(nil)
			assert.Equal(t, tt.changed, s.Handle(tt.msg))
			assert.Equal(t, tt.changed, s.Latest() != nil)
		})
	}
}

func TestStore_ObservationUnavailable(t *testing.T) {
	s := NewStore(nil)
	s.Handle(&protocol.Observation{Values: map[string]float64{"a": 1}})
	before := s.Latest()

	for range 3 {
		assert.False(t, s.Handle(&protocol.Observation{Status: "error", Message: "robot not connected"}))
	}
	assert.Same(t, before, s.Latest())
	assert.Equal(t, "robot not connected", s.Unavailable())

	assert.True(t, s.Handle(&protocol.Observation{Values: map[string]float64{"a": 2}}))
	assert.Empty(t, s.Unavailable())
	assert.Equal(t, 2.0, s.Latest().Values["a"])
}

func TestStore_Subscribe(t *testing.T) {
	s := NewStore(nil)
	var got []uint64
	cancel := s.Subscribe(func(snap *Snapshot) { got = append(got, snap.Version) })

	s.Replace(map[string]float64{"a": 1})
	s.Replace(map[string]float64{"a": 2})
	cancel()
	s.Replace(map[string]float64{"a": 3})

	assert.Equal(t, []uint64{1, 2}, got)
}

func TestStore_UpdatesKeepsNewest(t *testing.T) {
	s := NewStore(nil)
	for i := range 5 {
		s.Replace(map[string]float64{"a": float64(i)})
	}
	snap := <-s.Updates()
	v, _ := snap.Get("a")
	assert.Equal(t, 4.0, v)
	select {
	case <-s.Updates():
		t.Fatal("stale snapshot left in channel")
	default:
	}
}

func TestSnapshot_Keys(t *testing.T) {
	var nilSnap *Snapshot
	assert.Nil(t, nilSnap.Keys())
	snap := &Snapshot{Values: map[string]float64{"b": 1, "a": 2}}
	assert.Equal(t, []string{"a", "b"}, snap.Keys())
}

type countingSender struct {
	n atomic.Int32
}

func (c *countingSender) Send(msg any) bool {
	if cmd, ok := msg.(protocol.Command); ok && cmd.Type == protocol.TypeGetObservation {
		c.n.Add(1)
	}
	return true
}

func TestRequester(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, NewRequester(nil, 0).Interval())

	sender := &countingSender{}
	r := NewRequester(sender, 100)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return sender.n.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	n := sender.n.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, sender.n.Load(), "no requests after stop")
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestFrames_Replace(t *testing.T) {
	f := NewFrames()
	assert.Empty(t, f.Names())

	f.Replace(map[string][]byte{"front": pngBytes(t, 4, 3), "wrist": []byte("not an image")})
	assert.Equal(t, []string{"front", "wrist"}, f.Names())
	front, ok := f.Get("front")
	require.True(t, ok)
	assert.Equal(t, 4, front.Width)
	assert.Equal(t, 3, front.Height)
	wrist, _ := f.Get("wrist")
	assert.Zero(t, wrist.Width)

	f.Replace(map[string][]byte{"front": pngBytes(t, 2, 2)})
	assert.Equal(t, []string{"front"}, f.Names())
	<-f.Updates()
}

func TestCameraStream(t *testing.T) {
	img := pngBytes(t, 8, 6)
	var mu sync.Mutex
	var subscriptions []string

	var up websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		mu.Lock()
		subscriptions = append(subscriptions, string(data))
		mu.Unlock()

		msg, _ := json.Marshal(map[string]any{
			"type": "camera_frames",
			"data": map[string]string{"front": base64.StdEncoding.EncodeToString(img)},
		})
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus`))
		conn.WriteMessage(websocket.TextMessage, msg)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	frames := NewFrames()
	stream := NewCameraStream("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"front"}, frames, channel.Options{})
	require.NoError(t, stream.Start(context.Background()))
	defer stream.Close()

	assert.Eventually(t, func() bool {
		_, ok := frames.Get("front")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	fr, _ := frames.Get("front")
	assert.Equal(t, img, fr.Data)
	assert.Equal(t, 8, fr.Width)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, subscriptions, 1)
	assert.JSONEq(t, `{"cameras":["front"]}`, subscriptions[0])
}
