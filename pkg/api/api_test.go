package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   map[string]any
}

type backend struct {
	mu    sync.Mutex
	calls []recorded
}

func (b *backend) reset() {
	b.mu.Lock()
	b.calls = nil
	b.mu.Unlock()
}

func (b *backend) snapshot() []recorded {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recorded(nil), b.calls...)
}

func newBackend(t *testing.T, routes map[string]string) (*Client, *backend) {
	t.Helper()
	b := &backend{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			assert.NoError(t, json.Unmarshal(data, &rec.body))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		}
		b.mu.Lock()
		b.calls = append(b.calls, rec)
		b.mu.Unlock()

		resp, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail":"Not Found"}`))
			return
		}
		if resp == "400" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"detail":"robot not connected"}`))
			return
		}
		w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/api/"}), b
}

func TestClient_Requests(t *testing.T) {
	ok := `{"status":"success","message":"done"}`
	c, b := newBackend(t, map[string]string{
		"POST /api/robot/connect":               ok,
		"POST /api/robot/disconnect":            ok,
		"POST /api/robot/zero":                  ok,
		"POST /api/robot/record_reset_position": ok,
		"POST /api/robot/move_to_reset":         ok,
		"POST /api/robot/set_step_level":        ok,
		"POST /api/robot/stop_base":             ok,
		"POST /api/cameras/add":                 ok,
		"DELETE /api/cameras/front cam":         ok,
	})
	ctx := context.Background()

	tests := []struct {
		name   string
		call   func() (*Result, error)
		method string
		path   string
		body   map[string]any
	}{
		{"connect", func() (*Result, error) { return c.Connect(ctx, "/dev/ttyACM0", "/dev/ttyACM1") },
			"POST", "/api/robot/connect", map[string]any{"port1": "/dev/ttyACM0", "port2": "/dev/ttyACM1"}},
		{"disconnect", func() (*Result, error) { return c.Disconnect(ctx) }, "POST", "/api/robot/disconnect", nil},
		{"zero", func() (*Result, error) { return c.MoveToZero(ctx, ArmBoth) }, "POST", "/api/robot/zero", map[string]any{"arm": "both"}},
		{"record reset", func() (*Result, error) { return c.RecordResetPosition(ctx, ArmLeft) },
			"POST", "/api/robot/record_reset_position", map[string]any{"arm": "left"}},
		{"move to reset", func() (*Result, error) { return c.MoveToReset(ctx, ArmRight) },
			"POST", "/api/robot/move_to_reset", map[string]any{"arm": "right"}},
		{"step level", func() (*Result, error) { return c.SetStepLevel(ctx, ArmBoth, StepFast) },
			"POST", "/api/robot/set_step_level", map[string]any{"arm": "both", "level": "fast"}},
		{"stop base", func() (*Result, error) { return c.StopBase(ctx) }, "POST", "/api/robot/stop_base", nil},
		{"add camera", func() (*Result, error) {
			return c.AddCamera(ctx, CameraConfig{Name: "front", ID: "0", Type: "opencv", Width: 640, Height: 480, FPS: 30})
		}, "POST", "/api/cameras/add", map[string]any{
			"name": "front", "camera_id": "0", "camera_type": "opencv", "width": 640.0, "height": 480.0, "fps": 30.0,
		}},
		{"remove camera", func() (*Result, error) { return c.RemoveCamera(ctx, "front cam") }, "DELETE", "/api/cameras/front cam", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b.reset()
			res, err := tt.call()
			require.NoError(t, err)
			assert.Equal(t, "success", res.Status)
			assert.Equal(t, "success: done", FormatResult(res))
			calls := b.snapshot()
			require.Len(t, calls, 1)
			got := calls[0]
			assert.Equal(t, tt.method, got.method)
			assert.Equal(t, tt.path, got.path)
			assert.Equal(t, tt.body, got.body)
		})
	}
}

func TestClient_Discovery(t *testing.T) {
	c, _ := newBackend(t, map[string]string{
		"GET /api/devices/ports":         `{"status":"success","ports":["/dev/ttyACM0","/dev/ttyACM1"]}`,
		"GET /api/devices/cameras":       `{"status":"success","cameras":[{"type":"opencv","id":0,"name":"OpenCV Camera @ 0","width":640,"height":480,"fps":30},{"type":"realsense","id":"123456","name":"D435"}]}`,
		"GET /api/health":                `{"status":"healthy","robot_connected":true,"active_websockets":2}`,
		"GET /api/robot/observation":     `{"status":"success","observation":{"left_arm_gripper.pos":12.5,"x.vel":0,"label":"x"}}`,
		"GET /api/robot/reset_positions": `{"status":"success","reset_positions":{"left_arm":{"gripper":1.5}}}`,
	})
	ctx := context.Background()

	ports, err := c.Ports(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyACM0", "/dev/ttyACM1"}, ports)

	cams, err := c.Cameras(ctx)
	require.NoError(t, err)
	require.Len(t, cams, 2)
	assert.Equal(t, CameraID("0"), cams[0].ID)
	assert.Equal(t, 640, cams[0].Width)
	assert.Equal(t, CameraID("123456"), cams[1].ID)

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.True(t, h.RobotConnected)
	assert.Equal(t, 2, h.ActiveWebsockets)

	obs, err := c.Observation(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"left_arm_gripper.pos": 12.5, "x.vel": 0}, obs)

	rp, err := c.ResetPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.5, rp["left_arm"]["gripper"])
}

func TestClient_Errors(t *testing.T) {
	c, _ := newBackend(t, map[string]string{
		"POST /api/robot/disconnect": `{"status":"error","message":"robot not connected"}`,
		"POST /api/robot/stop_base":  "400",
		"GET /api/devices/ports":     `not json`,
	})
	ctx := context.Background()

	_, err := c.Disconnect(ctx)
	require.Error(t, err)
	assert.True(t, IsStatusError(err))
	assert.EqualError(t, err, "backend error: robot not connected")

	_, err = c.StopBase(ctx)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.EqualError(t, err, "backend error (400): robot not connected")

	_, err = c.MoveToZero(ctx, ArmLeft)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))

	_, err = c.Ports(ctx)
	require.Error(t, err)
	assert.False(t, IsStatusError(err))
}

func TestParseStepLevel(t *testing.T) {
	l, err := ParseStepLevel("FAST")
	require.NoError(t, err)
	assert.Equal(t, StepFast, l)

	_, err = ParseStepLevel("warp")
	assert.Error(t, err)
}
