// Package api is a client for the robot backend's REST endpoints: device
// discovery, robot connection, poses, step levels and cameras.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout matches the web front-end's request timeout.
const DefaultTimeout = 10 * time.Second

const userAgent = "lerobot-remote/1.0"

// Arm selects which arm a pose or step command applies to.
type Arm string

const (
	ArmLeft  Arm = "left"
	ArmRight Arm = "right"
	ArmBoth  Arm = "both"
)

// StepLevel is the per-keypress motion increment.
type StepLevel string

const (
	StepSlow   StepLevel = "slow"
	StepNormal StepLevel = "normal"
	StepFast   StepLevel = "fast"
)

// StepLevels lists the levels from slowest to fastest.
func StepLevels() []StepLevel {
	return []StepLevel{StepSlow, StepNormal, StepFast}
}

// ParseStepLevel validates s.
func ParseStepLevel(s string) (StepLevel, error) {
	for _, l := range StepLevels() {
		if strings.EqualFold(s, string(l)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("invalid step level %q (want slow, normal or fast)", s)
}

// Result is the common {status, message} envelope.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (r *Result) result() *Result { return r }

// OK reports whether the backend reported success.
func (r *Result) OK() bool {
	return r.Status != "error"
}

type resulter interface {
	result() *Result
}

// StatusError is returned when the backend answers with status "error" or a
// non-2xx HTTP status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Code != 0 && e.Code != http.StatusOK {
		return fmt.Sprintf("backend error (%d): %s", e.Code, e.Message)
	}
	return "backend error: " + e.Message
}

// IsStatusError reports whether err carries a backend-reported failure.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// CameraID is an OpenCV index or a RealSense serial; the backend sends
// either a number or a string.
type CameraID string

func (id *CameraID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = CameraID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("camera id: %w", err)
	}
	*id = CameraID(n.String())
	return nil
}

// CameraInfo describes a camera found by the backend.
type CameraInfo struct {
	Type   string   `json:"type"`
	ID     CameraID `json:"id"`
	Name   string   `json:"name"`
	Width  int      `json:"width,omitempty"`
	Height int      `json:"height,omitempty"`
	FPS    float64  `json:"fps,omitempty"`
}

// CameraConfig registers a camera with the backend under Name.
type CameraConfig struct {
	Name   string `json:"name"`
	ID     string `json:"camera_id"`
	Type   string `json:"camera_type"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	FPS    int    `json:"fps,omitempty"`
}

// Health is the backend's health report.
type Health struct {
	Status           string `json:"status"`
	RobotConnected   bool   `json:"robot_connected"`
	ActiveWebsockets int    `json:"active_websockets"`
}

// Config configures a Client.
type Config struct {
	BaseURL    string // e.g. http://localhost:8000/api
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the backend REST API.
type Client struct {
	base string
	http *http.Client
	log  *slog.Logger
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: hc,
		log:  logger,
	}
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.base
}

// Health checks that the backend is up.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Ports lists the serial ports visible to the backend.
func (c *Client) Ports(ctx context.Context) ([]string, error) {
	var resp struct {
		Result
		Ports []string `json:"ports"`
	}
	if err := c.do(ctx, http.MethodGet, "/devices/ports", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Ports, nil
}

// Cameras lists the cameras visible to the backend.
func (c *Client) Cameras(ctx context.Context) ([]CameraInfo, error) {
	var resp struct {
		Result
		Cameras []CameraInfo `json:"cameras"`
	}
	if err := c.do(ctx, http.MethodGet, "/devices/cameras", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Cameras, nil
}

// Connect connects the robot on the two follower ports.
func (c *Client) Connect(ctx context.Context, port1, port2 string) (*Result, error) {
	body := map[string]string{"port1": port1, "port2": port2}
	return c.post(ctx, "/robot/connect", body)
}

// Disconnect releases the robot.
func (c *Client) Disconnect(ctx context.Context) (*Result, error) {
	return c.post(ctx, "/robot/disconnect", nil)
}

// MoveToZero drives arm to its zero pose.
func (c *Client) MoveToZero(ctx context.Context, arm Arm) (*Result, error) {
	return c.post(ctx, "/robot/zero", map[string]Arm{"arm": arm})
}

// RecordResetPosition stores arm's current pose as its reset pose.
func (c *Client) RecordResetPosition(ctx context.Context, arm Arm) (*Result, error) {
	return c.post(ctx, "/robot/record_reset_position", map[string]Arm{"arm": arm})
}

// MoveToReset drives arm to its recorded reset pose.
func (c *Client) MoveToReset(ctx context.Context, arm Arm) (*Result, error) {
	return c.post(ctx, "/robot/move_to_reset", map[string]Arm{"arm": arm})
}

// ResetPositions returns the recorded reset poses per arm.
func (c *Client) ResetPositions(ctx context.Context) (map[string]map[string]float64, error) {
	var resp struct {
		Result
		ResetPositions map[string]map[string]float64 `json:"reset_positions"`
	}
	if err := c.do(ctx, http.MethodGet, "/robot/reset_positions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.ResetPositions, nil
}

// SetStepLevel changes the motion increment of arm.
func (c *Client) SetStepLevel(ctx context.Context, arm Arm, level StepLevel) (*Result, error) {
	return c.post(ctx, "/robot/set_step_level", map[string]string{"arm": string(arm), "level": string(level)})
}

// StopBase halts the mobile base.
func (c *Client) StopBase(ctx context.Context) (*Result, error) {
	return c.post(ctx, "/robot/stop_base", nil)
}

// Observation fetches one observation. Non-numeric entries are skipped.
func (c *Client) Observation(ctx context.Context) (map[string]float64, error) {
	var resp struct {
		Result
		Observation map[string]any `json:"observation"`
	}
	if err := c.do(ctx, http.MethodGet, "/robot/observation", nil, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(resp.Observation))
	for k, v := range resp.Observation {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out, nil
}

// AddCamera registers a camera.
func (c *Client) AddCamera(ctx context.Context, cam CameraConfig) (*Result, error) {
	return c.post(ctx, "/cameras/add", cam)
}

// RemoveCamera unregisters the named camera.
func (c *Client) RemoveCamera(ctx context.Context, name string) (*Result, error) {
	var r Result
	if err := c.do(ctx, http.MethodDelete, "/cameras/"+url.PathEscape(name), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*Result, error) {
	var r Result
	if err := c.do(ctx, http.MethodPost, path, body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.log.Debug("api request", "method", method, "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	if r, ok := out.(resulter); ok && !r.result().OK() {
		return &StatusError{Code: resp.StatusCode, Message: r.result().Message}
	}
	return nil
}

// errorMessage extracts a message from an error body: the {status, message}
// envelope or a framework {detail} body, falling back to the HTTP status.
func errorMessage(data []byte, status string) string {
	var body struct {
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		var s string
		if json.Unmarshal(body.Detail, &s) == nil && s != "" {
			return s
		}
		if len(body.Detail) > 0 {
			return string(body.Detail)
		}
	}
	if msg := strings.TrimSpace(string(data)); msg != "" && len(msg) < 200 {
		return msg
	}
	return status
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// FormatResult renders r for terminal output.
func FormatResult(r *Result) string {
	if r == nil {
		return ""
	}
	if r.Message == "" {
		return r.Status
	}
	return r.Status + ": " + r.Message
}
