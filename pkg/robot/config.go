package robot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultConfigFile = "lerobot-remote.json"

// DefaultBackend is where the backend listens when run locally.
const DefaultBackend = "http://localhost:8000"

// Config holds the client configuration
type Config struct {
	Backend   string `json:"backend"`
	TeleopURL string `json:"teleop_url,omitempty"`
	CameraURL string `json:"camera_url,omitempty"`

	Port1   string         `json:"port1,omitempty"`
	Port2   string         `json:"port2,omitempty"`
	Cameras []CameraConfig `json:"cameras,omitempty"`

	Mode       string `json:"mode"`
	KeymapFile string `json:"keymap_file,omitempty"`
	StepLevel  string `json:"step_level,omitempty"`
	LogLevel   string `json:"log_level,omitempty"`

	ReleaseTimeoutMs  int `json:"release_timeout_ms,omitempty"`
	HeartbeatMs       int `json:"heartbeat_ms,omitempty"`
	ObservationHz     int `json:"observation_hz,omitempty"`
	GamepadPollMs     int `json:"gamepad_poll_ms,omitempty"`
	CameraReconnectMs int `json:"camera_reconnect_ms,omitempty"`
}

// CameraConfig holds configuration for a single camera
type CameraConfig struct {
	Name   string `json:"name"`
	ID     string `json:"id"`
	Type   string `json:"type"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	FPS    int    `json:"fps,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Backend:   DefaultBackend,
		Mode:      "keyboard",
		StepLevel: "normal",
		LogLevel:  "info",
	}
}

// Load loads configuration from the default config file
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom loads configuration from a specific file. A missing file yields
// the defaults. LEROBOT_* environment variables override file values.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadDotEnv loads .env files into the environment without overriding
// variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides fields from LEROBOT_* variables looked up with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"LEROBOT_BACKEND":     &c.Backend,
		"LEROBOT_TELEOP_URL":  &c.TeleopURL,
		"LEROBOT_CAMERA_URL":  &c.CameraURL,
		"LEROBOT_PORT1":       &c.Port1,
		"LEROBOT_PORT2":       &c.Port2,
		"LEROBOT_MODE":        &c.Mode,
		"LEROBOT_KEYMAP_FILE": &c.KeymapFile,
		"LEROBOT_STEP_LEVEL":  &c.StepLevel,
		"LEROBOT_LOG_LEVEL":   &c.LogLevel,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"LEROBOT_RELEASE_TIMEOUT_MS":  &c.ReleaseTimeoutMs,
		"LEROBOT_HEARTBEAT_MS":        &c.HeartbeatMs,
		"LEROBOT_OBSERVATION_HZ":      &c.ObservationHz,
		"LEROBOT_GAMEPAD_POLL_MS":     &c.GamepadPollMs,
		"LEROBOT_CAMERA_RECONNECT_MS": &c.CameraReconnectMs,
	}
	for key, dst := range ints {
		v := getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

// Validate checks the fields that would otherwise fail late.
func (c *Config) Validate() error {
	if _, err := url.Parse(c.Backend); err != nil || c.Backend == "" {
		return fmt.Errorf("invalid backend url %q", c.Backend)
	}
	switch c.Mode {
	case "keyboard", "gamepad":
	default:
		return fmt.Errorf("invalid mode %q (want keyboard or gamepad)", c.Mode)
	}
	for _, n := range []int{c.ReleaseTimeoutMs, c.HeartbeatMs, c.ObservationHz, c.GamepadPollMs, c.CameraReconnectMs} {
		if n < 0 {
			return errors.New("intervals must not be negative")
		}
	}
	return nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Exists returns true if the default config file exists
func Exists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}

// APIURL returns the REST root, e.g. http://localhost:8000/api.
func (c *Config) APIURL() string {
	return strings.TrimRight(c.Backend, "/") + "/api"
}

// TeleopSocket returns the teleop socket URL, derived from Backend unless
// set explicitly.
func (c *Config) TeleopSocket() string {
	if c.TeleopURL != "" {
		return c.TeleopURL
	}
	return c.socket("/ws/teleop")
}

// CameraSocket returns the camera socket URL.
func (c *Config) CameraSocket() string {
	if c.CameraURL != "" {
		return c.CameraURL
	}
	return c.socket("/ws/camera")
}

func (c *Config) socket(path string) string {
	u, err := url.Parse(strings.TrimRight(c.Backend, "/"))
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

// CameraNames returns the configured camera names.
func (c *Config) CameraNames() []string {
	names := make([]string, 0, len(c.Cameras))
	for _, cam := range c.Cameras {
		names = append(names, cam.Name)
	}
	return names
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// ReleaseTimeout is the synthesized key-release delay; zero means default.
func (c *Config) ReleaseTimeout() time.Duration { return millis(c.ReleaseTimeoutMs) }

// Heartbeat is the ping interval; zero means default.
func (c *Config) Heartbeat() time.Duration { return millis(c.HeartbeatMs) }

// GamepadPoll is the gamepad polling interval; zero means default.
func (c *Config) GamepadPoll() time.Duration { return millis(c.GamepadPollMs) }

// CameraReconnect is the camera socket reconnect delay; zero means default.
func (c *Config) CameraReconnect() time.Duration { return millis(c.CameraReconnectMs) }
