package robot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("LEROBOT_MODE", "")
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestConfig_SaveLoadWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultConfigFile)
	cfg := Default()
	cfg.Port1 = "/dev/ttyACM0"
	cfg.Port2 = "/dev/ttyACM1"
	cfg.Cameras = []CameraConfig{{Name: "front", ID: "0", Type: "opencv"}}
	require.NoError(t, cfg.SaveTo(path))

	t.Setenv("LEROBOT_PORT2", "/dev/ttyUSB0")
	t.Setenv("LEROBOT_MODE", "gamepad")
	t.Setenv("LEROBOT_RELEASE_TIMEOUT_MS", "400")

	got, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", got.Port1)
	assert.Equal(t, "/dev/ttyUSB0", got.Port2)
	assert.Equal(t, "gamepad", got.Mode)
	assert.Equal(t, 400, got.ReleaseTimeoutMs)
	assert.Equal(t, []string{"front"}, got.CameraNames())
}

func TestConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")

	require.NoError(t, os.WriteFile(path, []byte(`{"mode":"telepathy"}`), 0644))
	_, err := LoadFrom(path)
	assert.ErrorContains(t, err, "invalid mode")

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0644))
	_, err = LoadFrom(path)
	assert.Error(t, err)

	cfg := Default()
	assert.Error(t, cfg.ApplyEnv(func(k string) string {
		if k == "LEROBOT_HEARTBEAT_MS" {
			return "soon"
		}
		return ""
	}))
}

func TestConfig_URLs(t *testing.T) {
	tests := []struct {
		backend string
		api     string
		teleop  string
		camera  string
	}{
		{"http://localhost:8000", "http://localhost:8000/api", "ws://localhost:8000/ws/teleop", "ws://localhost:8000/ws/camera"},
		{"https://robot.lan/", "https://robot.lan/api", "wss://robot.lan/ws/teleop", "wss://robot.lan/ws/camera"},
	}
	for _, tt := range tests {
		cfg := &Config{Backend: tt.backend}
		assert.Equal(t, tt.api, cfg.APIURL())
		assert.Equal(t, tt.teleop, cfg.TeleopSocket())
		assert.Equal(t, tt.camera, cfg.CameraSocket())
	}

	cfg := &Config{Backend: DefaultBackend, TeleopURL: "ws://other:9000/ws/teleop"}
	assert.Equal(t, "ws://other:9000/ws/teleop", cfg.TeleopSocket())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("LEROBOT_TEST_DOTENV=from-file\n"), 0644))
	t.Setenv("LEROBOT_TEST_DOTENV", "")
	os.Unsetenv("LEROBOT_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("LEROBOT_TEST_DOTENV"))
}
