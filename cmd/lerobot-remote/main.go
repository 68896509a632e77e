package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/gwillem/lerobot-remote/internal/logbox"
	"github.com/gwillem/lerobot-remote/pkg/api"
	"github.com/gwillem/lerobot-remote/pkg/keymap"
	"github.com/gwillem/lerobot-remote/pkg/robot"
)

type Options struct {
	Config   string `short:"c" long:"config" default:"lerobot-remote.json" description:"Client configuration file"`
	Backend  string `short:"b" long:"backend" description:"Backend base URL (overrides config)"`
	LogLevel string `long:"log-level" description:"Log level: debug, info, warn or error"`

	Setup       SetupCommand       `command:"setup" description:"Connect the follower arms and register cameras"`
	Teleoperate TeleoperateCommand `command:"teleoperate" alias:"teleop" description:"Start remote teleoperation"`
	Keymap      KeymapCommand      `command:"keymap" description:"Manage keymap profiles"`
	Status      StatusCommand      `command:"status" description:"Show backend health and one observation"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "LeRobot Remote - teleoperate a LeRobot backend from the terminal"

	if err := robot.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading .env: %v\n", err)
		os.Exit(1)
	}

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies global flags.
func loadConfig() (*robot.Config, error) {
	cfg, err := robot.LoadFrom(opts.Config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	return cfg, nil
}

// logLevel returns the configured level, falling back to info.
func logLevel(cfg *robot.Config) slog.Level {
	level, err := logbox.ParseLevel(cfg.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// stderrLogger is used by the commands that do not own the terminal.
func stderrLogger(cfg *robot.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg)}))
}

func newClient(cfg *robot.Config, logger *slog.Logger) *api.Client {
	return api.New(api.Config{BaseURL: cfg.APIURL(), Logger: logger})
}

func keymapPath(cfg *robot.Config) string {
	if cfg.KeymapFile != "" {
		return cfg.KeymapFile
	}
	return keymap.DefaultPath()
}
