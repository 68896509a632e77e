// Package lerobot provides a terminal client for remote teleoperation of a
// LeRobot backend.
//
// Keyboard or gamepad input is mapped to robot actions and streamed over a
// WebSocket to the backend, which drives the arms and mobile base. Joint
// observations and camera frames flow back and are shown in the terminal.
//
// # Installation
//
//	go install github.com/gwillem/lerobot-remote/cmd/lerobot-remote@latest
//
// # Usage
//
// First, run setup to connect the follower arms and register cameras:
//
//	lerobot-remote setup
//
// Then start teleoperation:
//
//	lerobot-remote teleoperate
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/lerobot-remote: CLI with setup, teleoperate, keymap and status commands
//   - pkg/keymap: Keymaps, profiles and the profile file store
//   - pkg/input: Key resolution, pressed-key tracking and gamepad rules
//   - pkg/protocol: Messages exchanged with the backend
//   - pkg/channel: WebSocket command channel
//   - pkg/observation: Observation and camera frame caches
//   - pkg/session: Teleoperation session controller and input drivers
//   - pkg/api: REST client for the backend
//   - pkg/robot: Joint naming and client configuration
package lerobot
