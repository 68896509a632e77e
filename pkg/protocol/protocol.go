// Package protocol defines the JSON messages exchanged with the robot backend
// over the teleoperation and camera sockets.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/gwillem/lerobot-remote/pkg/keymap"
)

// Outbound message types.
const (
	TypeKeyboardAction = "keyboard_action"
	TypeBaseAction     = "base_action"
	TypeBaseStop       = "base_stop"
	TypePing           = "ping"
	TypeGetObservation = "get_observation"
)

// Inbound message types.
const (
	TypeObservation  = "observation"
	TypeActionResult = "action_result"
	TypeCameraFrames = "camera_frames"
	TypePong         = "pong"
	TypeError        = "error"
)

// Command is an outbound message. Build one with the constructors below.
type Command struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ArmData is the payload of a keyboard_action command.
type ArmData struct {
	Arm    string `json:"arm"`
	Action string `json:"action"`
}

// BaseData is the payload of a base_action command.
type BaseData struct {
	Direction string `json:"direction"`
}

// KeyboardAction moves one arm by one step.
func KeyboardAction(arm keymap.Category, action string) Command {
	return Command{Type: TypeKeyboardAction, Data: ArmData{Arm: string(arm), Action: action}}
}

// BaseAction starts moving the base.
func BaseAction(direction string) Command {
	return Command{Type: TypeBaseAction, Data: BaseData{Direction: direction}}
}

// BaseStop halts the base.
func BaseStop() Command {
	return Command{Type: TypeBaseStop}
}

// Ping is the heartbeat message.
func Ping() Command {
	return Command{Type: TypePing}
}

// GetObservation asks the backend to push a fresh observation.
func GetObservation() Command {
	return Command{Type: TypeGetObservation}
}

// ForAction returns the command that starts a.
func ForAction(a keymap.Action) Command {
	if a.IsBase() {
		return BaseAction(a.Name)
	}
	return KeyboardAction(a.Category, a.Name)
}

// Subscribe is sent on the camera socket to choose the streamed cameras.
type Subscribe struct {
	Cameras []string `json:"cameras"`
}

// Message is a decoded inbound message: one of *Observation, *ActionResult,
// *CameraFrames, *Pong, *Error or *Unrecognized.
type Message interface {
	MessageType() string
}

// Observation carries a full joint-position snapshot. When the backend could
// not read the robot, Values is nil and Status/Message say why.
type Observation struct {
	Status  string
	Message string
	Values  map[string]float64
}

// ActionResult answers an action command. Values is nil when the backend did
// not include an observation.
type ActionResult struct {
	Status  string
	Message string
	Values  map[string]float64
}

// CameraFrames maps camera names to JPEG bytes.
type CameraFrames struct {
	Frames map[string][]byte
}

// Pong answers a ping.
type Pong struct{}

// Error is a backend-reported error.
type Error struct {
	Message string
}

// Unrecognized is any message with an unknown type. It is not an error.
type Unrecognized struct {
	Type string
	Raw  json.RawMessage
}

func (*Observation) MessageType() string  { return TypeObservation }
func (*ActionResult) MessageType() string { return TypeActionResult }
func (*CameraFrames) MessageType() string { return TypeCameraFrames }
func (*Pong) MessageType() string         { return TypePong }
func (*Error) MessageType() string        { return TypeError }
func (u *Unrecognized) MessageType() string {
	return u.Type
}

type envelope struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type resultData struct {
	Status      string         `json:"status"`
	Message     string         `json:"message"`
	Observation map[string]any `json:"observation"`
}

// Decode parses an inbound message. Malformed JSON or a malformed payload for
// a known type returns an error; an unknown type returns *Unrecognized.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case TypeObservation, TypeActionResult:
		var rd resultData
		if len(env.Data) > 0 && string(env.Data) != "null" {
			if err := json.Unmarshal(env.Data, &rd); err != nil {
				return nil, fmt.Errorf("decode %s: %w", env.Type, err)
			}
		}
		values := numeric(rd.Observation)
		if env.Type == TypeObservation {
			if values == nil && rd.Status == "" {
				return nil, fmt.Errorf("decode %s: no observation", env.Type)
			}
			return &Observation{Status: rd.Status, Message: rd.Message, Values: values}, nil
		}
		return &ActionResult{Status: rd.Status, Message: rd.Message, Values: values}, nil

	case TypeCameraFrames:
		var raw map[string]string
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		frames := make(map[string][]byte, len(raw))
		for name, b64 := range raw {
			img, err := base64.StdEncoding.DecodeString(b64)
			if err != nil {
				return nil, fmt.Errorf("decode %s: camera %s: %w", env.Type, name, err)
			}
			frames[name] = img
		}
		return &CameraFrames{Frames: frames}, nil

	case TypePong:
		return &Pong{}, nil

	case TypeError:
		return &Error{Message: env.Message}, nil

	case "":
		return nil, fmt.Errorf("decode envelope: missing type")
	}
	return &Unrecognized{Type: env.Type, Raw: append(json.RawMessage(nil), data...)}, nil
}

// numeric keeps the numeric entries of an observation. Non-numeric entries
// (the backend occasionally includes status strings) are skipped.
func numeric(obs map[string]any) map[string]float64 {
	if obs == nil {
		return nil
	}
	out := make(map[string]float64, len(obs))
	for k, v := range obs {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}
