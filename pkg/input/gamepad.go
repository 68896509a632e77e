package input

import (
	"math"

	"github.com/gwillem/lerobot-remote/pkg/keymap"
)

// Deadzone is the stick magnitude below which input is ignored.
const Deadzone = 0.5

// Standard gamepad axis indices.
const (
	AxisLeftX = iota
	AxisLeftY
	AxisRightX
	AxisRightY
)

// Snapshot is one poll of a gamepad. Axis values are in [-1, 1].
type Snapshot struct {
	Axes    []float64
	Buttons []bool
}

func (s Snapshot) axis(i int) float64 {
	if i < len(s.Axes) {
		return s.Axes[i]
	}
	return 0
}

// Active reports whether any stick axis is past the deadzone.
func (s Snapshot) Active() bool {
	for _, a := range []int{AxisLeftX, AxisLeftY, AxisRightX, AxisRightY} {
		if math.Abs(s.axis(a)) > Deadzone {
			return true
		}
	}
	return false
}

type stickRule struct {
	category keymap.Category
	xAxis    int
	yAxis    int
}

// The left stick drives the left arm, the right stick the right arm.
var stickRules = []stickRule{
	{keymap.LeftArm, AxisLeftX, AxisLeftY},
	{keymap.RightArm, AxisRightX, AxisRightY},
}

// GamepadActions maps one snapshot to the actions it requests. Horizontal
// deflection moves along y, vertical deflection along x (pushing up is x+).
// Analog input is resampled on every poll, so there is no start/stop state:
// an axis returning inside the deadzone simply stops producing actions.
func GamepadActions(s Snapshot) []keymap.Action {
	var out []keymap.Action
	for _, r := range stickRules {
		if x := s.axis(r.xAxis); math.Abs(x) > Deadzone {
			name := "y-"
			if x > 0 {
				name = "y+"
			}
			out = append(out, keymap.Action{Category: r.category, Name: name})
		}
		if y := s.axis(r.yAxis); math.Abs(y) > Deadzone {
			name := "x+"
			if y > 0 {
				name = "x-"
			}
			out = append(out, keymap.Action{Category: r.category, Name: name})
		}
	}
	return out
}
