package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gwillem/lerobot-remote/pkg/keymap"
	"github.com/gwillem/lerobot-remote/pkg/robot"
)

func TestRenderObservation(t *testing.T) {
	out := renderObservation(map[string]float64{
		robot.JointKey(keymap.LeftArm, robot.Gripper):      12.5,
		robot.JointKey(keymap.RightArm, robot.ShoulderPan): -40,
		robot.HeadMotor1: 3,
		robot.BaseX:      0.3,
	})

	assert.Contains(t, out, "12.5")
	assert.Contains(t, out, "-40.0")
	assert.Contains(t, out, "Head:  3.0 / -")
	assert.Contains(t, out, "x=0.3")
	assert.Contains(t, out, "theta=-")
}

func TestDefaultCameraName(t *testing.T) {
	assert.Equal(t, "front", defaultCameraName(0))
	assert.Equal(t, "top", defaultCameraName(2))
	assert.Equal(t, "camera4", defaultCameraName(3))
}

func TestOtherArm(t *testing.T) {
	assert.Equal(t, keymap.RightArm, otherArm(keymap.LeftArm))
	assert.Equal(t, keymap.LeftArm, otherArm(keymap.RightArm))
}
