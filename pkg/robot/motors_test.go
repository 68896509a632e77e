package robot

import (
	"testing"

	"github.com/gwillem/lerobot-remote/pkg/keymap"
)

func TestJointKey(t *testing.T) {
	tests := []struct {
		arm      keymap.Category
		motor    MotorName
		expected string
	}{
		{keymap.LeftArm, ShoulderPan, "left_arm_shoulder_pan.pos"},
		{keymap.RightArm, Gripper, "right_arm_gripper.pos"},
		{keymap.LeftArm, WristRoll, "left_arm_wrist_roll.pos"},
	}

	for _, tt := range tests {
		if got := JointKey(tt.arm, tt.motor); got != tt.expected {
			t.Errorf("JointKey(%s, %s) = %q, want %q", tt.arm, tt.motor, got, tt.expected)
		}
	}
}

func TestArmPositions(t *testing.T) {
	obs := map[string]float64{
		"left_arm_shoulder_pan.pos":  12.5,
		"left_arm_gripper.pos":       -3,
		"right_arm_shoulder_pan.pos": 99,
		BaseX:                        0.1,
	}

	got := ArmPositions(obs, keymap.LeftArm)
	if len(got) != 2 {
		t.Fatalf("got %d motors, want 2: %v", len(got), got)
	}
	if got[ShoulderPan] != 12.5 || got[Gripper] != -3 {
		t.Errorf("unexpected positions: %v", got)
	}
	if _, ok := got[ElbowFlex]; ok {
		t.Error("missing motors must be left out")
	}
}
