// Package robot names the joints reported by the backend and holds the
// client configuration.
package robot

import (
	"github.com/gwillem/lerobot-remote/pkg/keymap"
)

// MotorName identifies a motor in one arm.
type MotorName string

// Motor names for the SO-101 arm.
const (
	ShoulderPan  MotorName = "shoulder_pan"
	ShoulderLift MotorName = "shoulder_lift"
	ElbowFlex    MotorName = "elbow_flex"
	WristFlex    MotorName = "wrist_flex"
	WristRoll    MotorName = "wrist_roll"
	Gripper      MotorName = "gripper"
)

// AllMotors returns all motor names in order (matching servo IDs 1-6).
func AllMotors() []MotorName {
	return []MotorName{
		ShoulderPan,
		ShoulderLift,
		ElbowFlex,
		WristFlex,
		WristRoll,
		Gripper,
	}
}

// Observation keys that do not belong to an arm.
const (
	HeadMotor1 = "head_motor_1.pos"
	HeadMotor2 = "head_motor_2.pos"
	BaseX      = "x.vel"
	BaseY      = "y.vel"
	BaseTheta  = "theta.vel"
)

// JointKey returns the observation key of motor m on arm, e.g.
// "left_arm_shoulder_pan.pos".
func JointKey(arm keymap.Category, m MotorName) string {
	return string(arm) + "_" + string(m) + ".pos"
}

// ArmPositions picks the positions of one arm out of an observation. Motors
// missing from the observation are left out.
func ArmPositions(obs map[string]float64, arm keymap.Category) map[MotorName]float64 {
	out := make(map[MotorName]float64, len(AllMotors()))
	for _, m := range AllMotors() {
		if v, ok := obs[JointKey(arm, m)]; ok {
			out[m] = v
		}
	}
	return out
}

// Arms lists the arm categories in display order.
func Arms() []keymap.Category {
	return []keymap.Category{keymap.LeftArm, keymap.RightArm}
}
