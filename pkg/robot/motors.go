// Package robot defines the uniform driver capability shared by local arms,
// composite arms and the network client, plus the SO-101 hardware glue.
package robot

import "strings"

// MotorName identifies a motor in the arm.
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

// posSuffix is appended to a motor name to form its action key.
const posSuffix = ".pos"

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

// Key returns the action/observation key for the motor, e.g. "gripper.pos".
func (m MotorName) Key() string {
	return string(m) + posSuffix
}

// MotorFromKey parses an action key back into a motor name.
// Prefixed keys such as "left_gripper.pos" are not recognized.
func MotorFromKey(key string) (MotorName, bool) {
	name, ok := strings.CutSuffix(key, posSuffix)
	if !ok {
		return "", false
	}
	for _, m := range AllMotors() {
		if string(m) == name {
			return m, true
		}
	}
	return "", false
}

// MotorKeys returns the action keys for all motors in servo order.
func MotorKeys() []string {
	motors := AllMotors()
	keys := make([]string, len(motors))
	for i, m := range motors {
		keys[i] = m.Key()
	}
	return keys
}
