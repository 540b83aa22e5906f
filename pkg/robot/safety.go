package robot

import "math"

// SafeGoal limits how far each goal may move from the present position.
// Motors without a present reading keep their goal. It returns the capped
// goals and the motors that had to be clamped.
func SafeGoal(goal, present map[MotorName]float64, maxDelta float64) (map[MotorName]float64, []MotorName) {
	safe := make(map[MotorName]float64, len(goal))
	var clamped []MotorName
	for _, name := range AllMotors() {
		target, ok := goal[name]
		if !ok {
			continue
		}
		pos, ok := present[name]
		if !ok {
			safe[name] = target
			continue
		}
		diff := min(max(target-pos, -maxDelta), maxDelta)
		safe[name] = pos + diff
		if math.Abs(safe[name]-target) > 1e-4 {
			clamped = append(clamped, name)
		}
	}
	return safe, clamped
}
