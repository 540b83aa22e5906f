package robot

import (
	"encoding/json"
	"fmt"
	"os"
)

// Normalized positions span [-NormRange, NormRange].
const NormRange = 100.0

// MotorCalibration holds calibration data for a single motor.
type MotorCalibration struct {
	ID           int `json:"id" yaml:"id" toml:"id"`
	DriveMode    int `json:"drive_mode" yaml:"drive_mode" toml:"drive_mode"`
	HomingOffset int `json:"homing_offset" yaml:"homing_offset" toml:"homing_offset"`
	RangeMin     int `json:"range_min" yaml:"range_min" toml:"range_min"`
	RangeMax     int `json:"range_max" yaml:"range_max" toml:"range_max"`
}

// Calibration holds calibration data for all motors, keyed by motor name.
type Calibration map[MotorName]MotorCalibration

// LoadCalibration loads calibration data from a JSON file.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}

	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("parse calibration JSON: %w", err)
	}
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("calibration %s: %w", path, err)
	}
	return cal, nil
}

// Validate checks that every motor of the arm has a usable range.
func (c Calibration) Validate() error {
	for _, name := range AllMotors() {
		mc, ok := c[name]
		if !ok {
			return fmt.Errorf("missing motor %s", name)
		}
		if mc.RangeMax <= mc.RangeMin {
			return fmt.Errorf("motor %s: range_max %d must exceed range_min %d", name, mc.RangeMax, mc.RangeMin)
		}
	}
	return nil
}

// Normalize converts a raw servo position to a normalized value in the range [-100, 100].
// Positions outside the calibrated range are clamped. Drive mode 1 inverts the axis.
func (c MotorCalibration) Normalize(raw int) float64 {
	rangeSize := float64(c.RangeMax - c.RangeMin)
	if rangeSize == 0 {
		return 0
	}
	raw = min(max(raw, c.RangeMin), c.RangeMax)
	norm := (float64(raw-c.RangeMin)/rangeSize)*2*NormRange - NormRange
	if c.DriveMode == 1 {
		norm = -norm
	}
	return norm
}

// Denormalize converts a normalized value [-100, 100] to a raw servo position.
func (c MotorCalibration) Denormalize(norm float64) int {
	if c.DriveMode == 1 {
		norm = -norm
	}
	norm = min(max(norm, -NormRange), NormRange)
	rangeSize := float64(c.RangeMax - c.RangeMin)
	return int((norm+NormRange)/(2*NormRange)*rangeSize) + c.RangeMin
}

// MotorIDs returns the servo IDs for all motors in the calibration.
func (c Calibration) MotorIDs() []int {
	ids := make([]int, 0, len(c))
	// AllMotors fixes the order
	for _, name := range AllMotors() {
		if mc, ok := c[name]; ok {
			ids = append(ids, mc.ID)
		}
	}
	return ids
}

// ByID returns motor name and calibration for a given servo ID.
func (c Calibration) ByID(id int) (MotorName, MotorCalibration, bool) {
	for name, mc := range c {
		if mc.ID == id {
			return name, mc, true
		}
	}
	return "", MotorCalibration{}, false
}
