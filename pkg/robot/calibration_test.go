package robot

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMotorCalibration_Scaling(t *testing.T) {
	cal := MotorCalibration{RangeMin: 1000, RangeMax: 3000}

	for _, tc := range []struct {
		raw  int
		norm float64
	}{
		{1000, -NormRange},
		{1500, -50},
		{2000, 0},
		{2500, 50},
		{3000, NormRange},
	} {
		if got := cal.Normalize(tc.raw); math.Abs(got-tc.norm) > 0.001 {
			t.Errorf("Normalize(%d) = %f, want %f", tc.raw, got, tc.norm)
		}
		if got := cal.Denormalize(tc.norm); got != tc.raw {
			t.Errorf("Denormalize(%f) = %d, want %d", tc.norm, got, tc.raw)
		}
	}

	// an uneven range loses at most one step
	odd := MotorCalibration{RangeMin: 823, RangeMax: 3540}
	for raw := odd.RangeMin; raw <= odd.RangeMax; raw += 97 {
		if back := odd.Denormalize(odd.Normalize(raw)); back < raw-1 || back > raw+1 {
			t.Errorf("%d scaled back to %d", raw, back)
		}
	}
}

func TestCalibration_MotorIDs(t *testing.T) {
	// map order must not leak into the ID order
	ids := fullCalibration().MotorIDs()
	for i, id := range ids {
		if id != i+1 {
			t.Fatalf("MotorIDs() = %v, want 1..6", ids)
		}
	}
	if len(ids) != len(AllMotors()) {
		t.Fatalf("MotorIDs() = %v, want %d IDs", ids, len(AllMotors()))
	}
}

func TestCalibration_ByID(t *testing.T) {
	cal := Calibration{
		ShoulderPan: MotorCalibration{ID: 1, RangeMin: 100, RangeMax: 200},
		Gripper:     MotorCalibration{ID: 6, RangeMin: 300, RangeMax: 400},
	}

	// Test finding existing ID
	name, mc, ok := cal.ByID(1)
	if !ok {
		t.Fatal("ByID(1) returned false")
	}
	if name != ShoulderPan {
		t.Errorf("ByID(1) returned name %s, want shoulder_pan", name)
	}
	if mc.RangeMin != 100 {
		t.Errorf("ByID(1) returned wrong calibration: %+v", mc)
	}

	// Test non-existing ID
	_, _, ok = cal.ByID(99)
	if ok {
		t.Error("ByID(99) should return false")
	}
}

func TestMotorCalibration_DriveModeInverts(t *testing.T) {
	cal := MotorCalibration{RangeMin: 1000, RangeMax: 3000, DriveMode: 1}

	if got := cal.Normalize(1000); math.Abs(got-100) > 0.001 {
		t.Errorf("Normalize(1000) = %f, want 100", got)
	}
	if got := cal.Denormalize(100); got != 1000 {
		t.Errorf("Denormalize(100) = %d, want 1000", got)
	}
}

func TestMotorCalibration_Clamps(t *testing.T) {
	cal := MotorCalibration{RangeMin: 1000, RangeMax: 3000}

	if got := cal.Normalize(4000); got != 100 {
		t.Errorf("Normalize(4000) = %f, want 100", got)
	}
	if got := cal.Denormalize(-250); got != 1000 {
		t.Errorf("Denormalize(-250) = %d, want 1000", got)
	}
}

func fullCalibration() Calibration {
	cal := make(Calibration)
	for i, name := range AllMotors() {
		cal[name] = MotorCalibration{ID: i + 1, RangeMin: 1000, RangeMax: 3000}
	}
	return cal
}

func TestCalibration_Validate(t *testing.T) {
	if err := fullCalibration().Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	missing := fullCalibration()
	delete(missing, Gripper)
	if err := missing.Validate(); err == nil || !strings.Contains(err.Error(), "gripper") {
		t.Errorf("Validate() on missing gripper = %v", err)
	}

	inverted := fullCalibration()
	inverted[ElbowFlex] = MotorCalibration{ID: 3, RangeMin: 3000, RangeMax: 1000}
	if err := inverted.Validate(); err == nil {
		t.Error("Validate() accepted an empty range")
	}
}

func TestLoadCalibration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "follower.json")

	data := `{
  "shoulder_pan": {"id": 1, "range_min": 700, "range_max": 3400},
  "shoulder_lift": {"id": 2, "range_min": 800, "range_max": 3300},
  "elbow_flex": {"id": 3, "range_min": 900, "range_max": 3100},
  "wrist_flex": {"id": 4, "range_min": 850, "range_max": 3200},
  "wrist_roll": {"id": 5, "range_min": 100, "range_max": 4000},
  "gripper": {"id": 6, "drive_mode": 1, "range_min": 2000, "range_max": 3500}
}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write calibration: %v", err)
	}

	cal, err := LoadCalibration(path)
	if err != nil {
		t.Fatalf("LoadCalibration() = %v", err)
	}
	if cal[Gripper].DriveMode != 1 || cal[Gripper].ID != 6 {
		t.Errorf("gripper calibration = %+v", cal[Gripper])
	}
	if cal[WristRoll].RangeMax != 4000 {
		t.Errorf("wrist_roll range_max = %d, want 4000", cal[WristRoll].RangeMax)
	}
}
