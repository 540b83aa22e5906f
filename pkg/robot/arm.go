package robot

import (
	"context"
	"fmt"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// Serial settings for SO-101 arms.
const (
	BaudRate     = 1_000_000
	ServoCount   = 6
	firstServoID = 1
)

// Arm is a calibrated SO-101 arm on a feetech STS bus.
type Arm struct {
	port        string
	bus         *feetech.Bus
	group       *feetech.ServoGroup
	calibration Calibration
}

// OpenArm opens the serial bus and prepares a servo group from the calibration.
func OpenArm(port string, cal Calibration) (*Arm, error) {
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("arm %s: %w", port, err)
	}

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: BaudRate,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus %s: %w", port, err)
	}

	return &Arm{
		port:        port,
		bus:         bus,
		group:       feetech.NewServoGroupByIDs(bus, cal.MotorIDs()...),
		calibration: cal,
	}, nil
}

// Port returns the serial port the arm is attached to.
func (a *Arm) Port() string {
	return a.port
}

// Close closes the arm's bus connection.
func (a *Arm) Close() error {
	return a.bus.Close()
}

// Enable enables torque on all servos.
func (a *Arm) Enable(ctx context.Context) error {
	return a.group.EnableAll(ctx)
}

// Disable disables torque on all servos, leaving the arm free to move by hand.
func (a *Arm) Disable(ctx context.Context) error {
	return a.group.DisableAll(ctx)
}

// ReadPositions reads current positions from all motors.
// Returns normalized positions in the range [-100, 100].
func (a *Arm) ReadPositions(ctx context.Context) (map[MotorName]float64, error) {
	raw, err := a.group.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}

	positions := make(map[MotorName]float64, len(raw))
	for id, pos := range raw {
		name, cal, ok := a.calibration.ByID(id)
		if !ok {
			continue
		}
		positions[name] = cal.Normalize(pos)
	}
	return positions, nil
}

// WritePositions writes normalized target positions to the listed motors.
func (a *Arm) WritePositions(ctx context.Context, positions map[MotorName]float64) error {
	raw := make(feetech.PositionMap, len(positions))
	for name, norm := range positions {
		cal, ok := a.calibration[name]
		if !ok {
			continue
		}
		raw[cal.ID] = cal.Denormalize(norm)
	}

	if err := a.group.SetPositions(ctx, raw); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}
	return nil
}

// PositionsToAction converts motor positions to an action keyed "<motor>.pos".
func PositionsToAction(positions map[MotorName]float64) Action {
	action := make(Action, len(positions))
	for name, pos := range positions {
		action[name.Key()] = pos
	}
	return action
}

// ActionToPositions extracts motor targets from an action. Keys that are not
// motor keys or values that are not numbers are skipped.
func ActionToPositions(action Action) map[MotorName]float64 {
	positions := make(map[MotorName]float64, len(action))
	for key, v := range action {
		name, ok := MotorFromKey(key)
		if !ok {
			continue
		}
		f, ok := Float(v)
		if !ok {
			continue
		}
		positions[name] = f
	}
	return positions
}
