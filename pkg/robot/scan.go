package robot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"
)

// FoundArm is an SO-101 arm discovered on a serial port. The caller owns Bus
// and must close it.
type FoundArm struct {
	Port   string
	Servos []feetech.FoundServo
	Bus    *feetech.Bus
}

// Servo returns a handle on the servo with the given ID.
func (f FoundArm) Servo(id int) (*feetech.Servo, bool) {
	for _, s := range f.Servos {
		if s.ID == id {
			return feetech.NewServo(f.Bus, s.ID, s.Model), true
		}
	}
	return nil, false
}

// FindArms probes every serial port for an SO-101 arm.
func FindArms(ctx context.Context) ([]FoundArm, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}

	var arms []FoundArm
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		arm, err := ProbeArm(ctx, port)
		if err != nil {
			continue
		}
		arms = append(arms, arm)
	}
	return arms, nil
}

// ProbeArm opens port and checks that servos 1-6 answer.
func ProbeArm(ctx context.Context, port string) (FoundArm, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: BaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return FoundArm{}, err
	}

	servos, err := bus.Scan(ctx, firstServoID, ServoCount)
	if err != nil {
		bus.Close()
		return FoundArm{}, err
	}
	if !isSOArm(servos) {
		bus.Close()
		return FoundArm{}, fmt.Errorf("%s: not an SO-101 arm (expected servos 1-%d)", port, ServoCount)
	}
	return FoundArm{Port: port, Servos: servos, Bus: bus}, nil
}

func isSOArm(servos []feetech.FoundServo) bool {
	if len(servos) != ServoCount {
		return false
	}
	ids := make(map[int]bool, len(servos))
	for _, s := range servos {
		ids[s.ID] = true
	}
	for id := firstServoID; id <= ServoCount; id++ {
		if !ids[id] {
			return false
		}
	}
	return true
}
