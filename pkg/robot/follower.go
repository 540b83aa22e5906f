package robot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Follower drives an SO-101 follower arm.
type Follower struct {
	cfg DriverConfig
	log *slog.Logger

	mu  sync.Mutex
	arm *Arm
}

var _ Driver = (*Follower)(nil)

// NewFollower creates an unconnected follower driver.
func NewFollower(cfg DriverConfig, log *slog.Logger) *Follower {
	if log == nil {
		log = slog.Default()
	}
	return &Follower{
		cfg: cfg,
		log: log.With("component", "robot.follower", "port", cfg.Port),
	}
}

func (f *Follower) Name() string {
	return KindSO101Follower + "@" + f.cfg.Port
}

func (f *Follower) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.arm != nil {
		return fmt.Errorf("%s: %w", f.Name(), ErrAlreadyConnected)
	}

	cal, err := f.cfg.ResolveCalibration()
	if err != nil {
		return err
	}
	arm, err := OpenArm(f.cfg.Port, cal)
	if err != nil {
		return err
	}
	if err := arm.Enable(ctx); err != nil {
		arm.Close()
		return fmt.Errorf("enable torque: %w", err)
	}

	f.arm = arm
	f.log.Info("Follower arm connected, torque enabled")
	return nil
}

func (f *Follower) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.arm == nil {
		return fmt.Errorf("%s: %w", f.Name(), ErrNotConnected)
	}

	var errs []error
	if err := f.arm.Disable(ctx); err != nil {
		errs = append(errs, fmt.Errorf("disable torque: %w", err))
	}
	if err := f.arm.Close(); err != nil {
		errs = append(errs, err)
	}
	f.arm = nil
	f.log.Info("Follower arm disconnected")
	return errors.Join(errs...)
}

func (f *Follower) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.arm != nil
}

func (f *Follower) ActionFeatures() []string {
	return MotorKeys()
}

func (f *Follower) GetObservation(ctx context.Context) (Observation, error) {
	arm, err := f.connected()
	if err != nil {
		return nil, err
	}
	positions, err := arm.ReadPositions(ctx)
	if err != nil {
		return nil, err
	}
	return Observation(PositionsToAction(positions)), nil
}

func (f *Follower) SendAction(ctx context.Context, action Action) (Action, error) {
	arm, err := f.connected()
	if err != nil {
		return nil, err
	}

	goal := ActionToPositions(action)
	if f.cfg.MaxRelativeTarget > 0 {
		present, err := arm.ReadPositions(ctx)
		if err != nil {
			return nil, err
		}
		var clamped []MotorName
		goal, clamped = SafeGoal(goal, present, f.cfg.MaxRelativeTarget)
		if len(clamped) > 0 {
			f.log.Warn("Relative goal position clamped", "motors", clamped, "max_relative_target", f.cfg.MaxRelativeTarget)
		}
	}

	if err := arm.WritePositions(ctx, goal); err != nil {
		return nil, err
	}
	return PositionsToAction(goal), nil
}

// Stop commands every motor to hold its present position.
func (f *Follower) Stop(ctx context.Context) error {
	arm, err := f.connected()
	if err != nil {
		return err
	}
	present, err := arm.ReadPositions(ctx)
	if err != nil {
		return err
	}
	return arm.WritePositions(ctx, present)
}

func (f *Follower) connected() (*Arm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.arm == nil {
		return nil, fmt.Errorf("%s: %w", f.Name(), ErrNotConnected)
	}
	return f.arm, nil
}
