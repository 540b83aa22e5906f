package teleop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/gwillem/lerobot-relay/pkg/robot"
)

// Leader kinds.
const (
	KindSO101Leader         = "so101_leader"
	KindBimanualSO101Leader = "bimanual_so101_leader"
	KindSimLeader           = "sim_leader"
)

// Leader is an input device producing actions for a follower.
type Leader interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	ActionFeatures() []string
	GetAction(ctx context.Context) (robot.Action, error)
}

// NewLeader builds the leader described by cfg.
func NewLeader(cfg robot.DriverConfig) (Leader, error) {
	switch cfg.Kind {
	case KindSO101Leader, "":
		if cfg.Port == "" {
			return nil, fmt.Errorf("%s: port is required", KindSO101Leader)
		}
		cal, err := cfg.ResolveCalibration()
		if err != nil {
			return nil, err
		}
		if len(cal) == 0 {
			return nil, fmt.Errorf("leader %s is not calibrated", cfg.Port)
		}
		return NewArmLeader(cfg.Port, cal), nil

	case KindBimanualSO101Leader:
		if cfg.Left == nil || cfg.Right == nil {
			return nil, fmt.Errorf("%s: left and right arms are required", KindBimanualSO101Leader)
		}
		left, err := NewLeader(*cfg.Left)
		if err != nil {
			return nil, fmt.Errorf("left arm: %w", err)
		}
		right, err := NewLeader(*cfg.Right)
		if err != nil {
			return nil, fmt.Errorf("right arm: %w", err)
		}
		return NewBimanualLeader(left, right), nil

	case KindSimLeader:
		return NewSimLeader(50, 4*time.Second), nil

	default:
		return nil, fmt.Errorf("%w: %q", robot.ErrUnknownDriverKind, cfg.Kind)
	}
}

// ArmLeader reads a hand-guided SO-101 arm with torque disabled.
type ArmLeader struct {
	port string
	cal  robot.Calibration
	arm  *robot.Arm
}

func NewArmLeader(port string, cal robot.Calibration) *ArmLeader {
	return &ArmLeader{port: port, cal: cal}
}

func (l *ArmLeader) Name() string {
	return KindSO101Leader + "@" + l.port
}

// Connect opens the bus and releases torque so the arm can be moved by hand.
func (l *ArmLeader) Connect(ctx context.Context) error {
	if l.arm != nil {
		return fmt.Errorf("%s: %w", l.Name(), robot.ErrAlreadyConnected)
	}
	arm, err := robot.OpenArm(l.port, l.cal)
	if err != nil {
		return err
	}
	if err := arm.Disable(ctx); err != nil {
		_ = arm.Close()
		return fmt.Errorf("disable torque: %w", err)
	}
	l.arm = arm
	return nil
}

func (l *ArmLeader) Disconnect(context.Context) error {
	if l.arm == nil {
		return fmt.Errorf("%s: %w", l.Name(), robot.ErrNotConnected)
	}
	err := l.arm.Close()
	l.arm = nil
	return err
}

func (l *ArmLeader) ActionFeatures() []string {
	return robot.MotorKeys()
}

func (l *ArmLeader) GetAction(ctx context.Context) (robot.Action, error) {
	if l.arm == nil {
		return nil, fmt.Errorf("%s: %w", l.Name(), robot.ErrNotConnected)
	}
	positions, err := l.arm.ReadPositions(ctx)
	if err != nil {
		return nil, err
	}
	return robot.PositionsToAction(positions), nil
}

// BimanualLeader pairs two leaders, prefixing keys with left_ and right_.
type BimanualLeader struct {
	left, right Leader
}

func NewBimanualLeader(left, right Leader) *BimanualLeader {
	return &BimanualLeader{left: left, right: right}
}

func (b *BimanualLeader) Name() string {
	return fmt.Sprintf("%s(%s,%s)", KindBimanualSO101Leader, b.left.Name(), b.right.Name())
}

func (b *BimanualLeader) Connect(ctx context.Context) error {
	if err := b.left.Connect(ctx); err != nil {
		return fmt.Errorf("left arm: %w", err)
	}
	if err := b.right.Connect(ctx); err != nil {
		_ = b.left.Disconnect(ctx)
		return fmt.Errorf("right arm: %w", err)
	}
	return nil
}

func (b *BimanualLeader) Disconnect(ctx context.Context) error {
	var errs []error
	if err := b.left.Disconnect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("left arm: %w", err))
	}
	if err := b.right.Disconnect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("right arm: %w", err))
	}
	return errors.Join(errs...)
}

func (b *BimanualLeader) ActionFeatures() []string {
	return slices.Concat(
		robot.PrefixFeatures(b.left.ActionFeatures(), robot.Left),
		robot.PrefixFeatures(b.right.ActionFeatures(), robot.Right),
	)
}

func (b *BimanualLeader) GetAction(ctx context.Context) (robot.Action, error) {
	left, err := b.left.GetAction(ctx)
	if err != nil {
		return nil, fmt.Errorf("left arm: %w", err)
	}
	right, err := b.right.GetAction(ctx)
	if err != nil {
		return nil, fmt.Errorf("right arm: %w", err)
	}

	action := robot.PrefixKeys(left, robot.Left)
	for k, v := range robot.PrefixKeys(right, robot.Right) {
		action[k] = v
	}
	return action, nil
}

// SimLeader sweeps every joint along a sine wave, phase-shifted per joint.
// It stands in for a leader arm when none is attached.
type SimLeader struct {
	amplitude float64
	period    time.Duration
	now       func() time.Time

	mu    sync.Mutex
	start time.Time
	on    bool
}

func NewSimLeader(amplitude float64, period time.Duration) *SimLeader {
	return &SimLeader{amplitude: amplitude, period: period, now: time.Now}
}

func (s *SimLeader) Name() string {
	return KindSimLeader
}

func (s *SimLeader) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.on {
		return fmt.Errorf("%s: %w", s.Name(), robot.ErrAlreadyConnected)
	}
	s.on = true
	s.start = s.now()
	return nil
}

func (s *SimLeader) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.on {
		return fmt.Errorf("%s: %w", s.Name(), robot.ErrNotConnected)
	}
	s.on = false
	return nil
}

func (s *SimLeader) ActionFeatures() []string {
	return robot.MotorKeys()
}

func (s *SimLeader) GetAction(context.Context) (robot.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.on {
		return nil, fmt.Errorf("%s: %w", s.Name(), robot.ErrNotConnected)
	}

	phase := 2 * math.Pi * float64(s.now().Sub(s.start)) / float64(s.period)
	keys := robot.MotorKeys()
	action := make(robot.Action, len(keys))
	for i, key := range keys {
		action[key] = s.amplitude * math.Sin(phase+float64(i)*math.Pi/3)
	}
	return action, nil
}
