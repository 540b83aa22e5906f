// Package teleop drives a follower from a leader device.
package teleop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gwillem/lerobot-relay/pkg/robot"
)

// State is one control step as seen by a display.
type State struct {
	Positions   map[string]float64
	Observation map[string]float64
	Timestamp   time.Time
	Error       error
}

// Config holds configuration for the controller.
type Config struct {
	Hz       int
	Mirror   bool          // Invert shoulder_pan and wrist_roll
	Duration time.Duration // Zero runs until cancelled
	Display  bool          // Read the follower's observation every step
}

// Controller manages the teleoperation control loop.
type Controller struct {
	leader   Leader
	follower robot.Driver
	cfg      Config
	log      *slog.Logger

	mu      sync.Mutex
	running bool
	waiting bool
	stateCh chan State
	logCh   chan string
}

// NewController pairs leader and follower. The follower may be a local
// driver or a client connected to a remote host.
func NewController(leader Leader, follower robot.Driver, cfg Config, log *slog.Logger) *Controller {
	if cfg.Hz <= 0 {
		cfg.Hz = 60
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		leader:   leader,
		follower: follower,
		cfg:      cfg,
		log:      log.With("component", "teleop"),
		stateCh:  make(chan State, 1),
		logCh:    make(chan string, 10),
	}
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Hz returns the control frequency.
func (c *Controller) Hz() int {
	return c.cfg.Hz
}

func (c *Controller) logf(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	c.log.Info(text)
	msg := fmt.Sprintf("[%s] %s", time.Now().Format(time.TimeOnly), text)
	select {
	case c.logCh <- msg:
	default:
	}
}

// Start connects both sides and runs the loop until ctx is done or the
// configured duration has passed. The caller closes the controller.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("already running")
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	if err := c.leader.Connect(ctx); err != nil {
		return fmt.Errorf("connect leader: %w", err)
	}
	c.logf("Leader %s connected", c.leader.Name())

	if !c.follower.IsConnected() {
		if err := c.follower.Connect(ctx); err != nil {
			_ = c.leader.Disconnect(ctx)
			return fmt.Errorf("connect follower: %w", err)
		}
	}
	c.logf("Follower %s connected", c.follower.Name())
	c.logf("Teleoperation started at %d Hz", c.cfg.Hz)

	ticker := time.NewTicker(time.Second / time.Duration(c.cfg.Hz))
	defer ticker.Stop()

	var deadline <-chan time.Time
	if c.cfg.Duration > 0 {
		timer := time.NewTimer(c.cfg.Duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-deadline:
			c.shutdown()
			return nil
		case <-ticker.C:
			c.step(ctx)
		}
	}
}

func (c *Controller) step(ctx context.Context) {
	action, err := c.leader.GetAction(ctx)
	if err != nil {
		c.logf("Read error: %v", err)
		c.sendState(State{Error: err, Timestamp: time.Now()})
		return
	}
	if len(action) == 0 {
		if !c.waiting {
			c.logf("Waiting for leader")
			c.waiting = true
		}
		return
	}
	c.waiting = false

	if c.cfg.Mirror {
		action = Mirror(action)
	}

	if _, err := c.follower.SendAction(ctx, action); err != nil {
		c.logf("Write error: %v", err)
	}

	state := State{
		Positions: floats(action),
		Timestamp: time.Now(),
	}
	if c.cfg.Display {
		if obs, err := c.follower.GetObservation(ctx); err != nil {
			c.logf("Observation error: %v", err)
		} else {
			state.Observation = floats(obs)
		}
	}
	c.sendState(state)
}

// Mirror returns a copy of action with shoulder_pan and wrist_roll negated,
// for a follower facing the operator.
func Mirror(action robot.Action) robot.Action {
	out := make(robot.Action, len(action))
	for key, v := range action {
		f, ok := robot.Float(v)
		if ok && (strings.HasSuffix(key, robot.ShoulderPan.Key()) || strings.HasSuffix(key, robot.WristRoll.Key())) {
			out[key] = -f
			continue
		}
		out[key] = v
	}
	return out
}

func floats[M ~map[string]any](m M) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if f, ok := robot.Float(v); ok {
			out[k] = f
		}
	}
	return out
}

func (c *Controller) sendState(s State) {
	select {
	case c.stateCh <- s:
	default:
		// replace the stale state
		select {
		case <-c.stateCh:
		default:
		}
		select {
		case c.stateCh <- s:
		default:
		}
	}
}

func (c *Controller) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.follower.Stop(ctx); err != nil {
		c.logf("Warning: failed to stop follower: %v", err)
	}
	c.logf("Teleoperation stopped")
}

// Close disconnects the leader and the follower.
func (c *Controller) Close(ctx context.Context) error {
	var errs []error
	if err := c.leader.Disconnect(ctx); err != nil && !errors.Is(err, robot.ErrNotConnected) {
		errs = append(errs, fmt.Errorf("leader: %w", err))
	}
	if c.follower.IsConnected() {
		if err := c.follower.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("follower: %w", err))
		}
	}
	return errors.Join(errs...)
}
