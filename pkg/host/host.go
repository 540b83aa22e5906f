// Package host runs the on-device side of the relay. It applies the newest
// command from the client to a robot driver, stops the robot when commands go
// stale, and streams observations back at a fixed rate.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gwillem/lerobot-relay/pkg/metrics"
	"github.com/gwillem/lerobot-relay/pkg/robot"
	"github.com/gwillem/lerobot-relay/pkg/transport"
	"github.com/gwillem/lerobot-relay/pkg/watchdog"
	"github.com/gwillem/lerobot-relay/pkg/wire"
)

const disconnectTimeout = 5 * time.Second

type commandSource interface {
	TryReceive() ([]byte, bool)
	Close() error
}

type observationSink interface {
	Send(msg []byte) bool
	Close() error
}

// Host owns a connected driver and both relay endpoints.
type Host struct {
	cfg      Config
	driver   robot.Driver
	features []string
	cmds     commandSource
	obs      observationSink
	wd       *watchdog.Watchdog
	log      *slog.Logger
	metrics  *metrics.Host

	now   func() time.Time
	sleep func(context.Context, time.Duration)

	commandAddr     string
	observationAddr string
	gotCommand      bool

	once     sync.Once
	closeErr error
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Host) {
		if log != nil {
			h.log = log
		}
	}
}

// WithMetrics records loop activity into m.
func WithMetrics(m *metrics.Host) Option {
	return func(h *Host) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithClock replaces the wall clock and the pacing sleep.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration)) Option {
	return func(h *Host) {
		h.now = now
		h.sleep = sleep
	}
}

// New binds the command and observation endpoints for driver. The driver
// should already be connected; the host disconnects it on Close.
func New(cfg Config, driver robot.Driver, opts ...Option) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("host config: %w", err)
	}

	h := newHost(cfg, driver, opts)

	cmds, err := transport.BindReceiver(joinHostPort(cfg.BindHost, cfg.PortCmd), transport.WithLogger(h.log))
	if err != nil {
		return nil, fmt.Errorf("command endpoint: %w", err)
	}
	obs, err := transport.BindSender(joinHostPort(cfg.BindHost, cfg.PortObservations), transport.WithLogger(h.log))
	if err != nil {
		_ = cmds.Close()
		return nil, fmt.Errorf("observation endpoint: %w", err)
	}

	h.cmds, h.obs = cmds, obs
	h.commandAddr, h.observationAddr = cmds.Addr(), obs.Addr()
	return h, nil
}

func newHost(cfg Config, driver robot.Driver, opts []Option) *Host {
	h := &Host{
		cfg:      cfg,
		driver:   driver,
		features: driver.ActionFeatures(),
		wd:       watchdog.New(cfg.WatchdogTimeout()),
		log:      slog.Default(),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = metrics.NewHost(prometheus.NewRegistry())
	}
	h.log = h.log.With("component", "host", "driver", driver.Name())
	return h
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// CommandAddr returns the address the command endpoint is bound to.
func (h *Host) CommandAddr() string {
	return h.commandAddr
}

// ObservationAddr returns the address the observation endpoint is bound to.
func (h *Host) ObservationAddr() string {
	return h.observationAddr
}

// Run drives the loop until ctx is done or the configured connection time
// has elapsed. The host is closed when Run returns.
func (h *Host) Run(ctx context.Context) (err error) {
	defer func() {
		err = errors.Join(err, h.Close())
	}()

	period := h.cfg.Period()
	limit := h.cfg.ConnectionTime()
	start := h.now()

	h.log.Info("Host loop started",
		"commands", h.commandAddr,
		"observations", h.observationAddr,
		"freq_hz", h.cfg.MaxLoopFreqHz,
		"watchdog", h.wd.Timeout(),
		"connection_time", limit,
	)

	for {
		if ctx.Err() != nil {
			h.log.Info("Host loop interrupted")
			return nil
		}

		iterStart := h.now()
		if limit > 0 && iterStart.Sub(start) >= limit {
			h.log.Info("Connection time reached", "elapsed", iterStart.Sub(start))
			return nil
		}

		h.step(ctx, iterStart)

		elapsed := h.now().Sub(iterStart)
		h.metrics.ObserveLoop(elapsed, period)
		h.sleep(ctx, remaining(period, elapsed))
	}
}

// remaining is the pacing sleep after an iteration. An overrun is not made
// up later.
func remaining(period, elapsed time.Duration) time.Duration {
	return max(0, period-elapsed)
}

func (h *Host) step(ctx context.Context, now time.Time) {
	h.guard("command", func() error { return h.handleCommand(ctx, now) })
	h.guard("watchdog", func() error { return h.checkWatchdog(ctx) })
	h.guard("observation", func() error { return h.pushObservation(ctx) })
}

// guard runs one phase of an iteration. Failures are logged and the loop
// carries on.
func (h *Host) guard(phase string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Unexpected failure", "phase", phase, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		h.log.Error("Iteration failed", "phase", phase, "error", err)
	}
}

func (h *Host) handleCommand(ctx context.Context, now time.Time) error {
	msg, ok := h.cmds.TryReceive()
	if !ok {
		return nil
	}

	cmd, err := wire.Decode(msg)
	if err != nil {
		h.metrics.CommandsMalformed.Inc()
		h.log.Error("Message parsing failed", "error", err, "size", len(msg))
		return nil
	}
	h.metrics.CommandsReceived.Inc()

	if h.wd.State() == watchdog.Stale {
		h.log.Info("Commands resumed")
	}
	h.wd.Reset(now)
	h.metrics.SetWatchdog(h.wd.State())
	if !h.gotCommand {
		h.gotCommand = true
		h.log.Info("First command received")
	}

	action := robot.FilterAction(robot.Action(cmd), h.features)
	if _, err := h.driver.SendAction(ctx, action); err != nil {
		h.metrics.CommandsFailed.Inc()
		return fmt.Errorf("send action: %w", err)
	}
	return nil
}

func (h *Host) checkWatchdog(ctx context.Context) error {
	if !h.wd.Check(h.now()) {
		return nil
	}

	h.metrics.WatchdogTrips.Inc()
	h.metrics.SetWatchdog(h.wd.State())
	h.log.Warn("Command not received in time, stopping robot",
		"timeout", h.wd.Timeout(),
		"last_command", h.wd.LastCommand().Format(time.RFC3339Nano),
	)
	if err := h.driver.Stop(ctx); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}

func (h *Host) pushObservation(ctx context.Context) error {
	obs, err := h.driver.GetObservation(ctx)
	if err != nil {
		return fmt.Errorf("get observation: %w", err)
	}

	safe, coerced := wire.Serializable(obs)
	if len(coerced) > 0 {
		h.metrics.FieldsCoerced.Add(float64(len(coerced)))
		h.log.Debug("Coerced observation fields to strings", "keys", coerced)
	}

	msg, err := wire.Encode(safe)
	if err != nil {
		return err
	}
	h.metrics.ObservationsSent.Inc()
	if h.obs.Send(msg) {
		h.metrics.ObservationsConflated.Inc()
	}
	return nil
}

// Close releases both endpoints and disconnects the driver. Only the first
// call does any work.
func (h *Host) Close() error {
	h.once.Do(func() {
		var errs []error
		if h.cmds != nil {
			if err := h.cmds.Close(); err != nil {
				errs = append(errs, fmt.Errorf("command endpoint: %w", err))
			}
		}
		if h.obs != nil {
			if err := h.obs.Close(); err != nil {
				errs = append(errs, fmt.Errorf("observation endpoint: %w", err))
			}
		}

		if h.driver.IsConnected() {
			ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
			defer cancel()
			if err := h.driver.Disconnect(ctx); err != nil {
				errs = append(errs, fmt.Errorf("disconnect %s: %w", h.driver.Name(), err))
			}
		}

		h.closeErr = errors.Join(errs...)
		h.log.Info("Host closed")
	})
	return h.closeErr
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
