package host

import (
	"errors"
	"fmt"
	"time"

	"github.com/gwillem/lerobot-relay/pkg/robot"
)

// Defaults for a single-arm host.
const (
	DefaultWatchdogTimeoutMS         = 500
	DefaultBimanualWatchdogTimeoutMS = 1000
	DefaultMaxLoopFreqHz             = 60
)

// Config holds the host loop settings.
type Config struct {
	// BindHost is the interface both endpoints listen on. Empty means all.
	BindHost         string `json:"bind_host,omitempty" yaml:"bind_host,omitempty" toml:"bind_host,omitempty"`
	PortCmd          int    `json:"port_zmq_cmd" yaml:"port_zmq_cmd" toml:"port_zmq_cmd"`
	PortObservations int    `json:"port_zmq_observations" yaml:"port_zmq_observations" toml:"port_zmq_observations"`

	// ConnectionTimeS bounds the total run time. Zero runs until interrupted.
	ConnectionTimeS   float64 `json:"connection_time_s" yaml:"connection_time_s" toml:"connection_time_s"`
	WatchdogTimeoutMS int     `json:"watchdog_timeout_ms" yaml:"watchdog_timeout_ms" toml:"watchdog_timeout_ms"`
	MaxLoopFreqHz     float64 `json:"max_loop_freq_hz" yaml:"max_loop_freq_hz" toml:"max_loop_freq_hz"`
}

// DefaultConfig returns the settings of a single-arm host.
func DefaultConfig() Config {
	return Config{
		PortCmd:           robot.DefaultPortCmd,
		PortObservations:  robot.DefaultPortObservations,
		WatchdogTimeoutMS: DefaultWatchdogTimeoutMS,
		MaxLoopFreqHz:     DefaultMaxLoopFreqHz,
	}
}

// Validate checks the settings. Port 0 picks a free port.
func (c Config) Validate() error {
	var errs []error
	if c.PortCmd < 0 || c.PortCmd > 65535 {
		errs = append(errs, fmt.Errorf("port_zmq_cmd %d out of range", c.PortCmd))
	}
	if c.PortObservations < 0 || c.PortObservations > 65535 {
		errs = append(errs, fmt.Errorf("port_zmq_observations %d out of range", c.PortObservations))
	}
	if c.PortCmd != 0 && c.PortCmd == c.PortObservations {
		errs = append(errs, fmt.Errorf("port_zmq_cmd and port_zmq_observations are both %d", c.PortCmd))
	}
	if c.WatchdogTimeoutMS <= 0 {
		errs = append(errs, errors.New("watchdog_timeout_ms must be positive"))
	}
	if c.MaxLoopFreqHz <= 0 {
		errs = append(errs, errors.New("max_loop_freq_hz must be positive"))
	}
	if c.ConnectionTimeS < 0 {
		errs = append(errs, errors.New("connection_time_s must not be negative"))
	}
	return errors.Join(errs...)
}

// Period is the target duration of one loop iteration.
func (c Config) Period() time.Duration {
	return time.Duration(float64(time.Second) / c.MaxLoopFreqHz)
}

// WatchdogTimeout is the command staleness threshold.
func (c Config) WatchdogTimeout() time.Duration {
	return time.Duration(c.WatchdogTimeoutMS) * time.Millisecond
}

// ConnectionTime is the total run time, or zero for no limit.
func (c Config) ConnectionTime() time.Duration {
	return time.Duration(c.ConnectionTimeS * float64(time.Second))
}
