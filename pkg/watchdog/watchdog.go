// Package watchdog tracks command staleness for the host loop.
package watchdog

import "time"

// State is the watchdog state.
type State int

const (
	// Idle means no command has been received yet. An idle watchdog never fires.
	Idle State = iota
	// Active means commands are arriving within the timeout.
	Active
	// Stale means the last command is older than the timeout.
	Stale
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Watchdog is not safe for concurrent use; the host loop owns it.
type Watchdog struct {
	timeout time.Duration
	last    time.Time
	state   State
}

// New returns an idle watchdog firing after timeout without commands.
func New(timeout time.Duration) *Watchdog {
	return &Watchdog{timeout: timeout}
}

// Reset records a command received at now and makes the watchdog active.
func (w *Watchdog) Reset(now time.Time) {
	w.last = now
	w.state = Active
}

// Check reports true exactly once per staleness episode: on the call that
// moves the watchdog from active to stale.
func (w *Watchdog) Check(now time.Time) bool {
	if w.state != Active {
		return false
	}
	if now.Sub(w.last) <= w.timeout {
		return false
	}
	w.state = Stale
	return true
}

// State returns the current state.
func (w *Watchdog) State() State {
	return w.state
}

// Timeout returns the configured staleness threshold.
func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// LastCommand returns when the last command was received.
func (w *Watchdog) LastCommand() time.Time {
	return w.last
}
