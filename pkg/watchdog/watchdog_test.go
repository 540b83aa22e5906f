package watchdog

import (
	"testing"
	"time"
)

func TestIdleNeverFires(t *testing.T) {
	w := New(100 * time.Millisecond)
	start := time.Now()

	for i := range 10 {
		if w.Check(start.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("idle watchdog fired at check %d", i)
		}
	}
	if w.State() != Idle {
		t.Errorf("state = %s, want idle", w.State())
	}
}

func TestFiresOncePerEpisode(t *testing.T) {
	w := New(500 * time.Millisecond)
	t0 := time.Now()
	w.Reset(t0)

	if w.Check(t0.Add(500 * time.Millisecond)) {
		t.Fatal("fired at exactly the timeout")
	}

	fired := 0
	for ms := 501; ms < 3000; ms += 50 {
		if w.Check(t0.Add(time.Duration(ms) * time.Millisecond)) {
			fired++
		}
	}
	if fired != 1 {
		t.Fatalf("fired %d times while stale, want 1", fired)
	}
	if w.State() != Stale {
		t.Errorf("state = %s, want stale", w.State())
	}
}

func TestResetStartsNewEpisode(t *testing.T) {
	w := New(100 * time.Millisecond)
	t0 := time.Now()

	tests := []struct {
		reset bool
		at    time.Duration
		want  bool
		state State
	}{
		{reset: true, at: 0, want: false, state: Active},
		{at: 50 * time.Millisecond, want: false, state: Active},
		{at: 150 * time.Millisecond, want: true, state: Stale},
		{at: 200 * time.Millisecond, want: false, state: Stale},
		{reset: true, at: 250 * time.Millisecond, want: false, state: Active},
		{at: 300 * time.Millisecond, want: false, state: Active},
		{at: 400 * time.Millisecond, want: true, state: Stale},
	}

	for i, tt := range tests {
		now := t0.Add(tt.at)
		if tt.reset {
			w.Reset(now)
		}
		if got := w.Check(now); got != tt.want {
			t.Errorf("step %d: Check() = %v, want %v", i, got, tt.want)
		}
		if w.State() != tt.state {
			t.Errorf("step %d: state = %s, want %s", i, w.State(), tt.state)
		}
	}
}
