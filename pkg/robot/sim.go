package robot

import (
	"context"
	"fmt"
	"sync"
)

// Sim is an in-memory arm. Joints move toward their targets by at most
// Speed units per observation; a zero speed moves them instantly.
type Sim struct {
	name  string
	speed float64

	mu        sync.Mutex
	connected bool
	positions map[string]float64
	targets   map[string]float64
	stops     int
}

var _ Driver = (*Sim)(nil)

// NewSim creates a simulated SO-101 arm resting at zero.
func NewSim(name string, speed float64) *Sim {
	s := &Sim{
		name:      name,
		speed:     speed,
		positions: make(map[string]float64),
		targets:   make(map[string]float64),
	}
	for _, key := range MotorKeys() {
		s.positions[key] = 0
		s.targets[key] = 0
	}
	return s
}

func (s *Sim) Name() string {
	return KindSim + "@" + s.name
}

func (s *Sim) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return fmt.Errorf("%s: %w", s.Name(), ErrAlreadyConnected)
	}
	s.connected = true
	return nil
}

func (s *Sim) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return fmt.Errorf("%s: %w", s.Name(), ErrNotConnected)
	}
	s.connected = false
	return nil
}

func (s *Sim) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Sim) ActionFeatures() []string {
	return MotorKeys()
}

func (s *Sim) GetObservation(context.Context) (Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, fmt.Errorf("%s: %w", s.Name(), ErrNotConnected)
	}

	obs := make(Observation, len(s.positions))
	for key, pos := range s.positions {
		target := s.targets[key]
		if s.speed > 0 {
			pos += min(max(target-pos, -s.speed), s.speed)
		} else {
			pos = target
		}
		s.positions[key] = pos
		obs[key] = pos
	}
	return obs, nil
}

func (s *Sim) SendAction(_ context.Context, action Action) (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, fmt.Errorf("%s: %w", s.Name(), ErrNotConnected)
	}

	sent := make(Action, len(action))
	for key, v := range action {
		if _, ok := s.targets[key]; !ok {
			continue
		}
		f, ok := Float(v)
		if !ok {
			continue
		}
		f = min(max(f, -NormRange), NormRange)
		s.targets[key] = f
		sent[key] = f
	}
	return sent, nil
}

// Stop freezes every joint at its present position.
func (s *Sim) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return fmt.Errorf("%s: %w", s.Name(), ErrNotConnected)
	}
	for key, pos := range s.positions {
		s.targets[key] = pos
	}
	s.stops++
	return nil
}

// Stops reports how many times Stop has been called.
func (s *Sim) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}
