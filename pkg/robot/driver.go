package robot

import (
	"context"
	"maps"
	"slices"
	"strings"
)

// Action maps control axes (e.g. "elbow_flex.pos") to target values.
// The relay does not interpret the keys.
type Action map[string]any

// Observation maps sensor channels to values. Values may be numbers, strings
// or anything else a driver produces; the host coerces what cannot be encoded.
type Observation map[string]any

// Driver is the capability every robot exposes to the relay and to the
// teleoperation loop. The network client implements it too, so callers cannot
// tell a remote host from a local arm.
type Driver interface {
	// Name identifies the driver in logs.
	Name() string

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// ActionFeatures lists the action keys the driver accepts.
	ActionFeatures() []string

	GetObservation(ctx context.Context) (Observation, error)

	// SendAction applies the action and returns what was actually sent.
	SendAction(ctx context.Context, action Action) (Action, error)

	// Stop brings the robot to rest at its present position.
	Stop(ctx context.Context) error
}

// FilterAction returns a copy of action holding only the given keys.
// Unknown keys are dropped silently.
func FilterAction(action Action, features []string) Action {
	out := make(Action, len(features))
	for _, key := range features {
		if v, ok := action[key]; ok {
			out[key] = v
		}
	}
	return out
}

// Float converts a decoded action value to float64.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint8:
		return float64(n), true
	default:
		return 0, false
	}
}

// Left and Right are the key prefixes of a bimanual composition.
const (
	Left  = "left_"
	Right = "right_"
)

// PrefixKeys returns a copy of m with every key prefixed.
func PrefixKeys[M ~map[string]any](m M, prefix string) M {
	out := make(M, len(m))
	for k, v := range m {
		out[prefix+k] = v
	}
	return out
}

// StripPrefix returns the entries of m whose key starts with prefix, with the
// prefix removed.
func StripPrefix[M ~map[string]any](m M, prefix string) M {
	out := make(M)
	for k, v := range m {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			out[rest] = v
		}
	}
	return out
}

// PrefixFeatures returns keys with prefix prepended.
func PrefixFeatures(keys []string, prefix string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = prefix + k
	}
	return out
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys[M ~map[string]V, V any](m M) []string {
	return slices.Sorted(maps.Keys(m))
}
