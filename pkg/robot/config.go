package robot

import "time"

// Driver kinds known to the default registry. KindClient is registered by the
// caller because the client package depends on this one.
const (
	KindSO101Follower = "so101_follower"
	KindSim           = "sim"
	KindBimanual      = "bimanual"
	KindClient        = "client"
)

// DriverConfig selects and configures a driver. Kind is the registry tag;
// the other fields are read by the constructor registered for that kind.
type DriverConfig struct {
	Kind        string      `json:"kind" yaml:"kind" toml:"kind"`
	Port        string      `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty"`
	Calibration Calibration `json:"calibration,omitempty" yaml:"calibration,omitempty" toml:"calibration,omitempty"`

	// CalibrationFile is loaded when Calibration is empty.
	CalibrationFile string `json:"calibration_file,omitempty" yaml:"calibration_file,omitempty" toml:"calibration_file,omitempty"`

	// MaxRelativeTarget caps how far a single action may move a joint from its
	// present position (normalized units). Zero disables the cap.
	MaxRelativeTarget float64 `json:"max_relative_target,omitempty" yaml:"max_relative_target,omitempty" toml:"max_relative_target,omitempty"`

	Left  *DriverConfig `json:"left,omitempty" yaml:"left,omitempty" toml:"left,omitempty"`
	Right *DriverConfig `json:"right,omitempty" yaml:"right,omitempty" toml:"right,omitempty"`

	Remote *RemoteConfig `json:"remote,omitempty" yaml:"remote,omitempty" toml:"remote,omitempty"`
}

// IsCalibrated returns true if the arm has calibration data
func (c *DriverConfig) IsCalibrated() bool {
	return len(c.Calibration) > 0 || c.CalibrationFile != ""
}

// ResolveCalibration returns the inline calibration or loads CalibrationFile.
func (c *DriverConfig) ResolveCalibration() (Calibration, error) {
	if len(c.Calibration) > 0 || c.CalibrationFile == "" {
		return c.Calibration, nil
	}
	return LoadCalibration(c.CalibrationFile)
}

// RemoteConfig describes how a client reaches a host.
type RemoteConfig struct {
	RemoteIP         string  `json:"remote_ip" yaml:"remote_ip" toml:"remote_ip"`
	PortCmd          int     `json:"port_zmq_cmd" yaml:"port_zmq_cmd" toml:"port_zmq_cmd"`
	PortObservations int     `json:"port_zmq_observations" yaml:"port_zmq_observations" toml:"port_zmq_observations"`
	PollingTimeoutMS int     `json:"polling_timeout_ms" yaml:"polling_timeout_ms" toml:"polling_timeout_ms"`
	ConnectTimeoutS  float64 `json:"connect_timeout_s" yaml:"connect_timeout_s" toml:"connect_timeout_s"`

	// ActionFeatures optionally declares the remote driver's action keys.
	// Defaults to the SO-101 motor keys.
	ActionFeatures []string `json:"action_features,omitempty" yaml:"action_features,omitempty" toml:"action_features,omitempty"`
}

// Default network settings shared by host and client.
const (
	DefaultPortCmd          = 5555
	DefaultPortObservations = 5556
	DefaultPollingTimeoutMS = 15
	DefaultConnectTimeoutS  = 5
)

// ApplyDefaults fills zero values with the defaults.
func (r *RemoteConfig) ApplyDefaults() {
	if r.PortCmd == 0 {
		r.PortCmd = DefaultPortCmd
	}
	if r.PortObservations == 0 {
		r.PortObservations = DefaultPortObservations
	}
	if r.PollingTimeoutMS == 0 {
		r.PollingTimeoutMS = DefaultPollingTimeoutMS
	}
	if r.ConnectTimeoutS == 0 {
		r.ConnectTimeoutS = DefaultConnectTimeoutS
	}
	if len(r.ActionFeatures) == 0 {
		r.ActionFeatures = MotorKeys()
	}
}

// ConnectTimeout is how long Connect waits for the first observation.
func (r RemoteConfig) ConnectTimeout() time.Duration {
	return time.Duration(r.ConnectTimeoutS * float64(time.Second))
}

// PollingTimeout is how long GetObservation waits for a fresh observation.
func (r RemoteConfig) PollingTimeout() time.Duration {
	return time.Duration(r.PollingTimeoutMS) * time.Millisecond
}
