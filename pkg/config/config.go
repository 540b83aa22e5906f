// Package config loads the lerobot configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/gwillem/lerobot-relay/pkg/host"
	"github.com/gwillem/lerobot-relay/pkg/robot"
	"github.com/gwillem/lerobot-relay/pkg/teleop"
)

const DefaultFile = "lerobot.json"

// Config is the whole configuration file.
type Config struct {
	Leader   robot.DriverConfig `json:"leader" yaml:"leader" toml:"leader"`
	Follower robot.DriverConfig `json:"follower" yaml:"follower" toml:"follower"`
	Host     host.Config        `json:"host" yaml:"host" toml:"host"`
	Logging  LoggingConfig      `json:"logging" yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig      `json:"metrics" yaml:"metrics" toml:"metrics"`
}

type LoggingConfig struct {
	Level     string `json:"level,omitempty" yaml:"level,omitempty" toml:"level,omitempty"`
	Format    string `json:"format,omitempty" yaml:"format,omitempty" toml:"format,omitempty"`
	AddSource bool   `json:"add_source,omitempty" yaml:"add_source,omitempty" toml:"add_source,omitempty"`

	// File enables a size-rotated log file instead of stderr.
	File       string `json:"file,omitempty" yaml:"file,omitempty" toml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty" toml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty" toml:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty" toml:"max_age_days,omitempty"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9100".
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty" toml:"addr,omitempty"`
}

// Load reads path, applies defaults and validates the result. The decoder
// is picked by extension: .yaml/.yml, .toml, anything else is JSON.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := decode(path, raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func decode(path string, raw []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(raw, cfg)
	case ".toml":
		return toml.Unmarshal(raw, cfg)
	default:
		return json.Unmarshal(raw, cfg)
	}
}

// Exists reports whether a configuration file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

func (c *Config) applyDefaults() {
	if c.Leader.Kind == "" {
		c.Leader.Kind = teleop.KindSO101Leader
	}
	defaultDriver(&c.Follower)

	if c.Host.PortCmd == 0 {
		c.Host.PortCmd = robot.DefaultPortCmd
	}
	if c.Host.PortObservations == 0 {
		c.Host.PortObservations = robot.DefaultPortObservations
	}
	if c.Host.MaxLoopFreqHz == 0 {
		c.Host.MaxLoopFreqHz = host.DefaultMaxLoopFreqHz
	}
	if c.Host.WatchdogTimeoutMS == 0 {
		c.Host.WatchdogTimeoutMS = host.DefaultWatchdogTimeoutMS
		if c.Follower.Kind == robot.KindBimanual {
			c.Host.WatchdogTimeoutMS = host.DefaultBimanualWatchdogTimeoutMS
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.File != "" && c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 10
	}
}

func defaultDriver(d *robot.DriverConfig) {
	if d.Kind == "" {
		d.Kind = robot.KindSO101Follower
	}
	if d.Remote != nil {
		d.Remote.ApplyDefaults()
	}
	for _, arm := range []*robot.DriverConfig{d.Left, d.Right} {
		if arm != nil {
			defaultDriver(arm)
		}
	}
}

func (c *Config) validate() error {
	if err := validateDriver("follower", c.Follower); err != nil {
		return err
	}
	if err := c.Host.Validate(); err != nil {
		return fmt.Errorf("host: %w", err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	return nil
}

func validateDriver(name string, d robot.DriverConfig) error {
	switch d.Kind {
	case robot.KindClient:
		if d.Remote == nil || d.Remote.RemoteIP == "" {
			return fmt.Errorf("%s: remote.remote_ip is required for kind %s", name, d.Kind)
		}
	case robot.KindBimanual:
		if d.Left == nil || d.Right == nil {
			return fmt.Errorf("%s: left and right are required for kind %s", name, d.Kind)
		}
		return errors.Join(
			validateDriver(name+".left", *d.Left),
			validateDriver(name+".right", *d.Right),
		)
	}
	return nil
}

// Default returns a configuration holding only defaults.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}
