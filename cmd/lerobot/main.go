package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/gwillem/lerobot-relay/pkg/client"
	"github.com/gwillem/lerobot-relay/pkg/config"
	"github.com/gwillem/lerobot-relay/pkg/logger"
	"github.com/gwillem/lerobot-relay/pkg/robot"
)

type Options struct {
	Config string `short:"c" long:"config" default:"lerobot.json" description:"Configuration file (.json, .yaml or .toml)"`

	Setup       SetupCommand       `command:"setup" description:"Scan for arms and calibrate them"`
	Teleoperate TeleoperateCommand `command:"teleoperate" alias:"teleop" description:"Start teleoperation (leader-follower control)"`
	Host        HostCommand        `command:"host" description:"Relay commands from a remote client to the follower"`
	Drivers     DriversCommand     `command:"drivers" description:"List available driver and leader kinds"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "LeRobot - SO-101 arm control with a network relay between host and client"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// loadConfig reads the configuration file. With allowMissing a missing file
// yields the defaults.
func loadConfig(allowMissing bool) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if errors.Is(err, os.ErrNotExist) {
		if allowMissing {
			return config.Default(), nil
		}
		return nil, fmt.Errorf("no configuration at %s, run 'lerobot setup' first", opts.Config)
	}
	return cfg, err
}

// setupLogging installs the configured logger as the slog default.
func setupLogging(cfg config.LoggingConfig) (io.Closer, error) {
	log, closer, err := logger.New(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	return closer, nil
}

// newRegistry returns the local drivers plus the network client.
func newRegistry(log *slog.Logger) *robot.Registry {
	reg := robot.DefaultRegistry(log)
	reg.Register(robot.KindClient, func(cfg robot.DriverConfig) (robot.Driver, error) {
		if cfg.Remote == nil {
			return nil, fmt.Errorf("%s: remote is required", robot.KindClient)
		}
		return client.New(*cfg.Remote, client.WithLogger(log)), nil
	})
	return reg
}
