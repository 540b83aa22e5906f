package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gwillem/lerobot-relay/pkg/host"
	"github.com/gwillem/lerobot-relay/pkg/metrics"
	"github.com/gwillem/lerobot-relay/pkg/robot"
)

type HostCommand struct {
	Port           string  `long:"port" description:"Serial port of the follower arm (overrides the config)"`
	Sim            bool    `long:"sim" description:"Drive a simulated arm instead of hardware"`
	ConnectionTime float64 `long:"connection-time" description:"Exit after this many seconds (0 runs until interrupted)"`
	MetricsAddr    string  `long:"metrics-addr" description:"Serve Prometheus metrics on this address, e.g. :9100"`
}

func (c *HostCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.Sim)
	if err != nil {
		return err
	}

	if c.Sim {
		cfg.Follower = robot.DriverConfig{Kind: robot.KindSim}
	}
	if c.Port != "" {
		cfg.Follower.Port = c.Port
	}
	if c.ConnectionTime > 0 {
		cfg.Host.ConnectionTimeS = c.ConnectionTime
	}
	if c.MetricsAddr != "" {
		cfg.Metrics.Addr = c.MetricsAddr
	}

	closer, err := setupLogging(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()
	log := slog.Default().With("component", "cmd.host")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver, err := newRegistry(slog.Default()).New(cfg.Follower)
	if err != nil {
		return err
	}
	if err := driver.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", driver.Name(), err)
	}
	log.Info("Driver connected", "driver", driver.Name())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	h, err := host.New(cfg.Host, driver,
		host.WithLogger(slog.Default()),
		host.WithMetrics(metrics.NewHost(reg)),
	)
	if err != nil {
		_ = driver.Disconnect(context.Background())
		return err
	}

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, log); err != nil {
				log.Error("Metrics server failed", "error", err)
			}
		}()
	}

	log.Info("Waiting for commands",
		"commands", h.CommandAddr(),
		"observations", h.ObservationAddr(),
	)
	return h.Run(ctx)
}
