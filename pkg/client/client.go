// Package client presents a remote host as a local robot.Driver. Actions are
// pushed to the host's command endpoint and the newest observation is pulled
// from its observation endpoint.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/gwillem/lerobot-relay/pkg/robot"
	"github.com/gwillem/lerobot-relay/pkg/transport"
	"github.com/gwillem/lerobot-relay/pkg/wire"
)

// ErrConnectionTimeout is returned by Connect when no observation arrives
// from the host within the connect timeout.
var ErrConnectionTimeout = errors.New("connection timeout")

// Client implements robot.Driver over the network.
type Client struct {
	cfg       robot.RemoteConfig
	log       *slog.Logger
	transport []transport.Option

	mu        sync.Mutex
	connected bool
	cmds      *transport.Sender
	obs       *transport.Receiver
	last      robot.Observation
}

var _ robot.Driver = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithTransportOptions passes options to both endpoints.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *Client) {
		c.transport = append(c.transport, opts...)
	}
}

// New returns an unconnected client. Zero settings take their defaults.
func New(cfg robot.RemoteConfig, opts ...Option) *Client {
	cfg.ApplyDefaults()
	c := &Client{
		cfg: cfg,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "client", "remote", cfg.RemoteIP)
	return c
}

func (c *Client) Name() string {
	return robot.KindClient + "@" + c.cfg.RemoteIP
}

// Connect dials both endpoints and waits for the first observation. If none
// arrives within the connect timeout it gives up with ErrConnectionTimeout.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return fmt.Errorf("%s: %w", c.Name(), robot.ErrAlreadyConnected)
	}
	if c.cfg.RemoteIP == "" {
		return errors.New("client: remote_ip is required")
	}

	opts := append([]transport.Option{transport.WithLogger(c.log)}, c.transport...)
	cmds := transport.DialSender(transport.URL(c.cfg.RemoteIP, c.cfg.PortCmd), opts...)
	obs := transport.DialReceiver(transport.URL(c.cfg.RemoteIP, c.cfg.PortObservations), opts...)

	timeout := c.cfg.ConnectTimeout()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := obs.Wait(waitCtx); err != nil {
		_ = cmds.Close()
		_ = obs.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: no observation from %s within %s", ErrConnectionTimeout, c.cfg.RemoteIP, timeout)
	}

	c.cmds, c.obs = cmds, obs
	c.connected = true
	c.last = nil
	c.log.Info("Connected to host",
		"commands", cmds.Addr(),
		"observations", obs.Addr(),
	)
	return nil
}

// Disconnect closes both endpoints. It does nothing when not connected.
func (c *Client) Disconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	err := errors.Join(c.cmds.Close(), c.obs.Close())
	c.cmds, c.obs = nil, nil
	c.connected = false
	c.last = nil
	c.log.Info("Disconnected from host")
	return err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) ActionFeatures() []string {
	return slices.Clone(c.cfg.ActionFeatures)
}

// GetObservation returns the newest observation from the host. If none is
// pending it waits up to the polling timeout and then falls back to the last
// one received.
func (c *Client) GetObservation(ctx context.Context) (robot.Observation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, fmt.Errorf("%s: %w", c.Name(), robot.ErrNotConnected)
	}

	msg, ok := c.obs.TryReceive()
	if !ok && c.cfg.PollingTimeoutMS > 0 {
		pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollingTimeout())
		if c.obs.Wait(pollCtx) == nil {
			msg, ok = c.obs.TryReceive()
		}
		cancel()
	}

	if ok {
		obs, err := wire.Decode(msg)
		if err != nil {
			c.log.Warn("Discarding observation", "error", err)
		} else {
			c.last = obs
		}
	}
	return maps.Clone(c.last), nil
}

// SendAction queues action for the host and returns it unchanged. An action
// that has not been picked up yet is replaced.
func (c *Client) SendAction(_ context.Context, action robot.Action) (robot.Action, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, fmt.Errorf("%s: %w", c.Name(), robot.ErrNotConnected)
	}

	msg, err := wire.Encode(action)
	if err != nil {
		return nil, err
	}
	c.cmds.Send(msg)
	return action, nil
}

// Stop is a no-op; the host's watchdog stops the robot once actions stop
// arriving.
func (c *Client) Stop(context.Context) error {
	return nil
}
