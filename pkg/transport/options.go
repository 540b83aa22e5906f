package transport

import (
	"log/slog"
	"time"
)

type options struct {
	log          *slog.Logger
	reconnect    time.Duration
	reconnectMax time.Duration
	dialTimeout  time.Duration
	writeTimeout time.Duration
}

func defaultOptions() options {
	return options{
		log:          slog.Default(),
		reconnect:    100 * time.Millisecond,
		reconnectMax: 2 * time.Second,
		dialTimeout:  2 * time.Second,
		writeTimeout: time.Second,
	}
}

// Option configures an endpoint.
type Option func(*options)

// WithLogger sets the logger used for connection events.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithReconnectInterval sets the base delay between dial attempts.
func WithReconnectInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.reconnect = d
		}
	}
}

// WithReconnectMax caps the dial backoff.
func WithReconnectMax(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.reconnectMax = d
		}
	}
}

// WithDialTimeout bounds a single websocket handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.dialTimeout = d
		}
	}
}

// WithWriteTimeout bounds a single message write to the peer.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}
