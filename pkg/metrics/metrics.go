// Package metrics exposes Prometheus instrumentation for the host loop.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gwillem/lerobot-relay/pkg/watchdog"
)

const namespace = "lerobot_host"

// Host holds the host loop's collectors.
type Host struct {
	CommandsReceived      prometheus.Counter
	CommandsMalformed     prometheus.Counter
	CommandsFailed        prometheus.Counter
	WatchdogTrips         prometheus.Counter
	ObservationsSent      prometheus.Counter
	ObservationsConflated prometheus.Counter
	FieldsCoerced         prometheus.Counter
	LoopOverruns          prometheus.Counter
	LoopDuration          prometheus.Histogram
	WatchdogState         prometheus.Gauge
}

// NewHost creates the host collectors and registers them with reg.
func NewHost(reg prometheus.Registerer) *Host {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}

	m := &Host{
		CommandsReceived:      counter("commands_received_total", "Commands decoded from the client."),
		CommandsMalformed:     counter("commands_malformed_total", "Command messages that failed to parse."),
		CommandsFailed:        counter("commands_failed_total", "Commands the driver rejected."),
		WatchdogTrips:         counter("watchdog_trips_total", "Times the command watchdog stopped the robot."),
		ObservationsSent:      counter("observations_sent_total", "Observations queued for the client."),
		ObservationsConflated: counter("observations_conflated_total", "Observations replaced before the client took them."),
		FieldsCoerced:         counter("fields_coerced_total", "Observation fields converted to strings before encoding."),
		LoopOverruns:          counter("loop_overruns_total", "Iterations that took longer than the loop period."),
		LoopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_duration_seconds",
			Help:      "Work time of one loop iteration, excluding the pacing sleep.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		WatchdogState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watchdog_state",
			Help:      "Watchdog state: 0 idle, 1 active, 2 stale.",
		}),
	}

	reg.MustRegister(
		m.CommandsReceived,
		m.CommandsMalformed,
		m.CommandsFailed,
		m.WatchdogTrips,
		m.ObservationsSent,
		m.ObservationsConflated,
		m.FieldsCoerced,
		m.LoopOverruns,
		m.LoopDuration,
		m.WatchdogState,
	)
	return m
}

// ObserveLoop records one iteration's work time against its period.
func (m *Host) ObserveLoop(elapsed, period time.Duration) {
	m.LoopDuration.Observe(elapsed.Seconds())
	if elapsed > period {
		m.LoopOverruns.Inc()
	}
}

// SetWatchdog publishes the watchdog state.
func (m *Host) SetWatchdog(s watchdog.State) {
	m.WatchdogState.Set(float64(s))
}

// Serve exposes g on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info("Serving metrics", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
