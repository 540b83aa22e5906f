package host

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/lerobot-relay/pkg/metrics"
	"github.com/gwillem/lerobot-relay/pkg/robot"
	"github.com/gwillem/lerobot-relay/pkg/watchdog"
	"github.com/gwillem/lerobot-relay/pkg/wire"
)

type fakeDriver struct {
	mu          sync.Mutex
	connected   bool
	actions     []robot.Action
	stops       int
	disconnects int
	obs         robot.Observation
	obsErr      error
	onObserve   func()
	panicOnSend bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		connected: true,
		obs:       robot.Observation{"shoulder_pan.pos": 1.5},
	}
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Connect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	return nil
}

func (d *fakeDriver) Disconnect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.disconnects++
	return nil
}

func (d *fakeDriver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *fakeDriver) ActionFeatures() []string { return robot.MotorKeys() }

func (d *fakeDriver) GetObservation(context.Context) (robot.Observation, error) {
	if d.onObserve != nil {
		d.onObserve()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.obsErr != nil {
		return nil, d.obsErr
	}
	return d.obs, nil
}

func (d *fakeDriver) SendAction(_ context.Context, action robot.Action) (robot.Action, error) {
	if d.panicOnSend {
		panic("bus exploded")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions = append(d.actions, action)
	return action, nil
}

func (d *fakeDriver) Stop(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return nil
}

func (d *fakeDriver) stopCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

type fakeSource struct {
	msgs   [][]byte
	closed int
}

func (s *fakeSource) push(msg string) { s.msgs = append(s.msgs, []byte(msg)) }

func (s *fakeSource) TryReceive() ([]byte, bool) {
	if len(s.msgs) == 0 {
		return nil, false
	}
	msg := s.msgs[len(s.msgs)-1]
	s.msgs = nil
	return msg, true
}

func (s *fakeSource) Close() error {
	s.closed++
	return nil
}

type fakeSink struct {
	sent    [][]byte
	pending bool
	closed  int
}

func (s *fakeSink) Send(msg []byte) bool {
	s.sent = append(s.sent, msg)
	replaced := s.pending
	s.pending = true
	return replaced
}

func (s *fakeSink) Close() error {
	s.closed++
	return nil
}

type fakeClock struct {
	t       time.Time
	sleeps  []time.Duration
	onSleep func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func (c *fakeClock) sleep(_ context.Context, d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	if c.onSleep != nil {
		c.onSleep()
	}
}

type fixture struct {
	host    *Host
	driver  *fakeDriver
	src     *fakeSource
	sink    *fakeSink
	clock   *fakeClock
	metrics *metrics.Host
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		driver:  newFakeDriver(),
		src:     &fakeSource{},
		sink:    &fakeSink{},
		clock:   newFakeClock(),
		metrics: metrics.NewHost(prometheus.NewRegistry()),
	}
	f.host = newHost(cfg, f.driver, []Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithMetrics(f.metrics),
		WithClock(f.clock.now, f.clock.sleep),
	})
	f.host.cmds = f.src
	f.host.obs = f.sink
	return f
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxLoopFreqHz = 50
	cfg.WatchdogTimeoutMS = 500
	return cfg
}

func TestMalformedCommandStillPushesObservation(t *testing.T) {
	f := newFixture(t, testConfig())
	f.src.push("{not json")

	f.host.step(context.Background(), f.clock.now())

	assert.Empty(t, f.driver.actions)
	assert.Len(t, f.sink.sent, 1, "observation must be pushed in the same iteration")
	assert.Equal(t, watchdog.Idle, f.host.wd.State(), "malformed command must not reset the watchdog")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CommandsMalformed))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.CommandsReceived))
}

func TestCommandFilteredToActionFeatures(t *testing.T) {
	f := newFixture(t, testConfig())
	f.src.push(`{"shoulder_pan.pos": 10, "gripper.pos": -5.5, "bogus": 1}`)

	f.host.step(context.Background(), f.clock.now())

	require.Len(t, f.driver.actions, 1)
	assert.Equal(t, robot.Action{"shoulder_pan.pos": 10.0, "gripper.pos": -5.5}, f.driver.actions[0])
	assert.Equal(t, watchdog.Active, f.host.wd.State())
}

func TestWatchdogStopsOnceAfterClientGoesAway(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectionTimeS = 0.6
	f := newFixture(t, cfg)
	f.src.push(`{"shoulder_pan.pos": 10}`)

	require.NoError(t, f.host.Run(context.Background()))

	assert.Len(t, f.driver.actions, 1)
	assert.Equal(t, 1, f.driver.stopCount())
	assert.Equal(t, watchdog.Stale, f.host.wd.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WatchdogTrips))
}

func TestWatchdogFiresOncePerEpisode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	tick := func(n int) {
		for range n {
			f.clock.advance(20 * time.Millisecond)
			f.host.step(ctx, f.clock.now())
		}
	}

	// never commanded: idle forever
	tick(50)
	assert.Equal(t, 0, f.driver.stopCount())

	f.src.push(`{"elbow_flex.pos": 1}`)
	tick(1)
	tick(24) // 480ms
	assert.Equal(t, 0, f.driver.stopCount())

	tick(100)
	assert.Equal(t, 1, f.driver.stopCount())

	f.src.push(`{"elbow_flex.pos": 2}`)
	tick(1)
	assert.Equal(t, watchdog.Active, f.host.wd.State())
	tick(100)
	assert.Equal(t, 2, f.driver.stopCount())
}

func TestPacing(t *testing.T) {
	tests := []struct {
		name      string
		work      time.Duration
		wantGap   time.Duration
		wantSleep time.Duration
	}{
		{"fast iteration sleeps the rest of the period", 5 * time.Millisecond, 20 * time.Millisecond, 15 * time.Millisecond},
		{"overrun does not sleep", 30 * time.Millisecond, 30 * time.Millisecond, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.ConnectionTimeS = 0.2
			f := newFixture(t, cfg)

			var starts []time.Time
			f.driver.onObserve = func() {
				starts = append(starts, f.clock.now())
				f.clock.advance(tt.work)
			}

			require.NoError(t, f.host.Run(context.Background()))

			require.Greater(t, len(starts), 2)
			for i := 1; i < len(starts); i++ {
				assert.Equal(t, tt.wantGap, starts[i].Sub(starts[i-1]), "gap before iteration %d", i)
			}
			for _, d := range f.clock.sleeps {
				assert.Equal(t, tt.wantSleep, d)
			}
		})
	}
}

func TestOverrunsAreCounted(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectionTimeS = 0.1
	f := newFixture(t, cfg)
	f.driver.onObserve = func() { f.clock.advance(25 * time.Millisecond) }

	require.NoError(t, f.host.Run(context.Background()))
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.LoopOverruns))
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.clock.onSleep = func() {
		if len(f.clock.sleeps) == 3 {
			cancel()
		}
	}

	require.NoError(t, f.host.Run(ctx))
	assert.Len(t, f.sink.sent, 3)
	assert.Equal(t, 1, f.src.closed)
	assert.Equal(t, 1, f.sink.closed)
	assert.Equal(t, 1, f.driver.disconnects)
}

func TestCloseReleasesOnce(t *testing.T) {
	f := newFixture(t, testConfig())

	require.NoError(t, f.host.Close())
	require.NoError(t, f.host.Close())

	assert.Equal(t, 1, f.src.closed)
	assert.Equal(t, 1, f.sink.closed)
	assert.Equal(t, 1, f.driver.disconnects)
}

func TestCloseSkipsDisconnectedDriver(t *testing.T) {
	f := newFixture(t, testConfig())
	f.driver.connected = false

	require.NoError(t, f.host.Close())
	assert.Equal(t, 0, f.driver.disconnects)
}

func TestDriverPanicDoesNotStopLoop(t *testing.T) {
	f := newFixture(t, testConfig())
	f.driver.panicOnSend = true
	f.src.push(`{"wrist_flex.pos": 3}`)

	assert.NotPanics(t, func() {
		f.host.step(context.Background(), f.clock.now())
	})
	assert.Len(t, f.sink.sent, 1)

	f.driver.panicOnSend = false
	f.src.push(`{"wrist_flex.pos": 4}`)
	f.host.step(context.Background(), f.clock.now())
	assert.Len(t, f.driver.actions, 1)
	assert.Len(t, f.sink.sent, 2)
}

func TestObservationErrorIsNotFatal(t *testing.T) {
	f := newFixture(t, testConfig())
	f.driver.obsErr = errors.New("bus timeout")
	f.src.push(`{"wrist_flex.pos": 3}`)

	f.host.step(context.Background(), f.clock.now())

	assert.Len(t, f.driver.actions, 1)
	assert.Empty(t, f.sink.sent)
}

func TestUnserializableObservationFieldIsCoerced(t *testing.T) {
	f := newFixture(t, testConfig())
	f.driver.obs = robot.Observation{
		"shoulder_pan.pos": 12.5,
		"front":            make(chan int),
	}

	f.host.step(context.Background(), f.clock.now())

	require.Len(t, f.sink.sent, 1)
	got, err := wire.Decode(f.sink.sent[0])
	require.NoError(t, err)
	assert.Equal(t, 12.5, got["shoulder_pan.pos"])
	assert.IsType(t, "", got["front"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FieldsCoerced))
}

func TestUnconsumedObservationIsConflated(t *testing.T) {
	f := newFixture(t, testConfig())

	f.host.step(context.Background(), f.clock.now())
	f.host.step(context.Background(), f.clock.now())

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ObservationsSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ObservationsConflated))
}

func TestRemaining(t *testing.T) {
	period := 20 * time.Millisecond
	assert.Equal(t, 15*time.Millisecond, remaining(period, 5*time.Millisecond))
	assert.Equal(t, time.Duration(0), remaining(period, period))
	assert.Equal(t, time.Duration(0), remaining(period, 35*time.Millisecond))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero watchdog", func(c *Config) { c.WatchdogTimeoutMS = 0 }},
		{"zero frequency", func(c *Config) { c.MaxLoopFreqHz = 0 }},
		{"negative connection time", func(c *Config) { c.ConnectionTimeS = -1 }},
		{"port out of range", func(c *Config) { c.PortCmd = 70000 }},
		{"same ports", func(c *Config) { c.PortObservations = c.PortCmd }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigDurations(t *testing.T) {
	cfg := Config{MaxLoopFreqHz: 50, WatchdogTimeoutMS: 500, ConnectionTimeS: 1.5}
	assert.Equal(t, 20*time.Millisecond, cfg.Period())
	assert.Equal(t, 500*time.Millisecond, cfg.WatchdogTimeout())
	assert.Equal(t, 1500*time.Millisecond, cfg.ConnectionTime())
}

func TestNewBindsEphemeralPorts(t *testing.T) {
	cfg := testConfig()
	cfg.BindHost = "127.0.0.1"
	cfg.PortCmd, cfg.PortObservations = 0, 0

	h, err := New(cfg, newFakeDriver(), WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	defer h.Close()

	assert.NotEqual(t, h.CommandAddr(), h.ObservationAddr())
	_, port, err := net.SplitHostPort(h.CommandAddr())
	require.NoError(t, err)
	assert.NotEqual(t, "0", port)
}

func TestNewFailsWhenPortTaken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	_, port, _ := net.SplitHostPort(ln.Addr().String())

	cfg := testConfig()
	cfg.BindHost = "127.0.0.1"
	cfg.PortCmd = 0
	cfg.PortObservations, err = strconv.Atoi(port)
	require.NoError(t, err)

	_, err = New(cfg, newFakeDriver(), WithLogger(slog.New(slog.DiscardHandler)))
	assert.ErrorContains(t, err, "observation endpoint")
}
