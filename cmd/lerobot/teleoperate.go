package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/lerobot-relay/pkg/robot"
	"github.com/gwillem/lerobot-relay/pkg/teleop"
)

type TeleoperateCommand struct {
	Hz        int           `long:"hz" default:"60" description:"Control loop frequency"`
	Mirror    bool          `long:"mirror" description:"Mirror mode: invert shoulder_pan and wrist_roll positions"`
	Duration  time.Duration `long:"duration" description:"Stop after this long, e.g. 30s (0 runs until quit)"`
	RemoteIP  string        `long:"remote-ip" description:"Drive the follower through a host at this address"`
	SimLeader bool          `long:"sim-leader" description:"Use a simulated leader that sweeps every joint"`
	NoTUI     bool          `long:"no-tui" description:"Log to the terminal instead of showing the chart"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 3 // legend rows + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Line colors, assigned to action keys in sorted order
var palette = []string{
	"196", "208", "226", "46", "51", "201",
	"203", "215", "229", "120", "123", "213",
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type teleopModel struct {
	ctrl          *teleop.Controller
	follower      string
	chart         *streamlinechart.Model
	keys          []string
	width         int
	height        int
	logs          []string
	lastErr       error
	quitting      bool
	lastPositions map[string]float64
}

func (m *teleopModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// hasMovement checks if any position has changed from the last state
func (m *teleopModel) hasMovement(positions map[string]float64) bool {
	if m.lastPositions == nil {
		return true
	}
	for key, pos := range positions {
		if last, ok := m.lastPositions[key]; !ok || pos != last {
			return true
		}
	}
	return false
}

// trackKeys gives every new key a chart data set with its own color.
func (m *teleopModel) trackKeys(positions map[string]float64) {
	added := false
	for key := range positions {
		if !slices.Contains(m.keys, key) {
			m.keys = append(m.keys, key)
			added = true
		}
	}
	if !added {
		return
	}
	slices.Sort(m.keys)
	for i, key := range m.keys {
		m.chart.SetDataSetStyles(key, runes.ThinLineStyle, keyStyle(i))
	}
}

func keyStyle(i int) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(palette[i%len(palette)]))
}

// Messages from the controller
type stateMsg teleop.State
type logMsg string

func waitForState(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *teleopModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-legendHeight-footerHeight-borderSize, 10)
	return width, height
}

func newTeleopModel(ctrl *teleop.Controller, follower string) teleopModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-robot.NormRange, robot.NormRange),
	)
	return teleopModel{
		ctrl:     ctrl,
		follower: follower,
		chart:    &chart,
	}
}

func (m teleopModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
	)
}

func (m teleopModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chart.Resize(m.chartSize())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case stateMsg:
		state := teleop.State(msg)
		m.lastErr = state.Error
		// freeze the chart while the leader is idle
		if state.Positions != nil && m.hasMovement(state.Positions) {
			m.trackKeys(state.Positions)
			for key, pos := range state.Positions {
				m.chart.PushDataSet(key, pos)
			}
			m.chart.DrawAll()
			m.lastPositions = state.Positions
		}
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)
	}

	return m, nil
}

func (m teleopModel) View() string {
	if m.quitting {
		return "Teleoperation stopped.\n"
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render("LeRobot Teleoperate"))
	sb.WriteString(fmt.Sprintf(" - %d Hz → %s", m.ctrl.Hz(), m.follower))
	if m.lastErr != nil {
		sb.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("  " + m.lastErr.Error()))
	}
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	sb.WriteString(m.renderLegend())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	logLines := statusStyle.Render("Press 'q' to quit")
	if len(m.logs) > 0 {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m teleopModel) renderLegend() string {
	if len(m.keys) == 0 {
		return statusStyle.Render("Waiting for leader...")
	}
	items := make([]string, 0, len(m.keys))
	for i, key := range m.keys {
		item := keyStyle(i).Bold(true).Render("━━") + " " + strings.TrimSuffix(key, ".pos")
		items = append(items, item)
	}
	return strings.Join(items, "  ")
}

func (c *TeleoperateCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.SimLeader || c.RemoteIP != "")
	if err != nil {
		return err
	}

	if c.SimLeader {
		cfg.Leader = robot.DriverConfig{Kind: teleop.KindSimLeader}
	}
	if c.RemoteIP != "" {
		remote := robot.RemoteConfig{RemoteIP: c.RemoteIP}
		if cfg.Follower.Remote != nil {
			remote = *cfg.Follower.Remote
			remote.RemoteIP = c.RemoteIP
		}
		remote.ApplyDefaults()
		cfg.Follower = robot.DriverConfig{Kind: robot.KindClient, Remote: &remote}
	}

	// the chart owns the terminal unless logs go to a file
	if c.NoTUI || cfg.Logging.File != "" {
		closer, err := setupLogging(cfg.Logging)
		if err != nil {
			return err
		}
		defer closer.Close()
	} else {
		slog.SetDefault(slog.New(slog.DiscardHandler))
	}

	leader, err := teleop.NewLeader(cfg.Leader)
	if err != nil {
		return fmt.Errorf("leader: %w", err)
	}
	follower, err := newRegistry(slog.Default()).New(cfg.Follower)
	if err != nil {
		return fmt.Errorf("follower: %w", err)
	}

	ctrl := teleop.NewController(leader, follower, teleop.Config{
		Hz:       c.Hz,
		Mirror:   c.Mirror,
		Duration: c.Duration,
		Display:  !c.NoTUI,
	}, slog.Default())
	defer ctrl.Close(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.NoTUI {
		return ignoreCanceled(ctrl.Start(ctx))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newTeleopModel(ctrl, follower.Name()), tea.WithAltScreen())

	done := make(chan error, 1)
	go func() {
		err := ctrl.Start(ctx)
		p.Quit()
		done <- err
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run TUI: %w", err)
	}
	cancel()
	return ignoreCanceled(<-done)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
