package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/gwillem/lerobot-relay/pkg/robot"
	"github.com/gwillem/lerobot-relay/pkg/teleop"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// errAborted is returned when the user leaves a form.
var errAborted = errors.New("setup aborted")

const (
	roleLeader   = "leader"
	roleFollower = "follower"
	roleSkip     = "skip"
)

type SetupCommand struct {
	LeaderPort   string `long:"leader-port" description:"Skip scanning and use this port for the leader"`
	FollowerPort string `long:"follower-port" description:"Skip scanning and use this port for the follower"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("LeRobot Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━"))
	fmt.Println()

	// keep host, logging and metrics settings of an existing file
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	ctx := context.Background()
	leaderPort, followerPort := c.LeaderPort, c.FollowerPort
	if leaderPort == "" || followerPort == "" {
		leaderPort, followerPort, err = identifyArms(ctx, leaderPort, followerPort)
		if err != nil {
			return err
		}
	}

	cfg.Leader = robot.DriverConfig{Kind: teleop.KindSO101Leader, Port: leaderPort}
	cfg.Follower = robot.DriverConfig{Kind: robot.KindSO101Follower, Port: followerPort}

	steps := []struct {
		name string
		arm  *robot.DriverConfig
	}{
		{roleLeader, &cfg.Leader},
		{roleFollower, &cfg.Follower},
	}
	for _, step := range steps {
		fmt.Println()
		fmt.Println(subHeaderStyle.Render(fmt.Sprintf("━━━ Calibrating %s arm ━━━", step.name)))
		fmt.Println()

		cal, err := calibrateArm(ctx, step.arm.Port)
		if err != nil {
			return fmt.Errorf("calibrate %s: %w", step.name, err)
		}
		step.arm.Calibration = cal

		// save after each arm so a later failure keeps the earlier work
		if err := cfg.Save(opts.Config); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Printf("%s arm calibrated.\n", capitalize(step.name))
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Start teleoperation with: " + headerStyle.Render("lerobot teleoperate"))
	fmt.Println("Or serve the follower to a remote client with: " + headerStyle.Render("lerobot host"))

	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// identifyArms scans the serial ports and asks the user which arm is which.
// A port that is already known is not asked about.
func identifyArms(ctx context.Context, leaderPort, followerPort string) (string, string, error) {
	fmt.Println("Scanning for robot arms...")
	fmt.Println()

	arms, err := robot.FindArms(ctx)
	if err != nil {
		return "", "", err
	}
	if len(arms) == 0 {
		return "", "", errors.New("no SO-101 arms found, make sure they are connected and powered on")
	}

	for _, arm := range arms {
		fmt.Printf("  Found SO-101 arm on %s\n", arm.Port)
	}
	fmt.Printf("\nFound %d arm(s). Let's identify them...\n", len(arms))

	for i, arm := range arms {
		// the remaining buses still need closing once both roles are known
		if leaderPort != "" && followerPort != "" {
			for _, rest := range arms[i:] {
				rest.Bus.Close()
			}
			break
		}

		if arm.Port == leaderPort || arm.Port == followerPort {
			arm.Bus.Close()
			continue
		}

		role, err := identifyArm(ctx, arm, leaderPort == "", followerPort == "")
		if err != nil {
			for _, rest := range arms[i+1:] {
				rest.Bus.Close()
			}
			return "", "", err
		}
		switch role {
		case roleLeader:
			leaderPort = arm.Port
		case roleFollower:
			followerPort = arm.Port
		}
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━"))
	if leaderPort == "" || followerPort == "" {
		return "", "", errors.New("both a leader and a follower arm are required")
	}

	fmt.Println(successStyle.Render("Arms identified:"))
	fmt.Printf("  Leader:   %s\n", leaderPort)
	fmt.Printf("  Follower: %s\n", followerPort)
	return leaderPort, followerPort, nil
}

// identifyArm wiggles the shoulder of arm and asks for its role. It closes
// the arm's bus.
func identifyArm(ctx context.Context, arm robot.FoundArm, needLeader, needFollower bool) (string, error) {
	defer arm.Bus.Close()

	servo, ok := arm.Servo(1)
	if !ok {
		return roleSkip, nil
	}
	if err := wiggle(ctx, servo); err != nil {
		fmt.Printf("  Could not wiggle %s: %v\n", arm.Port, err)
	}

	var options []huh.Option[string]
	if needLeader {
		options = append(options, huh.NewOption("Leader (the one you move by hand)", roleLeader))
	}
	if needFollower {
		options = append(options, huh.NewOption("Follower (the one that follows)", roleFollower))
	}
	options = append(options, huh.NewOption("Skip this arm", roleSkip))

	var role string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("Which arm is on %s?", arm.Port)).
				Description("The arm that just wiggled").
				Options(options...).
				Value(&role),
		),
	)
	if err := form.Run(); err != nil {
		return "", errAborted
	}
	return role, nil
}

// wiggle moves a servo gently back and forth and releases it.
func wiggle(ctx context.Context, servo *feetech.Servo) error {
	const (
		amount = 30
		moveMs = 500
	)

	origin, err := servo.Position(ctx)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}
	if err := servo.Enable(ctx); err != nil {
		return fmt.Errorf("enable torque: %w", err)
	}
	defer servo.Disable(ctx)

	for _, target := range []int{origin + amount, origin - amount, origin} {
		if err := servo.SetPositionWithTime(ctx, target, moveMs); err != nil {
			return err
		}
		time.Sleep((moveMs + 100) * time.Millisecond)
	}
	return nil
}

// calibrateArm records the range of motion of every joint while the user
// moves the arm by hand.
func calibrateArm(ctx context.Context, port string) (robot.Calibration, error) {
	fmt.Printf("Calibrating arm on %s\n\n", port)

	arm, err := robot.ProbeArm(ctx, port)
	if err != nil {
		return nil, err
	}
	defer arm.Bus.Close()

	motors := robot.AllMotors()
	servos := make(map[robot.MotorName]*feetech.Servo, len(motors))
	for i, name := range motors {
		servo, ok := arm.Servo(i + 1)
		if !ok {
			return nil, fmt.Errorf("servo %d missing", i+1)
		}
		// free the joint so it can be moved by hand
		_ = servo.Disable(ctx)
		servos[name] = servo
	}

	fmt.Println(subHeaderStyle.Render("Record range of motion"))
	fmt.Println("Move each joint to its minimum AND maximum positions.")
	fmt.Println("Explore the full range of motion for all joints.")
	fmt.Println()

	model := newCalibrationModel(ctx, motors, servos)
	final, err := tea.NewProgram(model).Run()
	if err != nil {
		return nil, fmt.Errorf("run calibration: %w", err)
	}
	cm := final.(calibrationModel)
	if cm.aborted {
		return nil, errAborted
	}

	cal := make(robot.Calibration, len(motors))
	for i, name := range motors {
		cal[name] = robot.MotorCalibration{
			ID:       i + 1,
			RangeMin: cm.ranges[name].min,
			RangeMax: cm.ranges[name].max,
		}
	}
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("%w: move every joint through its range", err)
	}
	return cal, nil
}

type jointRange struct {
	cur, min, max int
	seen          bool
}

func (r *jointRange) observe(pos int) {
	r.cur = pos
	if !r.seen {
		r.min, r.max, r.seen = pos, pos, true
		return
	}
	r.min = min(r.min, pos)
	r.max = max(r.max, pos)
}

// Calibration TUI model
type calibrationModel struct {
	ctx     context.Context
	motors  []robot.MotorName
	servos  map[robot.MotorName]*feetech.Servo
	ranges  map[robot.MotorName]*jointRange
	done    bool
	aborted bool
}

type tickMsg time.Time

func newCalibrationModel(ctx context.Context, motors []robot.MotorName, servos map[robot.MotorName]*feetech.Servo) calibrationModel {
	ranges := make(map[robot.MotorName]*jointRange, len(motors))
	for _, name := range motors {
		ranges[name] = &jointRange{}
	}
	return calibrationModel{
		ctx:    ctx,
		motors: motors,
		servos: servos,
		ranges: ranges,
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m calibrationModel) Init() tea.Cmd {
	return tick()
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			m.done = true
			return m, tea.Quit
		case "q", "ctrl+c":
			m.done, m.aborted = true, true
			return m, tea.Quit
		}

	case tickMsg:
		for _, name := range m.motors {
			pos, err := m.servos[name].Position(m.ctx)
			if err != nil {
				continue
			}
			m.ranges[name].observe(pos)
		}
		return m, tick()
	}

	return m, nil
}

func (m calibrationModel) View() string {
	if m.done {
		return ""
	}

	headerCell := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	motorCell := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	plainCell := lipgloss.NewStyle().Padding(0, 1)
	currentCell := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	goodRangeCell := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	lowRangeCell := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	rows := make([][]string, 0, len(m.motors))
	spans := make([]int, 0, len(m.motors))
	for _, name := range m.motors {
		r := m.ranges[name]
		span := r.max - r.min
		spans = append(spans, span)
		rows = append(rows, []string{
			string(name),
			strconv.Itoa(r.cur),
			strconv.Itoa(r.min),
			strconv.Itoa(r.max),
			strconv.Itoa(span),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Motor", "Current", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCell
			}
			switch col {
			case 0:
				return motorCell
			case 1:
				return currentCell
			case 4:
				if row >= 0 && row < len(spans) && spans[row] > 500 {
					return goodRangeCell
				}
				return lowRangeCell
			default:
				return plainCell
			}
		})

	return t.Render() + "\n\n" + dimStyle.Render("Press Enter when done, q to abort")
}
