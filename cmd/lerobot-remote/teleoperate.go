package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/lerobot-remote/internal/logbox"
	"github.com/gwillem/lerobot-remote/pkg/api"
	"github.com/gwillem/lerobot-remote/pkg/channel"
	"github.com/gwillem/lerobot-remote/pkg/input"
	"github.com/gwillem/lerobot-remote/pkg/keymap"
	"github.com/gwillem/lerobot-remote/pkg/observation"
	"github.com/gwillem/lerobot-remote/pkg/robot"
	"github.com/gwillem/lerobot-remote/pkg/session"
)

type TeleoperateCommand struct {
	Mode      string `long:"mode" choice:"keyboard" choice:"gamepad" description:"Control mode (overrides config)"`
	Profile   string `long:"profile" description:"Keymap profile to use"`
	NoCameras bool   `long:"no-cameras" description:"Do not open the camera stream"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	cameraHeight = 2 // camera row + input row
	footerHeight = 7 // log box height
	helpHeight   = 1
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border

	releaseTick  = 50 * time.Millisecond
	startTimeout = 10 * time.Second
	staleFrame   = 2 * time.Second
)

// Motor colors - distinct colors for each motor
var motorColors = map[robot.MotorName]string{
	robot.ShoulderPan:  "196", // red
	robot.ShoulderLift: "208", // orange
	robot.ElbowFlex:    "226", // yellow
	robot.WristFlex:    "46",  // green
	robot.WristRoll:    "51",  // cyan
	robot.Gripper:      "201", // magenta
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	activeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	idleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

type teleopModel struct {
	ctrl    *session.Controller
	client  *api.Client
	log     *slog.Logger
	hold    *input.HoldDetector
	frames  *observation.Frames
	cameras *observation.CameraStream // nil without cameras
	camList []string

	statusCh <-chan struct{}
	padCh    <-chan input.Snapshot
	lines    <-chan string

	chart         *streamlinechart.Model
	arm           keymap.Category // arm shown in the chart
	lastPositions map[robot.MotorName]float64

	status   session.Status
	step     api.StepLevel
	pad      input.Snapshot
	showKeys bool
	width    int // terminal width
	height   int // terminal height
	logs     []string
	quitting bool
}

// Messages from the session and its collaborators
type (
	statusMsg   struct{}
	snapshotMsg struct{ snap *observation.Snapshot }
	framesMsg   struct{}
	padMsg      input.Snapshot
	logMsg      string
	tickMsg     time.Time
	startedMsg  struct{ err error }
	resultMsg   struct {
		what string
		step api.StepLevel
		res  *api.Result
		err  error
	}
)

func waitForStatus(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return statusMsg{}
	}
}

func waitForSnapshot(store *observation.Store) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg{<-store.Updates()}
	}
}

func waitForFrames(frames *observation.Frames) tea.Cmd {
	return func() tea.Msg {
		<-frames.Updates()
		return framesMsg{}
	}
}

func waitForPad(ch <-chan input.Snapshot) tea.Cmd {
	return func() tea.Msg {
		return padMsg(<-ch)
	}
}

func waitForLog(lines <-chan string) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-lines)
	}
}

func tick() tea.Cmd {
	return tea.Tick(releaseTick, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *teleopModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// hasMovement checks if any motor position has changed from the last state
func (m *teleopModel) hasMovement(positions map[robot.MotorName]float64) bool {
	if m.lastPositions == nil {
		return true // first reading, consider it movement
	}
	for name, pos := range positions {
		if lastPos, ok := m.lastPositions[name]; !ok || pos != lastPos {
			return true
		}
	}
	return false
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *teleopModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - cameraHeight - footerHeight - helpHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m *teleopModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func newJointChart(w, h int) *streamlinechart.Model {
	chart := streamlinechart.New(w, h,
		streamlinechart.WithYRange(-100, 100),
	)

	// Set up data set styles for each motor
	for _, name := range robot.AllMotors() {
		color := motorColors[name]
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		chart.SetDataSetStyles(string(name), runes.ThinLineStyle, style)
	}
	return &chart
}

func (m teleopModel) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.start(),
		waitForStatus(m.statusCh),
		waitForSnapshot(m.ctrl.Observations()),
		waitForPad(m.padCh),
		waitForLog(m.lines),
		tick(),
	}
	if m.cameras != nil {
		cmds = append(cmds, waitForFrames(m.frames))
	}
	return tea.Batch(cmds...)
}

// start opens a session. Reconnecting after a drop is always user initiated.
func (m teleopModel) start() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()
		return startedMsg{err: ctrl.Start(ctx)}
	}
}

// call runs a backend request off the UI goroutine.
func (m teleopModel) call(what string, fn func(ctx context.Context) (*api.Result, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), api.DefaultTimeout)
		defer cancel()
		res, err := fn(ctx)
		return resultMsg{what: what, res: res, err: err}
	}
}

func (m teleopModel) setStep(level api.StepLevel) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), api.DefaultTimeout)
		defer cancel()
		res, err := client.SetStepLevel(ctx, api.ArmBoth, level)
		return resultMsg{what: "step level " + string(level), step: level, res: res, err: err}
	}
}

func (m teleopModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.BlurMsg:
		// No key-up events will arrive while unfocused.
		m.hold.Clear()
		if n := m.ctrl.ReleaseAll(); n > 0 {
			m.log.Info("focus lost, released keys", "count", n)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		for _, key := range m.hold.Expired(time.Time(msg)) {
			m.ctrl.KeyUp(key)
		}
		return m, tick()

	case startedMsg:
		m.status = m.ctrl.Status()
		if msg.err != nil {
			m.log.Error("could not start session", "err", msg.err)
			return m, nil
		}
		return m, m.setStep(m.step)

	case statusMsg:
		prev := m.status.State
		m.status = m.ctrl.Status()
		if prev == session.Active && m.status.State == session.Idle {
			m.hold.Clear()
		}
		return m, waitForStatus(m.statusCh)

	case snapshotMsg:
		positions := robot.ArmPositions(msg.snap.Values, m.arm)
		// Only update chart if there's movement (freeze when idle)
		if len(positions) > 0 && m.hasMovement(positions) {
			for name, pos := range positions {
				m.chart.PushDataSet(string(name), pos)
			}
			m.chart.DrawAll()
			m.lastPositions = positions
		}
		return m, waitForSnapshot(m.ctrl.Observations())

	case framesMsg:
		return m, waitForFrames(m.frames)

	case padMsg:
		m.pad = input.Snapshot(msg)
		return m, waitForPad(m.padCh)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.lines)

	case resultMsg:
		if msg.err != nil {
			m.log.Error(msg.what+" failed", "err", msg.err)
			return m, nil
		}
		if msg.step != "" {
			m.step = msg.step
		}
		m.log.Info(msg.what, "result", api.FormatResult(msg.res))
		return m, nil
	}

	return m, nil
}

func (m teleopModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	client := m.client
	switch msg.String() {
	case "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	case "tab":
		next := session.ModeGamepad
		if m.ctrl.Mode() == session.ModeGamepad {
			next = session.ModeKeyboard
		}
		m.hold.Clear()
		if err := m.ctrl.SetMode(next); err != nil {
			m.log.Error("switch mode", "err", err)
		}
		m.status = m.ctrl.Status()
		return m, nil
	case "f1":
		return m, m.setStep(api.StepSlow)
	case "f2":
		return m, m.setStep(api.StepNormal)
	case "f3":
		return m, m.setStep(api.StepFast)
	case "ctrl+z":
		return m, m.call("zero", func(ctx context.Context) (*api.Result, error) {
			return client.MoveToZero(ctx, api.ArmBoth)
		})
	case "ctrl+r":
		return m, m.call("move to reset", func(ctx context.Context) (*api.Result, error) {
			return client.MoveToReset(ctx, api.ArmBoth)
		})
	case "ctrl+e":
		return m, m.call("record reset position", func(ctx context.Context) (*api.Result, error) {
			return client.RecordResetPosition(ctx, api.ArmBoth)
		})
	case "ctrl+b":
		return m, m.call("stop base", client.StopBase)
	case "ctrl+t":
		m.arm = otherArm(m.arm)
		w, h := m.chartSize()
		m.chart = newJointChart(w, h)
		m.lastPositions = nil
		return m, nil
	case "ctrl+k":
		m.showKeys = !m.showKeys
		return m, nil
	case "enter":
		if m.status.State == session.Idle {
			return m, m.start()
		}
	}

	if sym, ok := keySymbol(msg); ok {
		m.hold.Press(sym, time.Now())
		m.ctrl.KeyDown(sym)
	}
	return m, nil
}

func otherArm(arm keymap.Category) keymap.Category {
	if arm == keymap.LeftArm {
		return keymap.RightArm
	}
	return keymap.LeftArm
}

func (m teleopModel) View() string {
	if m.quitting {
		return "Teleoperation stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("LeRobot Remote"))
	sb.WriteString(" ")
	sb.WriteString(m.renderState())
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	// Chart or key table
	if m.showKeys {
		pressed := make(map[string]bool)
		for _, k := range m.ctrl.Pressed() {
			pressed[k] = true
		}
		sb.WriteString(renderKeymap(m.ctrl.Keymap(), pressed))
	} else {
		sb.WriteString(chartStyle.Render(m.chart.View()))
	}
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend(m.arm))
	sb.WriteString("\n")

	sb.WriteString(m.renderCameras())
	sb.WriteString("\n")
	sb.WriteString(m.renderInput())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Waiting for events")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	help := "esc quit · tab mode · F1-F3 step · ^z zero · ^r reset · ^e record reset · ^b stop base · ^t arm · ^k keys"
	if m.status.State == session.Idle {
		help = "enter connect · " + help
	}
	sb.WriteString(statusStyle.Render(help))
	return sb.String()
}

func (m teleopModel) renderState() string {
	st := m.status
	var parts []string
	if st.State == session.Active {
		parts = append(parts, activeStyle.Render("● active"))
	} else {
		label := "● idle"
		if st.Reason != "" {
			label += " (" + st.Reason + ")"
		}
		parts = append(parts, idleStyle.Render(label))
	}
	parts = append(parts,
		string(m.ctrl.Mode()),
		"teleop:"+st.Channel.String(),
		"step:"+string(m.step),
	)
	if st.Session != "" {
		parts = append(parts, statusStyle.Render("session "+shortID(st.Session)))
	}
	return strings.Join(parts, "  ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func renderLegend(arm keymap.Category) string {
	items := []string{statusStyle.Render(string(arm) + ":")}
	for _, name := range robot.AllMotors() {
		color := motorColors[name]
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true)
		item := colorStyle.Render("━━") + " " + string(name)
		items = append(items, item)
	}
	return strings.Join(items, "  ")
}

func (m teleopModel) renderCameras() string {
	if m.cameras == nil {
		return statusStyle.Render("Cameras: none")
	}
	items := []string{"Cameras " + statusStyle.Render("("+m.cameras.Channel().State().String()+")") + ":"}
	now := time.Now()
	for _, name := range m.camList {
		fr, ok := m.frames.Get(name)
		switch {
		case !ok:
			items = append(items, idleStyle.Render(name+" offline"))
		case now.Sub(fr.At) > staleFrame:
			items = append(items, idleStyle.Render(fmt.Sprintf("%s stale %.0fs", name, now.Sub(fr.At).Seconds())))
		default:
			items = append(items, activeStyle.Render(name)+fmt.Sprintf(" %dx%d %dKB", fr.Width, fr.Height, len(fr.Data)/1024))
		}
	}
	return strings.Join(items, "  ")
}

func (m teleopModel) renderInput() string {
	if m.ctrl.Mode() == session.ModeGamepad {
		axis := func(i int) float64 {
			if i < len(m.pad.Axes) {
				return m.pad.Axes[i]
			}
			return 0
		}
		var names []string
		for _, a := range input.GamepadActions(m.pad) {
			names = append(names, a.String())
		}
		return fmt.Sprintf("Gamepad: L(%+.2f,%+.2f) R(%+.2f,%+.2f) %s",
			axis(input.AxisLeftX), axis(input.AxisLeftY),
			axis(input.AxisRightX), axis(input.AxisRightY),
			strings.Join(names, " "))
	}
	pressed := m.ctrl.Pressed()
	if len(pressed) == 0 {
		return statusStyle.Render("Keys: none held")
	}
	for i, k := range pressed {
		pressed[i] = displayKey(k)
	}
	return "Keys: " + strings.Join(pressed, " ")
}

func (c *TeleoperateCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if c.Mode != "" {
		cfg.Mode = c.Mode
	}
	mode, err := session.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}
	step, err := api.ParseStepLevel(cfg.StepLevel)
	if err != nil {
		step = api.StepNormal
	}

	// The TUI owns the terminal; logs go to the on-screen log box.
	box := logbox.New(256, logLevel(cfg))
	logger := slog.New(box)
	prev := slog.Default()
	slog.SetDefault(logger)
	defer slog.SetDefault(prev)

	client := newClient(cfg, logger)

	store := keymap.NewStore(keymapPath(cfg), logger)
	if _, err := store.Load(); err != nil {
		return fmt.Errorf("load keymap profiles: %w", err)
	}
	if c.Profile != "" {
		if err := store.Apply(func(p *keymap.Profiles) error { return p.Switch(c.Profile) }); err != nil {
			return err
		}
	}
	km, err := store.Keymap()
	if err != nil {
		return err
	}
	if err := km.Validate(); err != nil {
		return fmt.Errorf("profile %s: %w", store.Profiles().CurrentProfile, err)
	}

	padCh := make(chan input.Snapshot, 1)
	ctrl, err := session.New(session.Config{
		URL:             cfg.TeleopSocket(),
		Mode:            mode,
		Keymap:          km,
		Backend:         client,
		Heartbeat:       cfg.Heartbeat(),
		ObservationRate: cfg.ObservationHz,
		Gamepad: session.GamepadConfig{
			Interval: cfg.GamepadPoll(),
			OnSnapshot: func(s input.Snapshot) {
				select {
				case padCh <- s:
				default:
				}
			},
			Logger: logger,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	statusCh := make(chan struct{}, 1)
	unsubscribe := ctrl.Subscribe(func(session.Status) {
		select {
		case statusCh <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	store.OnChange(func(p *keymap.Profiles) {
		km, err := p.Keymap()
		if err == nil {
			err = km.Validate()
		}
		if err != nil {
			logger.Warn("ignoring keymap change", "profile", p.CurrentProfile, "err", err)
			return
		}
		ctrl.SetKeymap(km)
	})
	if err := store.Watch(); err != nil {
		logger.Warn("keymap hot reload disabled", "err", err)
	}
	defer store.Close()

	frames := observation.NewFrames()
	var cameras *observation.CameraStream
	if !c.NoCameras && len(cfg.Cameras) > 0 {
		cameras = observation.NewCameraStream(cfg.CameraSocket(), cfg.CameraNames(), frames, channel.Options{
			ReconnectDelay: cfg.CameraReconnect(),
			Logger:         logger,
		})
		if err := cameras.Start(context.Background()); err != nil {
			logger.Warn("camera stream unavailable, retrying", "err", err)
		}
		defer cameras.Close()
	}

	w, h := 80, 20
	model := teleopModel{
		ctrl:     ctrl,
		client:   client,
		log:      logger,
		hold:     input.NewHoldDetector(cfg.ReleaseTimeout()),
		frames:   frames,
		cameras:  cameras,
		camList:  cfg.CameraNames(),
		statusCh: statusCh,
		padCh:    padCh,
		lines:    box.Lines(),
		chart:    newJointChart(w, h),
		arm:      keymap.LeftArm,
		status:   ctrl.Status(),
		step:     step,
	}

	// Run TUI
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithReportFocus())
	_, runErr := p.Run()

	if err := ctrl.Stop(); err != nil && !errors.Is(err, session.ErrIdle) {
		return err
	}
	ctrl.Wait()
	if runErr != nil {
		return fmt.Errorf("run teleoperation: %w", runErr)
	}
	return nil
}
