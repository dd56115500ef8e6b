package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap/zapcore"
	"go.viam.com/rdk/logging"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	scara "scara_arm"
)

type MonitorCommand struct {
	CommandPort string        `long:"command-port" description:"Command channel serial port (default: from config)"`
	NoIdle      bool          `long:"no-idle" description:"Disable the idle cleanup watchdog"`
	Interval    time.Duration `long:"interval" default:"200ms" description:"Status poll interval"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

type series struct {
	name  string
	color string
	value func(scara.ArmState) float64
}

var allSeries = []series{
	{"θ1", "196", func(s scara.ArmState) float64 { return s.Theta1 }},
	{"θ2", "208", func(s scara.ArmState) float64 { return s.Theta2 }},
	{"z", "46", func(s scara.ArmState) float64 { return s.Z }},
	{"gripper", "201", func(s scara.ArmState) float64 { return s.Gripper }},
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	busyStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208"))
	idleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
)

// tuiAppender hands formatted log entries to the TUI instead of stdout.
type tuiAppender struct {
	logs chan string
}

func (a *tuiAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(entry.Time.Format("15:04:05"))
	sb.WriteString(" ")
	sb.WriteString(strings.ToUpper(entry.Level.String()))
	sb.WriteString(" ")
	sb.WriteString(entry.Message)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, enc.Fields[k])
	}

	// never block the logger on a slow TUI
	select {
	case a.logs <- sb.String():
	default:
	}
	return nil
}

func (a *tuiAppender) Sync() error { return nil }

type monitorModel struct {
	ctx        context.Context
	dispatcher *scara.Dispatcher
	logs       <-chan string
	interval   time.Duration

	chart    *streamlinechart.Model
	width    int
	height   int
	lines    []string // last N log messages
	status   scara.Status
	lastArm  *scara.ArmState
	quitting bool
}

type statusMsg scara.Status
type logMsg string

func pollStatus(d *scara.Dispatcher, every time.Duration) tea.Cmd {
	return tea.Tick(every, func(time.Time) tea.Msg {
		return statusMsg(d.Status())
	})
}

func waitForLog(logs <-chan string) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-logs)
	}
}

func (m *monitorModel) addLog(msg string) {
	m.lines = append(m.lines, msg)
	if len(m.lines) > maxLogs {
		m.lines = m.lines[len(m.lines)-maxLogs:]
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *monitorModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func initialMonitorModel(ctx context.Context, d *scara.Dispatcher, logs <-chan string, interval time.Duration) monitorModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-180, 180),
	)
	for _, s := range allSeries {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(s.color))
		chart.SetDataSetStyles(s.name, runes.ThinLineStyle, style)
	}

	return monitorModel{
		ctx:        ctx,
		dispatcher: d,
		logs:       logs,
		interval:   interval,
		chart:      &chart,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		pollStatus(m.dispatcher, m.interval),
		waitForLog(m.logs),
	)
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chart.Resize(m.chartSize())
		return m, nil

	case tea.KeyMsg:
		switch key := msg.String(); key {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "a", "b", "c", "d", "e", "f":
			m.dispatcher.Submit(m.ctx, scara.Request{Code: key, Source: "monitor"})
		}

	case statusMsg:
		m.status = scara.Status(msg)
		arm := m.status.Arm
		// freeze the chart while the arm is still
		if m.lastArm == nil || *m.lastArm != arm {
			for _, s := range allSeries {
				m.chart.PushDataSet(s.name, s.value(arm))
			}
			m.chart.DrawAll()
			m.lastArm = &arm
		}
		return m, pollStatus(m.dispatcher, m.interval)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.logs)
	}

	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Monitor stopped.\n"
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render("SCARA Monitor"))
	if m.status.State == scara.StateBusy {
		sb.WriteString(busyStyle.Render(fmt.Sprintf("  busy: %s (%s)", m.status.Code, elapsed(m.status.BusySince))))
	} else {
		sb.WriteString(idleStyle.Render("  idle"))
	}
	if !m.status.Connected {
		sb.WriteString(statusStyle.Render("  [not connected]"))
	}
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 4)

	var logLines string
	if len(m.lines) == 0 {
		logLines = statusStyle.Render("Keys a-f submit a command, 'q' quits")
	} else {
		logLines = strings.Join(m.lines, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func elapsed(t time.Time) string {
	return time.Since(t).Truncate(time.Second).String()
}

func renderLegend() string {
	var items []string
	for _, s := range allSeries {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(s.color)).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+s.name)
	}
	return strings.Join(items, "  ")
}

func (c *MonitorCommand) Execute(args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	logs := make(chan string, 64)
	logger := logging.NewBlankLogger("scara")
	if !opts.Debug {
		logger.SetLevel(logging.INFO)
	}
	logger.AddAppender(&tuiAppender{logs: logs})

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}
	if c.CommandPort != "" {
		cfg.CommandPort = c.CommandPort
	}
	cfg.DisableIdle = cfg.DisableIdle || c.NoIdle

	detector, closeDetector, err := connectDetector(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDetector()

	d := scara.NewArmDispatcher(cfg, detector, logger)
	defer d.Close()

	// stdin belongs to the TUI
	go func() {
		if err := serve(ctx, cfg, d, logger, false); err != nil {
			logger.Errorw("serve stopped", "error", err)
		}
	}()

	p := tea.NewProgram(initialMonitorModel(ctx, d, logs, c.Interval), tea.WithAltScreen())
	_, err = p.Run()
	cancel()
	return err
}
