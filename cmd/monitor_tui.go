// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/helirig/pkg/telemetry"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	pingIntervalSeconds = 5
	maxLogEntries       = 100
	maxBarWidth         = 40
)

//////////////////////////////////////////////////////////////
// Key bindings
//////////////////////////////////////////////////////////////

type keyMap struct {
	Advance  key.Binding
	YawLeft  key.Binding
	YawRight key.Binding
	Up       key.Binding
	Down     key.Binding
	Direct   key.Binding
	Ping     key.Binding
	Reset    key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Advance, k.Direct, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Advance, k.Direct, k.Ping},
		{k.YawLeft, k.YawRight, k.Up, k.Down},
		{k.Reset, k.Help, k.Quit},
	}
}

var keys = keyMap{
	Advance:  key.NewBinding(key.WithKeys(" ", "enter"), key.WithHelp("space", "advance mode")),
	YawLeft:  key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "yaw -")),
	YawRight: key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "yaw +")),
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "altitude +")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "altitude -")),
	Direct:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "toggle direct")),
	Ping:     key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "ping")),
	Reset:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset stats")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	connMgr  *connectionManager
	connInfo string

	keys keyMap
	help help.Model
	main progress.Model
	tail progress.Model
	alt  progress.Model

	status    telemetry.Status
	hasStatus bool
	tasks     map[uint8]telemetry.TaskStat
	taskStats *telemetry.TaskStatistics
	ping      *telemetry.Ping

	stats    *telemetry.Statistics
	eventLog []logEntry
	lastPing time.Time

	width          int
	height         int
	synchronized   bool
	connectionLost bool
	quitting       bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type frameMsg struct {
	frame            *telemetry.Frame
	decodeErr        error
	validationErrors []telemetry.ValidationError
}

type batchMsg []frameMsg

type syncMsg struct {
	droppedFrames int
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(connMgr *connectionManager, connInfo string) monitorModel {
	bar := func() progress.Model {
		return progress.New(progress.WithDefaultGradient(), progress.WithWidth(maxBarWidth))
	}
	return monitorModel{
		connMgr:   connMgr,
		connInfo:  connInfo,
		keys:      keys,
		help:      help.New(),
		main:      bar(),
		tail:      bar(),
		alt:       bar(),
		tasks:     make(map[uint8]telemetry.TaskStat),
		taskStats: telemetry.NewTaskStatistics(),
		stats:     telemetry.NewStatistics(),
		width:     80,
		height:    24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		w := min(maxBarWidth, max(10, msg.Width-30))
		m.main.Width, m.tail.Width, m.alt.Width = w, w, w

	case monitorTickMsg:
		m.stats.CalculateRates()
		if !m.connectionLost && time.Since(m.lastPing) >= pingIntervalSeconds*time.Second {
			m.lastPing = time.Now()
			m.sendCommand(telemetry.NewPingRequest(), "")
		}
		return m, monitorTickCmd()

	case syncMsg:
		m.synchronized = true
		if msg.droppedFrames > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after dropping %d frames", msg.droppedFrames), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case batchMsg:
		for _, fm := range msg {
			m.processFrame(fm)
		}

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry("Connection lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.synchronized = false
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected", false)
	}

	return m, nil
}

func (m monitorModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll

	case key.Matches(msg, m.keys.Reset):
		m.stats.Reset()
		m.taskStats = telemetry.NewTaskStatistics()
		m.addLogEntry("Statistics reset", false)

	case key.Matches(msg, m.keys.Advance):
		m.sendCommand(telemetry.NewAdvanceMode(), "Sent ADVANCE_MODE")

	case key.Matches(msg, m.keys.YawLeft):
		m.sendCommand(telemetry.NewNudge(telemetry.AxisYaw, -1), "")

	case key.Matches(msg, m.keys.YawRight):
		m.sendCommand(telemetry.NewNudge(telemetry.AxisYaw, 1), "")

	case key.Matches(msg, m.keys.Up):
		m.sendCommand(telemetry.NewNudge(telemetry.AxisAltitude, 1), "")

	case key.Matches(msg, m.keys.Down):
		m.sendCommand(telemetry.NewNudge(telemetry.AxisAltitude, -1), "")

	case key.Matches(msg, m.keys.Direct):
		enable := !m.status.Flags.Has(telemetry.FlagDirect)
		m.sendCommand(telemetry.NewSetDirect(enable), fmt.Sprintf("Sent SET_DIRECT enabled=%v", enable))

	case key.Matches(msg, m.keys.Ping):
		m.lastPing = time.Now()
		m.sendCommand(telemetry.NewPingRequest(), "Sent PING_REQUEST")
	}
	return m, nil
}

// sendCommand writes a command frame and logs note on success
func (m *monitorModel) sendCommand(f *telemetry.Frame, note string) {
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return
	}
	if err := m.connMgr.send(f); err != nil {
		m.addLogEntry(fmt.Sprintf("Failed to send %s: %v", telemetry.FormatMessageType(f.Type()), err), true)
		return
	}
	if note != "" {
		m.addLogEntry(note, false)
	}
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *monitorModel) processFrame(msg frameMsg) {
	if msg.decodeErr != nil {
		m.stats.Update(msg.decodeErr, nil)
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.decodeErr), true)
		return
	}

	f := msg.frame
	m.stats.Update(nil, msg.validationErrors)
	for _, v := range msg.validationErrors {
		m.addLogEntry(fmt.Sprintf("%s: %s", telemetry.FormatMessageType(f.Type()), v.Message), true)
	}

	switch f.Type() {
	case telemetry.MsgStatus:
		s, err := telemetry.ParseStatus(f)
		if err != nil {
			return
		}
		if m.hasStatus && s.Mode != m.status.Mode {
			m.addLogEntry(fmt.Sprintf("Mode %s -> %s", m.status.Mode, s.Mode), false)
		}
		if m.hasStatus && s.Flags.Has(telemetry.FlagDirect) != m.status.Flags.Has(telemetry.FlagDirect) {
			m.addLogEntry(fmt.Sprintf("Direct control %v", s.Flags.Has(telemetry.FlagDirect)), false)
		}
		m.status = s
		m.hasStatus = true

	case telemetry.MsgTaskStats:
		t, err := telemetry.ParseTaskStat(f)
		if err != nil {
			return
		}
		m.tasks[t.Index] = t
		m.taskStats.Add(t)

	case telemetry.MsgPingResponse:
		p, err := telemetry.ParsePing(f)
		if err == nil {
			m.ping = &p
		}

	case telemetry.MsgErrorInvalidCmd:
		rejected, _ := telemetry.GetUint(f.Fields(), 0)
		m.addLogEntry(fmt.Sprintf("Rig rejected %s", telemetry.FormatMessageType(uint8(rejected))), true)
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	s.WriteString(titleStyle.Render("HELIRIG MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warnStyle.Render("RECONNECTING...")
	} else if !m.synchronized {
		connStatus += " " + warnStyle.Render("(waiting for sync)")
	}
	s.WriteString(headerStyle.Render("| " + connStatus))
	if m.ping != nil {
		s.WriteString(headerStyle.Render(fmt.Sprintf(" | uptime %s @ %dHz", formatUptime(*m.ping), m.ping.KernelFrequency)))
	}
	s.WriteString("\n\n")

	s.WriteString(m.renderFlight())
	s.WriteString("\n")
	s.WriteString(m.renderStatisticsBar())
	s.WriteString("\n")
	s.WriteString(m.renderTasks())
	s.WriteString("\n")
	s.WriteString(m.renderEventLog())
	s.WriteString("\n")
	s.WriteString(m.help.View(m.keys))

	return s.String()
}

func (m monitorModel) renderFlight() string {
	if !m.hasStatus {
		return boxStyle.Width(m.width - 4).Render(headerStyle.Render("No STATUS frames yet"))
	}
	st := m.status

	var c strings.Builder
	fmt.Fprintf(&c, "%s %s   %s %s   %s %s\n",
		labelStyle.Render("Mode:"), valueStyle.Render(st.Mode.String()),
		labelStyle.Render("Tick:"), valueStyle.Render(fmt.Sprintf("%d", st.Tick)),
		labelStyle.Render("Flags:"), valueStyle.Render(telemetry.FormatFlags(st.Flags)))
	fmt.Fprintf(&c, "%s %s   %s %s\n",
		labelStyle.Render("Yaw:"), valueStyle.Render(fmt.Sprintf("%3d° → %3d°", st.Yaw, st.YawSetpoint)),
		labelStyle.Render("Altitude:"), valueStyle.Render(fmt.Sprintf("%3d%% → %3d%%", st.Altitude, st.AltitudeSetpoint)))
	fmt.Fprintf(&c, "%s %s %5.1f%%\n", labelStyle.Render("Main "), m.main.ViewAs(st.MainDuty/100), st.MainDuty)
	fmt.Fprintf(&c, "%s %s %5.1f%%\n", labelStyle.Render("Tail "), m.tail.ViewAs(st.TailDuty/100), st.TailDuty)
	fmt.Fprintf(&c, "%s %s %5d%%", labelStyle.Render("Alt  "), m.alt.ViewAs(clamp01(float64(st.Altitude)/100)), st.Altitude)

	return boxStyle.Width(m.width - 4).Render(c.String())
}

func (m monitorModel) renderStatisticsBar() string {
	var validPercent, errorPercent float64
	if m.stats.TotalFrames > 0 {
		validPercent = float64(m.stats.ValidFrames) * 100 / float64(m.stats.TotalFrames)
		errorPercent = float64(m.stats.Errors()) * 100 / float64(m.stats.TotalFrames)
	}
	errText := valueStyle.Render("0.0%")
	if errorPercent > 0 {
		errText = errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Frames:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		labelStyle.Render("Valid:"), valueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		labelStyle.Render("Errors:"), errText,
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f fr/s", m.stats.FrameRate)),
	)
	return boxStyle.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderTasks() string {
	var c strings.Builder
	c.WriteString(labelStyle.Render("KERNEL"))
	if len(m.tasks) == 0 {
		c.WriteString(headerStyle.Render("  (no TASK_STATS yet)"))
		return boxStyle.Width(m.width - 4).Render(c.String())
	}
	fmt.Fprintf(&c, "  %s\n", valueStyle.Render(fmt.Sprintf("utilization %.2f%%", m.taskStats.Utilization())))
	c.WriteString(headerStyle.Render(fmt.Sprintf("%-18s %5s %4s %8s %8s %12s", "task", "Hz", "prio", "period", "dur", "mean±sd µs")))
	for _, sum := range m.taskStats.Summaries() {
		var period uint32
		for _, t := range m.tasks {
			if t.Name == sum.Name {
				period = t.Period
			}
		}
		fmt.Fprintf(&c, "\n%-18s %5d %4d %8d %8.0f %6.1f±%-5.1f",
			sum.Name, sum.Frequency, sum.Priority, period, sum.MaxDuration, sum.MeanDuration, sum.StdDevDuration)
	}
	return boxStyle.Width(m.width - 4).Render(c.String())
}

func (m monitorModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	const logHeight = 8
	start := max(0, len(m.eventLog)-logHeight)

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range m.eventLog[start:] {
		icon, style := "i", warnStyle
		if entry.isError {
			icon, style = "x", errorStyle
		}
		fmt.Fprintf(&s, "%s %s %s\n",
			headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
			style.Render(icon),
			entry.message)
	}
	return boxStyle.Width(m.width - 4).Render(s.String())
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
