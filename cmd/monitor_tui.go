// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/Thermoquad/gyrostat/internal/acquire"
	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	defaultCaptureMs = 10000
	maxCaptureMs     = 65535
)

// Focus states
const (
	focusRecordList = iota
	focusCaptureInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// recordItem is one streamable record in the selection list
type recordItem struct {
	cmd    byte
	active bool
}

// Implement list.Item interface
func (r recordItem) Title() string { return gx3.CommandName(r.cmd) }
func (r recordItem) Description() string {
	if r.active {
		return fmt.Sprintf("0x%02X (streaming)", r.cmd)
	}
	return fmt.Sprintf("0x%02X", r.cmd)
}
func (r recordItem) FilterValue() string { return gx3.CommandName(r.cmd) }

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	sm       *sessionManager
	connInfo string
	showAll  bool

	// Session
	dataType  byte
	sessionID uuid.UUID
	samples   uint64
	latest    gx3.Record
	latestAt  time.Time

	// Statistics snapshot from the acquirer, refreshed every tick
	stats     gx3.Statistics
	lastStats gx3.Statistics

	// Controls
	recordList   list.Model
	captureInput textinput.Model
	focusedField int
	capturing    bool
	lastBias     *gx3.Vector3

	eventLog      []eventLogEntry
	maxLogEntries int

	// UI state
	width          int
	height         int
	synchronized   bool
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type sampleBatchMsg struct {
	samples []acquire.Sample
}

type sessionStartedMsg struct {
	dataType byte
}

type sessionEndedMsg struct {
	err error
}

type biasCapturedMsg struct {
	bias gx3.Vector3
	err  error
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(sm *sessionManager, connInfo string, dataType byte, showAll bool) monitorModel {
	ti := textinput.New()
	ti.Placeholder = strconv.Itoa(defaultCaptureMs)
	ti.CharLimit = 5
	ti.Width = 10

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	recordList := list.New(recordItems(dataType), delegate, 34, 12)
	recordList.Title = "Records"
	recordList.SetShowStatusBar(false)
	recordList.SetShowHelp(false)
	recordList.SetFilteringEnabled(false)
	for i, cmd := range gx3.QueryCommands() {
		if cmd == dataType {
			recordList.Select(i)
		}
	}

	return monitorModel{
		sm:            sm,
		connInfo:      connInfo,
		showAll:       showAll,
		dataType:      dataType,
		recordList:    recordList,
		captureInput:  ti,
		focusedField:  focusRecordList,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func recordItems(active byte) []list.Item {
	cmds := gx3.QueryCommands()
	items := make([]list.Item, 0, len(cmds))
	for _, cmd := range cmds {
		items = append(items, recordItem{cmd: cmd, active: cmd == active})
	}
	return items
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
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case monitorTickMsg:
		m.refreshStats()
		return m, monitorTickCmd()

	case sampleBatchMsg:
		for _, s := range msg.samples {
			m.processSample(s)
		}
		return m, nil

	case sessionStartedMsg:
		m.dataType = msg.dataType
		m.synchronized = false
		m.lastStats = gx3.Statistics{}
		m.recordList.SetItems(recordItems(msg.dataType))
		m.addLogEntry(fmt.Sprintf("Streaming %s", gx3.CommandName(msg.dataType)), false)
		return m, nil

	case sessionEndedMsg:
		m.synchronized = false
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Session ended: %v", msg.err), true)
		}
		return m, nil

	case biasCapturedMsg:
		m.capturing = false
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Gyro bias capture failed: %v", msg.err), true)
			return m, nil
		}
		bias := msg.bias
		m.lastBias = &bias
		m.addLogEntry(fmt.Sprintf("Gyro bias captured: [%.5f, %.5f, %.5f] rad/s", bias[0], bias[1], bias[2]), false)
		return m, nil

	case connectionLostMsg:
		m.connectionLost = true
		m.synchronized = false
		m.addLogEntry("Connection lost - reconnecting...", true)
		return m, nil

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected", false)
		return m, nil
	}

	var cmd tea.Cmd
	if m.focusedField == focusCaptureInput {
		m.captureInput, cmd = m.captureInput.Update(msg)
	}
	return m, cmd
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "shift+tab":
		m.toggleFocus()
		return m, nil

	case "enter":
		return m.handleEnter()
	}

	// Pass through to focused component
	var cmd tea.Cmd
	if m.focusedField == focusCaptureInput {
		m.captureInput, cmd = m.captureInput.Update(msg)
	} else {
		m.recordList, cmd = m.recordList.Update(msg)
	}
	return m, cmd
}

func (m *monitorModel) toggleFocus() {
	if m.focusedField == focusRecordList {
		m.focusedField = focusCaptureInput
		m.captureInput.Focus()
		return
	}
	m.focusedField = focusRecordList
	m.captureInput.Blur()
}

func (m monitorModel) handleEnter() (tea.Model, tea.Cmd) {
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}

	switch m.focusedField {
	case focusRecordList:
		item, ok := m.recordList.SelectedItem().(recordItem)
		if !ok || item.cmd == m.dataType {
			return m, nil
		}
		if !m.sm.request(sessionRequest{dataType: item.cmd}) {
			m.addLogEntry("Busy: previous request still pending", true)
			return m, nil
		}
		m.addLogEntry(fmt.Sprintf("Switching to %s", gx3.CommandName(item.cmd)), false)

	case focusCaptureInput:
		if m.capturing {
			m.addLogEntry("Gyro bias capture already running", true)
			return m, nil
		}
		ms, err := parseCaptureMs(m.captureInput.Value())
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return m, nil
		}
		if !m.sm.request(sessionRequest{captureMs: ms}) {
			m.addLogEntry("Busy: previous request still pending", true)
			return m, nil
		}
		m.capturing = true
		m.addLogEntry(fmt.Sprintf("Capturing gyro bias for %d ms, keep the sensor still", ms), false)
	}
	return m, nil
}

// parseCaptureMs reads the sampling time field; empty means the default.
func parseCaptureMs(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultCaptureMs, nil
	}
	ms, err := strconv.Atoi(s)
	if err != nil || ms <= 0 || ms > maxCaptureMs {
		return 0, fmt.Errorf("invalid sampling time %q (1-%d ms)", s, maxCaptureMs)
	}
	return uint16(ms), nil
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *monitorModel) processSample(s acquire.Sample) {
	if !m.synchronized {
		m.synchronized = true
		m.addLogEntry("Synchronized", false)
	}
	m.sessionID = s.SessionID
	m.samples++
	m.latest = s.Record
	m.latestAt = s.Received

	validationErrors := gx3.ValidateRecord(s.Record)
	for _, verr := range validationErrors {
		m.addLogEntry(fmt.Sprintf("[%s] %s", verr.Type, verr.Message), false)
	}
	if m.showAll && len(validationErrors) == 0 {
		m.addLogEntry(fmt.Sprintf("#%d %s", s.Seq, gx3.CommandName(s.Record.Command())), false)
	}
}

// refreshStats pulls the acquirer's counters and logs new failures.
func (m *monitorModel) refreshStats() {
	stats, ok := m.sm.statistics()
	if !ok {
		return
	}
	stats.CalculateRates()
	if d := stats.ChecksumErrors - m.lastStats.ChecksumErrors; stats.ChecksumErrors > m.lastStats.ChecksumErrors {
		m.addLogEntry(fmt.Sprintf("%d checksum error(s)", d), true)
	}
	if d := stats.ResyncFailures - m.lastStats.ResyncFailures; stats.ResyncFailures > m.lastStats.ResyncFailures {
		m.addLogEntry(fmt.Sprintf("%d resync failure(s)", d), true)
	}
	if d := stats.TransportErrors - m.lastStats.TransportErrors; stats.TransportErrors > m.lastStats.TransportErrors {
		m.addLogEntry(fmt.Sprintf("%d read error(s)", d), true)
	}
	m.stats = stats
	m.lastStats = stats
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
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

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	focusedBoxStyle = boxStyle.
			BorderForeground(lipgloss.Color("12"))
)

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Header
	s.WriteString(titleStyle.Render("GYROSTAT MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch Enter=apply", connStatus)))
	s.WriteString("\n")

	if m.synchronized {
		s.WriteString(statsValueStyle.Render("● SYNCHRONIZED"))
	} else {
		s.WriteString(warningStyle.Render("○ WAITING FOR DATA"))
	}
	if m.sessionID != uuid.Nil {
		s.WriteString(headerStyle.Render(fmt.Sprintf("  session %s", m.sessionID)))
	}
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar())
	s.WriteString("\n")

	// Layout: left panel (records) | right panel (latest record + bias)
	leftWidth := 34
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 30 {
		rightWidth = 30
	}

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusRecordList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	recordPanel := listStyle.Render(m.recordList.View())

	right := lipgloss.JoinVertical(lipgloss.Left,
		boxStyle.Width(rightWidth).Render(m.renderLatest()),
		m.renderCapturePanel(rightWidth),
	)
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, recordPanel, " ", right))
	s.WriteString("\n")

	s.WriteString(m.renderEventLog())

	return s.String()
}

func (m monitorModel) renderStatisticsBar() string {
	var validPercent float64
	if m.stats.TotalFrames > 0 {
		validPercent = float64(m.stats.ValidFrames) * 100.0 / float64(m.stats.TotalFrames)
	}

	errors := statsValueStyle.Render("0")
	if n := m.stats.ErrorCount(); n > 0 {
		errors = errorStyle.Render(fmt.Sprintf("%d", n))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		statsLabelStyle.Render("Errors:"), errors,
		statsLabelStyle.Render("Checksum:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.ChecksumErrors)),
		statsLabelStyle.Render("Skipped:"), statsValueStyle.Render(fmt.Sprintf("%d B", m.stats.DiscardedBytes)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f fr/s", m.stats.FrameRate)),
	)
	return boxStyle.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderLatest() string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render(strings.ToUpper(gx3.CommandName(m.dataType))))
	if m.latest == nil {
		s.WriteString("\n")
		s.WriteString(headerStyle.Render("No records yet"))
		return s.String()
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("  #%d at %s", m.samples, m.latestAt.Format("15:04:05.000"))))
	s.WriteString("\n")
	s.WriteString(strings.TrimRight(gx3.FormatRecordBody(m.latest), "\n"))
	return s.String()
}

func (m monitorModel) renderCapturePanel(width int) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("GYRO BIAS"))
	s.WriteString("\n")
	s.WriteString("Sampling time (ms): ")
	if m.focusedField == focusCaptureInput {
		s.WriteString(m.captureInput.View())
	} else {
		val := m.captureInput.Value()
		if val == "" {
			val = m.captureInput.Placeholder
		}
		s.WriteString(fmt.Sprintf("[%s]", val))
	}
	s.WriteString("\n")
	switch {
	case m.capturing:
		s.WriteString(warningStyle.Render("Capturing..."))
	case m.lastBias != nil:
		s.WriteString(fmt.Sprintf("%s %s", statsLabelStyle.Render("Last:"),
			statsValueStyle.Render(fmt.Sprintf("[%.5f, %.5f, %.5f] rad/s", m.lastBias[0], m.lastBias[1], m.lastBias[2]))))
	default:
		s.WriteString(headerStyle.Render("Keep the sensor still, then press Enter"))
	}

	style := boxStyle.Width(width)
	if m.focusedField == focusCaptureInput {
		style = focusedBoxStyle.Width(width)
	}
	return style.Render(s.String())
}

func (m monitorModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := 8
	if m.height > 40 {
		logHeight = m.height - 32
	}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range m.eventLog[startIdx:] {
		icon := "i"
		style := warningStyle
		if entry.isError {
			icon = "x"
			style = errorStyle
		}
		s.WriteString(fmt.Sprintf("%s %s %s\n",
			headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
			style.Render(icon),
			entry.message))
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}
