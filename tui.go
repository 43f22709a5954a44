package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"typeless/audio"
	"typeless/models"
	"typeless/session"
)

// TUI message types
type sessionMsg session.Event
type modelMsg models.Event
type noVoiceMsg bool // true while the current recording hears nothing
type tickMsg time.Time

type recordToggler interface {
	ToggleRecording()
}

type modelLibrary interface {
	States() map[string]models.State
	Selected() string
	Download(id string) error
	Cancel(id string)
	Delete(id string) error
	Select(id string) error
}

const (
	statusWidth  = 40
	meterWidth   = 24
	meterFloorDB = -60.0
)

type tuiModel struct {
	ctrl recordToggler
	lib  modelLibrary

	state     session.State
	startedAt time.Time
	now       time.Time
	levelDB   float64 // smoothed level of the current recording
	peakDB    float64
	noVoice   bool

	catalog  []models.Descriptor
	states   map[string]models.State
	selected string
	cursor   int

	count     int    // non-empty transcriptions this run
	lastText  string // last transcribed text
	condition session.Condition
	condErr   error
	notice    string // outcome of the last model action

	device        string
	hotkey        string
	width, height int
}

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	boldStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	textStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

func newTUIModel(ctrl recordToggler, lib modelLibrary, device, hotkey string) tuiModel {
	m := tuiModel{
		ctrl:     ctrl,
		lib:      lib,
		state:    session.Idle,
		levelDB:  audio.SilenceFloorDB,
		peakDB:   audio.SilenceFloorDB,
		catalog:  models.Catalog(),
		states:   lib.States(),
		selected: lib.Selected(),
		device:   device,
		hotkey:   hotkey,
		now:      time.Now(),
	}
	for i, d := range m.catalog {
		if d.ID == m.selected {
			m.cursor = i
		}
	}
	return m
}

func tuiTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.now = time.Time(msg)
		return m, tuiTick()

	case sessionMsg:
		m.handleSession(session.Event(msg))

	case modelMsg:
		ev := models.Event(msg)
		m.states[ev.Model] = ev.State
		if ev.Kind == models.SelectionChanged {
			m.selected = ev.Model
		}

	case noVoiceMsg:
		m.noVoice = bool(msg)
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	id := m.catalog[m.cursor].ID
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case " ":
		m.ctrl.ToggleRecording()
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.catalog)-1 {
			m.cursor++
		}
	case "d":
		m.notice = errText(m.lib.Download(id))
	case "x":
		m.lib.Cancel(id)
		m.notice = ""
	case "backspace":
		m.notice = errText(m.lib.Delete(id))
	case "enter":
		m.notice = errText(m.lib.Select(id))
	}
	return m, nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (m *tuiModel) handleSession(ev session.Event) {
	switch ev.Kind {
	case session.StateChanged:
		m.state = ev.State
		if ev.State == session.Recording {
			m.startedAt = time.Now()
			m.now = m.startedAt
			m.levelDB = audio.SilenceFloorDB
			m.peakDB = audio.SilenceFloorDB
			m.condition = ""
			m.condErr = nil
		}

	case session.LevelSample:
		if m.state != session.Recording {
			return
		}
		if m.levelDB <= audio.SilenceFloorDB {
			m.levelDB = ev.Level
		} else {
			m.levelDB = m.levelDB*0.6 + ev.Level*0.4
		}
		m.peakDB = max(m.peakDB, ev.Level)

	case session.TranscriptionDone:
		if ev.Result.Text != "" {
			m.count++
			m.lastText = ev.Result.Text
		}

	case session.ConditionRaised:
		m.condition = ev.Condition
		m.condErr = ev.Err
	}
}

// levelBar renders a dBFS level as a fixed-width meter.
func levelBar(db float64, width int) string {
	frac := (db - meterFloorDB) / -meterFloorDB
	frac = min(max(frac, 0), 1)
	filled := int(frac*float64(width) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func (m tuiModel) statusLines() []string {
	var lines []string
	lines = append(lines, lipgloss.NewStyle().Bold(true).Render("typeless"), "")

	switch m.state {
	case session.Recording:
		dur := max(m.now.Sub(m.startedAt), 0)
		lines = append(lines, lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true).
			Render(fmt.Sprintf("● REC %.1fs", dur.Seconds())))
		meter := levelBar(m.levelDB, meterWidth)
		lines = append(lines, okStyle.Render(meter)+dimStyle.Render(fmt.Sprintf(" %4.0f dB", max(m.levelDB, meterFloorDB))))
		if m.noVoice {
			lines = append(lines, warnStyle.Render("  ⚠ no voice detected"))
		}
	case session.RequestingPermission:
		lines = append(lines, warnStyle.Render("◌ REQUESTING MICROPHONE"))
	case session.Transcribing:
		lines = append(lines, lipgloss.NewStyle().Foreground(lipgloss.Color("33")).Render("◐ TRANSCRIBING"))
	default:
		lines = append(lines, dimStyle.Render("○ STANDBY"))
	}

	if m.condition != "" {
		text := "⚠ " + string(m.condition)
		if m.condErr != nil {
			text += ": " + m.condErr.Error()
		}
		for _, l := range wrapText(text, statusWidth-2) {
			lines = append(lines, warnStyle.Render(l))
		}
	}

	device := m.device
	if device == "" {
		device = "system default"
	} else if audio.IsBluetooth(device) {
		device += " (BT!)"
	}
	lines = append(lines, "", dimStyle.Render("mic: "+device))
	model := m.selected
	if model == "" {
		model = "none"
	}
	lines = append(lines, dimStyle.Render("model: "+model))

	lines = append(lines, "")
	if m.hotkey != "" {
		lines = append(lines, boldStyle.Render(m.hotkey)+helpStyle.Render(" or"))
	}
	lines = append(lines, boldStyle.Render("space")+helpStyle.Render(" to record"))
	lines = append(lines, helpStyle.Render("typeless "+version))
	return lines
}

func (m tuiModel) modelLines() []string {
	lines := []string{lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Render("Models"), ""}
	for i, d := range m.catalog {
		st := m.states[d.ID]
		marker := "  "
		if i == m.cursor {
			marker = "▶ "
		}
		row := fmt.Sprintf("%s%-16s %-9s %s", marker, d.ID, d.SizeLabel, st)
		switch {
		case i == m.cursor:
			row = cursorStyle.Render(row)
		case st.Status == models.Failed:
			row = warnStyle.Render(row)
		case st.Status == models.Downloaded:
			row = textStyle.Render(row)
		default:
			row = dimStyle.Render(row)
		}
		if d.ID == m.selected {
			row += " " + okStyle.Render("[✓ selected]")
		}
		lines = append(lines, row)
	}
	lines = append(lines, "", helpStyle.Render("d download · x cancel · ⌫ delete · enter select · q quit"))
	if m.notice != "" {
		lines = append(lines, warnStyle.Render(m.notice))
	}
	return lines
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	status := lipgloss.NewStyle().
		Width(statusWidth).
		Height(m.height).
		Render(strings.Join(m.statusLines(), "\n"))

	panelWidth := max(m.width-statusWidth-1, 20)
	wrapWidth := max(panelWidth-2, 10)

	var right strings.Builder
	for _, l := range m.modelLines() {
		right.WriteString(l + "\n")
	}
	right.WriteString("\n")
	if m.lastText != "" {
		title := lipgloss.NewStyle().
			Foreground(lipgloss.Color("246")).
			Render(fmt.Sprintf("Last transcription (#%d)", m.count))
		right.WriteString(title + "\n\n")
		for _, line := range wrapText(m.lastText, wrapWidth) {
			right.WriteString(textStyle.Render(line) + "\n")
		}
	} else {
		right.WriteString(dimStyle.Render("No transcriptions yet"))
	}

	panel := lipgloss.NewStyle().
		Width(panelWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(right.String())

	return lipgloss.JoinHorizontal(lipgloss.Top, status, panel)
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
