package tui

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/quocson95/duopane/pkg/storage"
)

// SettingsModel edits connection and transfer settings
type SettingsModel struct {
	settingsStore *storage.SettingsStore
	settings      storage.Settings
	inputs        []textinput.Model
	focused       int
	cursor        int
	err           error
	saved         bool
}

const (
	settingKeepalive = iota
	settingMaxMissed
	settingIdleTimeout
	settingDialTimeout
	settingKnownHosts
	settingCount
)

// settingsSavedMsg carries the stored settings back to the app
type settingsSavedMsg struct {
	settings storage.Settings
}

// NewSettingsModel creates a new settings model
func NewSettingsModel(settingsStore *storage.SettingsStore) *SettingsModel {
	m := &SettingsModel{
		settingsStore: settingsStore,
		inputs:        make([]textinput.Model, settingCount),
		focused:       -1,
	}

	m.inputs[settingKeepalive] = textinput.New()
	m.inputs[settingKeepalive].CharLimit = 5
	m.inputs[settingKeepalive].Width = 10
	m.inputs[settingKeepalive].Prompt = "Keepalive Interval (s): "

	m.inputs[settingMaxMissed] = textinput.New()
	m.inputs[settingMaxMissed].CharLimit = 3
	m.inputs[settingMaxMissed].Width = 10
	m.inputs[settingMaxMissed].Prompt = "Missed Keepalives: "

	m.inputs[settingIdleTimeout] = textinput.New()
	m.inputs[settingIdleTimeout].CharLimit = 6
	m.inputs[settingIdleTimeout].Width = 10
	m.inputs[settingIdleTimeout].Prompt = "Idle Timeout (s): "

	m.inputs[settingDialTimeout] = textinput.New()
	m.inputs[settingDialTimeout].CharLimit = 5
	m.inputs[settingDialTimeout].Width = 10
	m.inputs[settingDialTimeout].Prompt = "Connect Timeout (s): "

	m.inputs[settingKnownHosts] = textinput.New()
	m.inputs[settingKnownHosts].Placeholder = "~/.ssh/known_hosts"
	m.inputs[settingKnownHosts].CharLimit = 1024
	m.inputs[settingKnownHosts].Width = 40
	m.inputs[settingKnownHosts].Prompt = "Known Hosts File: "

	m.load(settingsStore.Get())
	return m
}

func (m *SettingsModel) load(s storage.Settings) {
	m.settings = s
	m.inputs[settingKeepalive].SetValue(strconv.Itoa(s.KeepaliveIntervalSec))
	m.inputs[settingMaxMissed].SetValue(strconv.Itoa(s.KeepaliveMaxMissed))
	m.inputs[settingIdleTimeout].SetValue(strconv.Itoa(s.IdleTimeoutSec))
	m.inputs[settingDialTimeout].SetValue(strconv.Itoa(s.DialTimeoutSec))
	m.inputs[settingKnownHosts].SetValue(s.KnownHostsPath)
}

func (m *SettingsModel) Init() tea.Cmd {
	return nil
}

// Cursor positions after the inputs
func (m *SettingsModel) rsyncRow() int  { return settingCount }
func (m *SettingsModel) verifyRow() int { return settingCount + 1 }
func (m *SettingsModel) saveRow() int   { return settingCount + 2 }
func (m *SettingsModel) resetRow() int  { return settingCount + 3 }

func (m *SettingsModel) Update(msg tea.Msg) (*SettingsModel, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	if key.String() == "tab" || key.String() == "shift+tab" {
		m.blur()
		if key.String() == "tab" {
			m.cursor++
		} else {
			m.cursor--
		}
		if m.cursor > m.resetRow() {
			m.cursor = 0
		} else if m.cursor < 0 {
			m.cursor = m.resetRow()
		}
		if m.cursor < settingCount {
			m.focused = m.cursor
			m.inputs[m.focused].Focus()
		}
		return m, nil
	}

	if m.focused >= 0 {
		switch key.String() {
		case "enter", "esc":
			m.blur()
			m.saved = false
			return m, nil
		}
		var cmd tea.Cmd
		m.inputs[m.focused], cmd = m.inputs[m.focused].Update(msg)
		return m, cmd
	}

	switch key.String() {
	case "esc":
		return m, func() tea.Msg { return dialogClosedMsg{} }
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < m.resetRow() {
			m.cursor++
		}
	case "s":
		return m, m.saveSettings()
	case "enter", " ":
		switch {
		case m.cursor < settingCount:
			m.focused = m.cursor
			m.inputs[m.focused].Focus()
			return m, textinput.Blink
		case m.cursor == m.rsyncRow():
			m.settings.DisableRsync = !m.settings.DisableRsync
			m.saved = false
		case m.cursor == m.verifyRow():
			m.settings.VerifyHostKeys = !m.settings.VerifyHostKeys
			m.saved = false
		case m.cursor == m.saveRow():
			return m, m.saveSettings()
		case m.cursor == m.resetRow():
			return m, m.resetSettings()
		}
	}
	return m, nil
}

func (m *SettingsModel) blur() {
	if m.focused >= 0 {
		m.inputs[m.focused].Blur()
		m.focused = -1
	}
}

// parseSeconds reads a positive number of seconds from an input
func (m *SettingsModel) parseSeconds(i int, name string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(m.inputs[i].Value()))
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive number", name)
	}
	return v, nil
}

func (m *SettingsModel) saveSettings() tea.Cmd {
	s := m.settings
	var err error
	if s.KeepaliveIntervalSec, err = m.parseSeconds(settingKeepalive, "keepalive interval"); err != nil {
		m.err = err
		return nil
	}
	if s.KeepaliveMaxMissed, err = m.parseSeconds(settingMaxMissed, "missed keepalives"); err != nil {
		m.err = err
		return nil
	}
	if s.IdleTimeoutSec, err = m.parseSeconds(settingIdleTimeout, "idle timeout"); err != nil {
		m.err = err
		return nil
	}
	if s.DialTimeoutSec, err = m.parseSeconds(settingDialTimeout, "connect timeout"); err != nil {
		m.err = err
		return nil
	}
	s.KnownHostsPath = strings.TrimSpace(m.inputs[settingKnownHosts].Value())

	// Profiles may have changed since the dialog opened
	s.RemoteProfiles = m.settingsStore.Profiles()
	if err := m.settingsStore.Update(s); err != nil {
		m.err = err
		return nil
	}

	m.settings = s
	m.saved = true
	m.err = nil
	return func() tea.Msg { return settingsSavedMsg{settings: s} }
}

func (m *SettingsModel) resetSettings() tea.Cmd {
	if err := m.settingsStore.Reset(); err != nil {
		m.err = err
		return nil
	}
	s := m.settingsStore.Get()
	m.load(s)
	m.saved = true
	m.err = nil
	return func() tea.Msg { return settingsSavedMsg{settings: s} }
}

func checkbox(on bool) string {
	if on {
		return "☑"
	}
	return "☐"
}

func (m *SettingsModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("⚙️  Settings"))
	b.WriteString("\n\n")

	for i := range m.inputs {
		cursor := "  "
		if m.cursor == i && m.focused < 0 {
			cursor = "→ "
		}
		b.WriteString(cursor)
		b.WriteString(m.inputs[i].View())
		b.WriteString("\n")
	}

	toggles := []struct {
		row   int
		on    bool
		label string
	}{
		{m.rsyncRow(), m.settings.DisableRsync, "Always use scp instead of rsync"},
		{m.verifyRow(), m.settings.VerifyHostKeys, "Verify host keys against known hosts"},
	}
	for _, t := range toggles {
		cursor := "  "
		style := itemStyle
		if m.cursor == t.row {
			cursor = "→ "
			style = selectedItemStyle
		}
		b.WriteString(cursor + style.Render(fmt.Sprintf("%s %s", checkbox(t.on), t.label)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	cursorSave, styleSave := " ", itemStyle
	if m.cursor == m.saveRow() {
		cursorSave, styleSave = "→", selectedItemStyle
	}
	cursorReset, styleReset := " ", itemStyle
	if m.cursor == m.resetRow() {
		cursorReset, styleReset = "→", selectedItemStyle
	}
	b.WriteString(fmt.Sprintf("%s%s    %s%s",
		cursorSave, styleSave.Render("💾 Save"),
		cursorReset, styleReset.Render("🔄 Reset")))
	b.WriteString("\n\n")

	b.WriteString(helpStyle.Render("↑/k up • ↓/j down • enter: edit/toggle • s: save • esc: back"))

	if m.saved {
		b.WriteString("\n\n")
		b.WriteString(successStyle.Render("✓ Settings saved!"))
	}
	if m.err != nil {
		b.WriteString("\n\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	b.WriteString("\n\n")
	infoStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#626262")).
		Italic(true)
	b.WriteString(infoStyle.Render("Saved to " + filepath.Join(m.settingsStore.GetDataDir(), "settings.json")))
	b.WriteString("\n")
	b.WriteString(infoStyle.Render("Timeouts apply to new connections."))

	return boxStyle.Render(b.String())
}
