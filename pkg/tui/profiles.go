package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/quocson95/duopane/pkg/storage"
)

// profileChosenMsg asks the app to connect the active panel to a profile
type profileChosenMsg struct {
	profile storage.Profile
}

// ProfilesModel lists saved profiles
type ProfilesModel struct {
	settingsStore *storage.SettingsStore
	profiles      []storage.Profile
	cursor        int
	confirming    bool
	err           error
	statusMsg     string
}

// NewProfilesModel creates a new profiles model
func NewProfilesModel(settingsStore *storage.SettingsStore) *ProfilesModel {
	return &ProfilesModel{
		settingsStore: settingsStore,
		profiles:      settingsStore.Profiles(),
	}
}

func (m *ProfilesModel) Init() tea.Cmd {
	return nil
}

func (m *ProfilesModel) Update(msg tea.Msg) (*ProfilesModel, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	if m.confirming {
		switch key.String() {
		case "y", "Y":
			m.confirming = false
			name := m.profiles[m.cursor].Name
			if err := m.settingsStore.DeleteProfile(name); err != nil {
				m.err = err
				return m, nil
			}
			m.profiles = m.settingsStore.Profiles()
			if m.cursor >= len(m.profiles) && m.cursor > 0 {
				m.cursor--
			}
			m.statusMsg = fmt.Sprintf("Profile %s deleted", name)
		case "n", "N", "esc":
			m.confirming = false
		}
		return m, nil
	}

	switch key.String() {
	case "esc", "q":
		return m, func() tea.Msg { return dialogClosedMsg{} }
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.profiles)-1 {
			m.cursor++
		}
	case "enter", " ":
		if m.cursor < len(m.profiles) {
			p := m.profiles[m.cursor]
			return m, func() tea.Msg { return profileChosenMsg{profile: p} }
		}
	case "x", "d", "delete":
		if m.cursor < len(m.profiles) {
			m.err = nil
			m.statusMsg = ""
			m.confirming = true
		}
	}
	return m, nil
}

func (m *ProfilesModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("📚 Saved Profiles"))
	b.WriteString("\n\n")

	if len(m.profiles) == 0 {
		b.WriteString(helpStyle.Render("No saved profiles. Connect with g and save the connection."))
	} else {
		for i, p := range m.profiles {
			cursor := "  "
			style := itemStyle
			if m.cursor == i {
				cursor = "→ "
				style = selectedItemStyle
			}

			info := fmt.Sprintf("%s (%s, %s)", p.Name, p.Key(), p.Auth.Kind())
			if p.DefaultPath != "" {
				info += " " + p.DefaultPath
			}
			b.WriteString(cursor + style.Render(info))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/k up • ↓/j down • enter: connect • x: delete • esc: back"))

	if m.confirming {
		b.WriteString("\n\n")
		b.WriteString(dangerBoxStyle.Render(fmt.Sprintf("Delete profile '%s'?\n\n(y/n)", m.profiles[m.cursor].Name)))
	}
	if m.err != nil {
		b.WriteString("\n\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}
	if m.statusMsg != "" {
		b.WriteString("\n\n")
		b.WriteString(successStyle.Render(m.statusMsg))
	}

	return boxStyle.Render(b.String())
}
