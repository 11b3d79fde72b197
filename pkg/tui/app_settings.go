package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

func (m *AppModel) updateSettings(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dialogClosedMsg:
		m.state = StatePanels
		m.settingsModel = nil
		return m, nil
	case settingsSavedMsg:
		// Sessions pick up new timeouts on their next connect
		m.engine.SetDisableRsync(msg.settings.DisableRsync)
		return m, nil
	}

	var cmd tea.Cmd
	m.settingsModel, cmd = m.settingsModel.Update(msg)
	return m, cmd
}

func (m *AppModel) updateBackup(msg tea.Msg) (tea.Model, tea.Cmd) {
	if _, ok := msg.(dialogClosedMsg); ok {
		m.state = StatePanels
		m.backupModel = nil
		return m, nil
	}

	var cmd tea.Cmd
	m.backupModel, cmd = m.backupModel.Update(msg)
	return m, cmd
}

func (m *AppModel) updateProfiles(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dialogClosedMsg:
		m.state = StatePanels
		m.profilesModel = nil
		return m, nil
	case profileChosenMsg:
		m.profilesModel = nil
		if err := m.newConnect(); err != nil {
			m.state = StatePanels
			m.err = err
			return m, nil
		}
		return m, m.connectModel.StartProfile(msg.profile)
	}

	var cmd tea.Cmd
	m.profilesModel, cmd = m.profilesModel.Update(msg)
	return m, cmd
}

// ForceSCP switches the transfer engine to scp for this run without
// touching the stored settings
func (m *AppModel) ForceSCP() {
	m.engine.SetDisableRsync(true)
}
