package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/quocson95/duopane/pkg/address"
	"github.com/quocson95/duopane/pkg/connect"
	"github.com/quocson95/duopane/pkg/panel"
	"github.com/quocson95/duopane/pkg/remote"
	"github.com/quocson95/duopane/pkg/storage"
)

type connectStep int

const (
	stepAddress connectStep = iota
	stepCredentials
	stepConnecting
	stepFailed
	stepSave
)

const (
	inputPassword = iota
	inputKeyPath
	inputPassphrase
)

// connectNavigateMsg asks the app to navigate the active panel and close the dialog
type connectNavigateMsg struct {
	local bool
	path  string
}

// connectAttachMsg hands a fresh session to the active panel
type connectAttachMsg struct {
	session  panel.Session
	path     string
	keepOpen bool
}

// connectClosedMsg closes the dialog
type connectClosedMsg struct{}

// dialResultMsg carries the outcome of a dial back to the dialog that started it
type dialResultMsg struct {
	flow    *connect.Flow
	session panel.Session
	err     error
}

// ConnectModel is the "go to address" dialog. It drives a connect.Flow.
type ConnectModel struct {
	flow *connect.Flow
	dial connect.Dialer
	att  connect.Attachment

	step      connectStep
	address   textinput.Model
	creds     []textinput.Model
	useKey    bool
	focused   int
	saveName  textinput.Model
	spinner   spinner.Model
	err       error
	connected string
}

// NewConnectModel opens the dialog pre-filled with the active panel's location
func NewConnectModel(store connect.ProfileStore, dial connect.Dialer, att connect.Attachment, initial string) *ConnectModel {
	address := textinput.New()
	address.Placeholder = "user@host:/path, user@host:port:/path or a local path"
	address.CharLimit = 1024
	address.Width = 60
	address.Prompt = "Address: "
	address.SetValue(initial)
	address.Focus()

	creds := make([]textinput.Model, 3)

	creds[inputPassword] = textinput.New()
	creds[inputPassword].CharLimit = 256
	creds[inputPassword].Width = 50
	creds[inputPassword].Prompt = "Password: "
	creds[inputPassword].EchoMode = textinput.EchoPassword
	creds[inputPassword].EchoCharacter = '•'

	creds[inputKeyPath] = textinput.New()
	creds[inputKeyPath].Placeholder = "~/.ssh/id_ed25519"
	creds[inputKeyPath].CharLimit = 1024
	creds[inputKeyPath].Width = 50
	creds[inputKeyPath].Prompt = "Private Key: "

	creds[inputPassphrase] = textinput.New()
	creds[inputPassphrase].Placeholder = "(optional)"
	creds[inputPassphrase].CharLimit = 256
	creds[inputPassphrase].Width = 50
	creds[inputPassphrase].Prompt = "Passphrase: "
	creds[inputPassphrase].EchoMode = textinput.EchoPassword
	creds[inputPassphrase].EchoCharacter = '•'

	saveName := textinput.New()
	saveName.CharLimit = 64
	saveName.Width = 40
	saveName.Prompt = "Name: "

	s := spinner.New()
	s.Spinner = spinner.Dot

	return &ConnectModel{
		flow:     connect.New(store),
		dial:     dial,
		att:      att,
		address:  address,
		creds:    creds,
		saveName: saveName,
		spinner:  s,
	}
}

func (m *ConnectModel) Init() tea.Cmd {
	return textinput.Blink
}

// visibleInputs are the credential inputs for the chosen auth type
func (m *ConnectModel) visibleInputs() []int {
	if m.useKey {
		return []int{inputKeyPath, inputPassphrase}
	}
	return []int{inputPassword}
}

func (m *ConnectModel) focusCredential(i int) {
	m.focused = i
	for j := range m.creds {
		if j == i {
			m.creds[j].Focus()
		} else {
			m.creds[j].Blur()
		}
	}
}

func (m *ConnectModel) Update(msg tea.Msg) (*ConnectModel, tea.Cmd) {
	switch msg := msg.(type) {
	case dialResultMsg:
		if msg.flow != m.flow {
			return m, nil
		}
		return m.handleDialResult(msg)

	case spinner.TickMsg:
		if m.step != stepConnecting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "esc" {
			return m.close()
		}
		switch m.step {
		case stepAddress:
			return m.updateAddress(msg)
		case stepCredentials:
			return m.updateCredentials(msg)
		case stepFailed:
			if msg.String() == "enter" {
				if err := m.flow.Retry(); err != nil {
					m.err = err
					return m, nil
				}
				m.err = nil
				m.step = stepCredentials
				m.focusCredential(m.visibleInputs()[0])
				return m, textinput.Blink
			}
			return m, nil
		case stepSave:
			return m.updateSave(msg)
		}
	}
	return m, nil
}

// close cancels whatever is in flight. Declining a save is the same as esc.
func (m *ConnectModel) close() (*ConnectModel, tea.Cmd) {
	if m.step == stepSave {
		m.flow.DeclineSave()
	} else {
		m.flow.Cancel()
	}
	return m, func() tea.Msg { return connectClosedMsg{} }
}

func (m *ConnectModel) updateAddress(msg tea.KeyMsg) (*ConnectModel, tea.Cmd) {
	if msg.String() != "enter" {
		var cmd tea.Cmd
		m.address, cmd = m.address.Update(msg)
		return m, cmd
	}

	action, err := m.flow.Resolve(m.address.Value(), m.att)
	switch action {
	case connect.ActionInvalid:
		m.err = err
		return m, nil
	case connect.ActionLocal, connect.ActionRemoteNavigate:
		nav := connectNavigateMsg{local: action == connect.ActionLocal, path: m.flow.Path()}
		return m, func() tea.Msg { return nav }
	case connect.ActionConnect:
		m.err = nil
		return m, m.startDial()
	default:
		m.err = nil
		m.step = stepCredentials
		m.address.Blur()
		m.focusCredential(m.visibleInputs()[0])
		return m, textinput.Blink
	}
}

// StartProfile connects straight to a saved profile
func (m *ConnectModel) StartProfile(p storage.Profile) tea.Cmd {
	m.address.SetValue(address.FormatDisplay(p, p.DefaultPath))
	m.address.Blur()
	if err := m.flow.UseProfile(p); err != nil {
		m.err = err
		return nil
	}
	return m.startDial()
}

func (m *ConnectModel) updateCredentials(msg tea.KeyMsg) (*ConnectModel, tea.Cmd) {
	visible := m.visibleInputs()
	switch msg.String() {
	case "ctrl+t":
		m.useKey = !m.useKey
		m.focusCredential(m.visibleInputs()[0])
		return m, textinput.Blink

	case "tab", "shift+tab", "up", "down":
		pos := 0
		for i, idx := range visible {
			if idx == m.focused {
				pos = i
			}
		}
		if msg.String() == "up" || msg.String() == "shift+tab" {
			pos--
		} else {
			pos++
		}
		pos = (pos + len(visible)) % len(visible)
		m.focusCredential(visible[pos])
		return m, nil

	case "enter":
		if err := m.flow.SubmitCredentials(m.credential()); err != nil {
			m.err = err
			return m, nil
		}
		m.err = nil
		return m, m.startDial()
	}

	var cmd tea.Cmd
	m.creds[m.focused], cmd = m.creds[m.focused].Update(msg)
	return m, cmd
}

// credential builds the typed credential
func (m *ConnectModel) credential() storage.Credential {
	if !m.useKey {
		return storage.PasswordCredential(m.creds[inputPassword].Value())
	}
	keyPath := strings.TrimSpace(m.creds[inputKeyPath].Value())
	if keyPath == "" {
		return storage.Credential{}
	}
	var passphrase *string
	if p := m.creds[inputPassphrase].Value(); p != "" {
		passphrase = &p
	}
	return storage.KeyFileCredential(remote.ExpandHome(keyPath), passphrase)
}

func (m *ConnectModel) startDial() tea.Cmd {
	m.step = stepConnecting
	for i := range m.creds {
		m.creds[i].Blur()
	}
	flow, dial := m.flow, m.dial
	m.connected = flow.Profile().Key().String()
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		s, err := flow.Connect(context.Background(), dial)
		return dialResultMsg{flow: flow, session: s, err: err}
	})
}

func (m *ConnectModel) handleDialResult(msg dialResultMsg) (*ConnectModel, tea.Cmd) {
	if msg.err != nil {
		if errors.Is(msg.err, connect.ErrCancelled) {
			return m, nil
		}
		m.step = stepFailed
		m.err = msg.err
		m.clearCredentials()
		return m, nil
	}

	m.clearCredentials()
	attach := connectAttachMsg{session: msg.session, path: m.flow.Path()}
	if m.flow.State() == connect.StateOfferSave {
		m.step = stepSave
		m.saveName.SetValue(m.flow.SuggestedName())
		m.saveName.Focus()
		attach.keepOpen = true
		return m, tea.Batch(func() tea.Msg { return attach }, textinput.Blink)
	}
	return m, func() tea.Msg { return attach }
}

func (m *ConnectModel) clearCredentials() {
	for i := range m.creds {
		m.creds[i].Reset()
	}
}

func (m *ConnectModel) updateSave(msg tea.KeyMsg) (*ConnectModel, tea.Cmd) {
	if msg.String() != "enter" {
		var cmd tea.Cmd
		m.saveName, cmd = m.saveName.Update(msg)
		return m, cmd
	}
	if err := m.flow.SaveProfile(m.saveName.Value()); err != nil {
		m.err = err
		return m, nil
	}
	return m, func() tea.Msg { return connectClosedMsg{} }
}

func (m *ConnectModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("🌐 Go to Address"))
	b.WriteString("\n\n")
	b.WriteString(m.address.View())
	b.WriteString("\n\n")

	switch m.step {
	case stepAddress:
		b.WriteString(helpStyle.Render("enter: go • esc: close"))

	case stepCredentials:
		mode := "password"
		if m.useKey {
			mode = "key file"
		}
		b.WriteString(dimStyle.Render(fmt.Sprintf("No saved profile. Authenticate with %s:", mode)))
		b.WriteString("\n\n")
		for _, i := range m.visibleInputs() {
			b.WriteString(m.creds[i].View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab: next • ctrl+t: password/key • enter: connect • esc: cancel"))

	case stepConnecting:
		b.WriteString(fmt.Sprintf("%s Connecting to %s...", m.spinner.View(), m.connected))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("esc: cancel"))

	case stepFailed:
		b.WriteString(helpStyle.Render("enter: try other credentials • esc: close"))

	case stepSave:
		b.WriteString(successStyle.Render("✓ Connected to " + m.connected))
		b.WriteString("\n\n")
		b.WriteString("Save this connection as a profile?\n\n")
		b.WriteString(m.saveName.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter: save • esc: don't save"))
	}

	if m.err != nil {
		b.WriteString("\n\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	return boxStyle.Render(b.String())
}
