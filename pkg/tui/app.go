package tui

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/quocson95/duopane/pkg/address"
	"github.com/quocson95/duopane/pkg/connect"
	"github.com/quocson95/duopane/pkg/panel"
	"github.com/quocson95/duopane/pkg/remote"
	"github.com/quocson95/duopane/pkg/storage"
	"github.com/quocson95/duopane/pkg/transfer"
)

// AppState represents the current screen/state of the application
type AppState int

const (
	StatePanels AppState = iota
	StateConnect
	StatePrompt
	StateConfirmDelete
	StateSettings
	StateBackup
	StateProfiles
)

const (
	maxTransfers = 2
	chanSize     = 64
)

// dialogClosedMsg returns from the settings, backup and profile screens
type dialogClosedMsg struct{}

// statusChangedMsg reports a remote session status transition
type statusChangedMsg struct {
	status remote.Status
	reason string
}

// AppModel is the root model. It owns both panels and the transfer queue.
type AppModel struct {
	state  AppState
	panels [2]*panel.Panel
	active int

	results  chan panel.Result
	updates  chan transfer.TaskUpdate
	statuses chan statusChangedMsg

	engine    *transfer.Engine
	queue     *transfer.Queue
	transfers *transferList
	// plans by ID, kept until their task finishes
	plans map[string]transfer.Plan

	settingsStore *storage.SettingsStore
	connectModel  *ConnectModel
	promptModel   *PromptModel
	settingsModel *SettingsModel
	backupModel   *BackupModel
	profilesModel *ProfilesModel
	pendingDelete panel.Entry

	statusMsg string
	err       error
	width     int
	height    int
}

// NewAppModel creates the application with both panels showing startDir
func NewAppModel(settingsStore *storage.SettingsStore, startDir string) *AppModel {
	settings := settingsStore.Get()
	results := make(chan panel.Result, chanSize)
	updates := make(chan transfer.TaskUpdate, chanSize)
	engine := transfer.NewEngine(nil, transfer.WithDisableRsync(settings.DisableRsync))

	m := &AppModel{
		state:         StatePanels,
		results:       results,
		updates:       updates,
		statuses:      make(chan statusChangedMsg, chanSize),
		engine:        engine,
		queue:         transfer.NewQueue(engine, maxTransfers, updates),
		transfers:     newTransferList(),
		plans:         make(map[string]transfer.Plan),
		settingsStore: settingsStore,
	}
	m.panels[0] = panel.New(0, nil, startDir, results)
	m.panels[1] = panel.New(1, nil, startDir, results)
	return m
}

func (m *AppModel) Init() tea.Cmd {
	return tea.Batch(m.waitForResult, m.waitForTaskUpdate, m.waitForStatus)
}

func (m *AppModel) waitForResult() tea.Msg {
	return <-m.results
}

func (m *AppModel) waitForTaskUpdate() tea.Msg {
	return <-m.updates
}

func (m *AppModel) waitForStatus() tea.Msg {
	return <-m.statuses
}

func (m *AppModel) activePanel() *panel.Panel { return m.panels[m.active] }
func (m *AppModel) otherPanel() *panel.Panel  { return m.panels[1-m.active] }

// Close disconnects both panels and stops the transfer queue
func (m *AppModel) Close() {
	m.queue.Close()
	for _, p := range m.panels {
		p.Close()
	}
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case panel.Result:
		m.applyResult(msg)
		return m, m.waitForResult

	case transfer.TaskUpdate:
		m.applyTaskUpdate(msg)
		return m, m.waitForTaskUpdate

	case statusChangedMsg:
		if msg.status == remote.StatusDisconnected {
			slog.Warn("remote session dropped", "reason", msg.reason)
		}
		return m, m.waitForStatus

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.Close()
			return m, tea.Quit
		}
	}

	switch m.state {
	case StateConnect:
		return m.updateConnect(msg)
	case StatePrompt:
		return m.updatePrompt(msg)
	case StateConfirmDelete:
		return m.updateConfirmDelete(msg)
	case StateSettings:
		return m.updateSettings(msg)
	case StateBackup:
		return m.updateBackup(msg)
	case StateProfiles:
		return m.updateProfiles(msg)
	default:
		return m.updatePanels(msg)
	}
}

func (m *AppModel) applyResult(r panel.Result) {
	for _, p := range m.panels {
		if !p.Apply(r) {
			continue
		}
		if r.Err != nil {
			slog.Error("panel operation failed", "panel", p.ID, "op", r.Op, "error", r.Err)
			continue
		}
		// Local copies land in the other panel
		if r.Op == panel.OpCopy || r.Op == panel.OpMove {
			m.panels[1-p.ID].Reload()
		}
	}
}

func (m *AppModel) applyTaskUpdate(u transfer.TaskUpdate) {
	m.transfers.apply(u)
	if !u.State.Done() {
		return
	}

	for _, p := range m.panels {
		p.TransferFinished(u)
	}

	plan, ok := m.plans[u.PlanID]
	delete(m.plans, u.PlanID)
	switch u.State {
	case transfer.TaskCompleted:
		m.statusMsg = fmt.Sprintf("Transferred %s", u.Name)
		if ok {
			m.reloadDestination(plan)
		}
	case transfer.TaskFailed:
		m.err = fmt.Errorf("transfer of %s failed: %s", u.Name, u.Error)
	}
}

// reloadDestination refreshes panels showing the directory a plan wrote to
func (m *AppModel) reloadDestination(plan transfer.Plan) {
	wantRemote := plan.Direction == transfer.Upload
	for _, p := range m.panels {
		if p.IsRemote() != wantRemote || p.Path() != plan.DestDir {
			continue
		}
		if wantRemote && p.Session().Profile().Key() != plan.Remote.Key() {
			continue
		}
		p.Reload()
	}
}

func (m *AppModel) updatePanels(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	p := m.activePanel()
	m.err = nil
	m.statusMsg = ""
	page := m.paneHeight() - 5
	if page < 1 {
		page = 1
	}

	switch key.String() {
	case "q":
		m.Close()
		return m, tea.Quit

	case "tab":
		m.active = 1 - m.active

	case "up", "k":
		p.MoveCursor(-1)
	case "down", "j":
		p.MoveCursor(1)
	case "pgup":
		p.MoveCursor(-page)
	case "pgdown":
		p.MoveCursor(page)
	case "home":
		p.SetCursor(0)
	case "end":
		p.SetCursor(len(p.Entries()) - 1)

	case "enter":
		if !p.Enter() {
			if e, ok := p.Selected(); ok {
				m.statusMsg = e.Name + " is not a directory"
			}
		}
	case "backspace", "left", "h":
		p.Up()
	case "r":
		p.ClearErr()
		p.Reload()

	case "s":
		k, desc := p.Sort()
		p.SetSort(k.Next(), desc)
	case "S":
		k, desc := p.Sort()
		p.SetSort(k, !desc)

	case "n":
		return m.openPrompt(promptMkdir, "📁 New Folder", "")
	case "f":
		return m.openPrompt(promptCreateFile, "📄 New File", "")
	case "R":
		e, ok := p.Selected()
		if !ok || e.IsParent() {
			m.err = panel.ErrNoSelection
			return m, nil
		}
		return m.openPrompt(promptRename, "✏️  Rename "+e.Name, e.Name)
	case "x", "delete":
		e, ok := p.Selected()
		if !ok || e.IsParent() {
			m.err = panel.ErrNoSelection
			return m, nil
		}
		m.pendingDelete = e
		m.state = StateConfirmDelete

	case "c", "m":
		m.copySelected(key.String() == "m")

	case "g", "ctrl+l":
		return m.openConnect()
	case "d":
		if p.IsRemote() {
			p.NavigateLocal(m.otherLocalPath())
		}

	case "C":
		m.queue.CancelAllTasks()
		m.statusMsg = "Cancelling transfers"

	case "o":
		m.settingsModel = NewSettingsModel(m.settingsStore)
		m.state = StateSettings
		return m, m.settingsModel.Init()
	case "b":
		m.backupModel = NewBackupModel(m.settingsStore)
		m.state = StateBackup
		return m, m.backupModel.Init()
	case "p":
		m.profilesModel = NewProfilesModel(m.settingsStore)
		m.state = StateProfiles
		return m, m.profilesModel.Init()
	}
	return m, nil
}

// otherLocalPath is where a detached panel lands, the other panel's
// directory when it is local
func (m *AppModel) otherLocalPath() string {
	if o := m.otherPanel(); !o.IsRemote() {
		return o.Path()
	}
	return "."
}

func (m *AppModel) copySelected(move bool) {
	task, err := m.activePanel().CopyTo(m.otherPanel(), m.queue, move)
	switch {
	case errors.Is(err, panel.ErrRemoteToRemote):
		m.err = errors.New("copying between two remote panels is not supported")
	case err != nil:
		m.err = err
	case task != nil:
		m.plans[task.Plan.ID] = task.Plan
		m.statusMsg = fmt.Sprintf("Queued %s", task.Plan.Name())
	}
}

func (m *AppModel) openPrompt(kind promptKind, title, initial string) (tea.Model, tea.Cmd) {
	m.promptModel = NewPromptModel(kind, title, initial)
	m.state = StatePrompt
	return m, m.promptModel.Init()
}

func (m *AppModel) updatePrompt(msg tea.Msg) (tea.Model, tea.Cmd) {
	if sub, ok := msg.(promptSubmittedMsg); ok {
		if sub.cancelled {
			m.state = StatePanels
			m.promptModel = nil
			return m, nil
		}
		p := m.activePanel()
		var err error
		switch sub.kind {
		case promptMkdir:
			err = p.Mkdir(sub.value)
		case promptCreateFile:
			err = p.CreateFile(sub.value)
		case promptRename:
			err = p.Rename(sub.value)
		}
		if err != nil {
			m.promptModel.SetError(err)
			return m, nil
		}
		m.state = StatePanels
		m.promptModel = nil
		return m, nil
	}

	var cmd tea.Cmd
	m.promptModel, cmd = m.promptModel.Update(msg)
	return m, cmd
}

func (m *AppModel) updateConfirmDelete(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "y", "Y":
		m.state = StatePanels
		p := m.activePanel()
		// The listing may have been refreshed behind the dialog
		idx := -1
		for i, e := range p.Entries() {
			if e.Name == m.pendingDelete.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			m.err = fmt.Errorf("%s is no longer listed", m.pendingDelete.Name)
			return m, nil
		}
		p.SetCursor(idx)
		if err := p.Remove(); err != nil {
			m.err = err
		}
	case "n", "N", "esc":
		m.state = StatePanels
	}
	return m, nil
}

func (m *AppModel) openConnect() (tea.Model, tea.Cmd) {
	if err := m.newConnect(); err != nil {
		m.err = err
		return m, nil
	}
	return m, m.connectModel.Init()
}

// newConnect prepares the connect dialog for the active panel
func (m *AppModel) newConnect() error {
	p := m.activePanel()
	att := connect.Attachment{Remote: p.IsRemote(), Cwd: p.Path()}
	initial := p.Path()
	if s := p.Session(); s != nil {
		att.Profile = s.Profile()
		initial = address.FormatDisplay(s.Profile(), p.Path())
	}

	dial, err := m.dialer()
	if err != nil {
		return err
	}
	m.connectModel = NewConnectModel(m.settingsStore, dial, att, initial)
	m.state = StateConnect
	return nil
}

// dialer builds a connect.Dialer from the current settings
func (m *AppModel) dialer() (connect.Dialer, error) {
	opts, err := remote.OptionsFromSettings(m.settingsStore.Get())
	if err != nil {
		return nil, err
	}
	statuses := m.statuses
	opts.OnStatusChange = func(status remote.Status, reason string) {
		select {
		case statuses <- statusChangedMsg{status: status, reason: reason}:
		default:
		}
	}
	return connect.RemoteDialer(opts), nil
}

func (m *AppModel) updateConnect(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case connectNavigateMsg:
		p := m.activePanel()
		if msg.local {
			if p.IsRemote() {
				p.NavigateLocal(msg.path)
			} else {
				p.Navigate(msg.path)
			}
		} else {
			p.Navigate(msg.path)
		}
		m.closeConnect()
		return m, nil

	case connectAttachMsg:
		m.activePanel().Attach(msg.session, msg.path)
		if !msg.keepOpen {
			m.closeConnect()
		}
		return m, nil

	case connectClosedMsg:
		m.closeConnect()
		return m, nil
	}

	var cmd tea.Cmd
	m.connectModel, cmd = m.connectModel.Update(msg)
	return m, cmd
}

func (m *AppModel) closeConnect() {
	m.state = StatePanels
	m.connectModel = nil
}

// paneHeight is the room left for each panel
func (m *AppModel) paneHeight() int {
	// title, help, status and the transfer list
	h := m.height - 6 - finishedKept - maxTransfers
	if h < 10 {
		h = 10
	}
	return h
}

func (m *AppModel) View() string {
	switch m.state {
	case StateConnect:
		return m.connectModel.View()
	case StateSettings:
		return m.settingsModel.View()
	case StateBackup:
		return m.backupModel.View()
	case StateProfiles:
		return m.profilesModel.View()
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("📁 duopane"))
	b.WriteString("\n")

	height := m.paneHeight()
	paneWidth := (m.width - 4) / 2
	if paneWidth < 30 {
		paneWidth = 30
	}

	var panes [2]string
	for i, p := range m.panels {
		style := inactivePaneStyle
		if i == m.active {
			style = activePaneStyle
		}
		panes[i] = style.Width(paneWidth).Height(height).Render(renderPanel(p, paneWidth, height))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, panes[0], "  ", panes[1]))
	b.WriteString("\n")

	if !m.transfers.empty() {
		b.WriteString(m.transfers.View())
		b.WriteString("\n")
	}

	switch err := m.currentErr(); {
	case err != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", err)))
	case m.statusMsg != "":
		b.WriteString(successStyle.Render(m.statusMsg))
	}
	b.WriteString("\n")

	b.WriteString(helpStyle.Render("tab: switch • enter: open • c/m: copy/move • n/f: new dir/file • R: rename • x: delete • g: go to • p: profiles • d: disconnect • s/S: sort • C: cancel • o: settings • b: backup • q: quit"))

	switch m.state {
	case StatePrompt:
		b.WriteString("\n\n")
		b.WriteString(m.promptModel.View())
	case StateConfirmDelete:
		msg := fmt.Sprintf("🗑️  Are you sure you want to PERMANENTLY delete:\n\n'%s'\n\n(y/n)", m.pendingDelete.Name)
		b.WriteString("\n\n")
		b.WriteString(dangerBoxStyle.Render(msg))
	}

	return b.String()
}

// currentErr prefers an app level error over the active panel's
func (m *AppModel) currentErr() error {
	if m.err != nil {
		return m.err
	}
	return m.activePanel().Err()
}
