package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/quocson95/duopane/pkg/backup"
	"github.com/quocson95/duopane/pkg/s3"
	"github.com/quocson95/duopane/pkg/storage"
)

const backupTimeout = 2 * time.Minute

// BackupModel uploads and restores sealed profile backups
type BackupModel struct {
	settingsStore *storage.SettingsStore
	inputs        []textinput.Model
	cursor        int
	focused       int
	spinner       spinner.Model
	inProgress    string
	statusMsg     string
	err           error
}

const (
	backupS3Host = iota
	backupS3AccessKey
	backupS3SecretKey
	backupPassword
)

// backupDoneMsg reports a finished backup or restore
type backupDoneMsg struct {
	restore bool
	key     string
	count   int
	err     error
}

// NewBackupModel creates a new backup model
func NewBackupModel(settingsStore *storage.SettingsStore) *BackupModel {
	settings := settingsStore.Get()

	inputs := make([]textinput.Model, 4)

	inputs[backupS3Host] = textinput.New()
	inputs[backupS3Host].Placeholder = "https://s3.amazonaws.com"
	inputs[backupS3Host].CharLimit = 256
	inputs[backupS3Host].Width = 60
	inputs[backupS3Host].Prompt = "S3 Host: "
	inputs[backupS3Host].SetValue(settings.S3Host)

	inputs[backupS3AccessKey] = textinput.New()
	inputs[backupS3AccessKey].Placeholder = "Access Key ID"
	inputs[backupS3AccessKey].CharLimit = 128
	inputs[backupS3AccessKey].Width = 40
	inputs[backupS3AccessKey].Prompt = "S3 Access Key: "
	inputs[backupS3AccessKey].SetValue(settings.S3AccessKey)

	inputs[backupS3SecretKey] = textinput.New()
	inputs[backupS3SecretKey].Placeholder = "Secret Access Key"
	inputs[backupS3SecretKey].CharLimit = 128
	inputs[backupS3SecretKey].Width = 40
	inputs[backupS3SecretKey].Prompt = "S3 Secret Key: "
	inputs[backupS3SecretKey].EchoMode = textinput.EchoPassword
	inputs[backupS3SecretKey].EchoCharacter = '•'
	inputs[backupS3SecretKey].SetValue(settings.S3SecretKey)

	inputs[backupPassword] = textinput.New()
	inputs[backupPassword].Placeholder = "Encryption password"
	inputs[backupPassword].CharLimit = 128
	inputs[backupPassword].Width = 40
	inputs[backupPassword].Prompt = "Backup Password: "
	inputs[backupPassword].EchoMode = textinput.EchoPassword
	inputs[backupPassword].EchoCharacter = '•'

	s := spinner.New()
	s.Spinner = spinner.Dot

	return &BackupModel{
		settingsStore: settingsStore,
		inputs:        inputs,
		focused:       -1,
		spinner:       s,
	}
}

func (m *BackupModel) Init() tea.Cmd {
	return nil
}

func (m *BackupModel) Update(msg tea.Msg) (*BackupModel, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if m.inProgress == "" {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case backupDoneMsg:
		m.inProgress = ""
		m.inputs[backupPassword].Reset()
		if msg.err != nil {
			m.err = msg.err
			m.statusMsg = ""
			return m, nil
		}
		m.err = nil
		if msg.restore {
			m.statusMsg = fmt.Sprintf("✓ Restored %d profiles from %s", msg.count, msg.key)
		} else {
			m.statusMsg = fmt.Sprintf("✓ Backed up %d profiles to %s", msg.count, msg.key)
		}
		return m, nil

	case tea.KeyMsg:
		if m.inProgress != "" {
			return m, nil
		}

		if msg.String() == "tab" || msg.String() == "shift+tab" {
			m.blur()
			if msg.String() == "tab" {
				m.cursor++
			} else {
				m.cursor--
			}
			maxIndex := len(m.inputs) + 1 // inputs + backup + restore
			if m.cursor > maxIndex {
				m.cursor = 0
			} else if m.cursor < 0 {
				m.cursor = maxIndex
			}
			if m.cursor < len(m.inputs) {
				m.focused = m.cursor
				m.inputs[m.focused].Focus()
			}
			return m, nil
		}

		if m.focused >= 0 {
			switch msg.String() {
			case "enter", "esc":
				m.blur()
				return m, nil
			}
			var cmd tea.Cmd
			m.inputs[m.focused], cmd = m.inputs[m.focused].Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "esc":
			return m, func() tea.Msg { return dialogClosedMsg{} }
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.inputs)+1 {
				m.cursor++
			}
		case "enter", " ":
			switch {
			case m.cursor < len(m.inputs):
				m.focused = m.cursor
				m.inputs[m.focused].Focus()
				return m, textinput.Blink
			case m.cursor == len(m.inputs):
				return m, m.start(false)
			default:
				return m, m.start(true)
			}
		case "b":
			return m, m.start(false)
		case "r":
			return m, m.start(true)
		}
	}
	return m, nil
}

func (m *BackupModel) blur() {
	if m.focused >= 0 {
		m.inputs[m.focused].Blur()
		m.focused = -1
	}
}

// start validates the form, remembers the S3 endpoint and runs the job
func (m *BackupModel) start(restore bool) tea.Cmd {
	cfg := s3.Config{
		Endpoint:  strings.TrimSpace(m.inputs[backupS3Host].Value()),
		AccessKey: strings.TrimSpace(m.inputs[backupS3AccessKey].Value()),
		SecretKey: m.inputs[backupS3SecretKey].Value(),
	}
	password := m.inputs[backupPassword].Value()

	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		m.err = errors.New("missing S3 configuration")
		return nil
	}
	if password == "" {
		m.err = errors.New("backup password is required")
		return nil
	}

	settings := m.settingsStore.Get()
	settings.S3Host, settings.S3AccessKey, settings.S3SecretKey = cfg.Endpoint, cfg.AccessKey, cfg.SecretKey
	if err := m.settingsStore.Update(settings); err != nil {
		m.err = err
		return nil
	}

	m.err = nil
	m.statusMsg = ""
	if restore {
		m.inProgress = "Restoring from encrypted backup..."
	} else {
		m.inProgress = "Creating encrypted backup..."
	}

	store := m.settingsStore
	job := func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
		defer cancel()
		if restore {
			return restoreProfiles(ctx, cfg, password, store)
		}
		return backupProfiles(ctx, cfg, password, store)
	}
	return tea.Batch(m.spinner.Tick, job)
}

func backupProfiles(ctx context.Context, cfg s3.Config, password string, store *storage.SettingsStore) backupDoneMsg {
	profiles := store.Profiles()
	blob, err := backup.Seal(profiles, password, backup.DefaultKDF)
	if err != nil {
		return backupDoneMsg{err: err}
	}
	client, err := s3.NewClient(ctx, cfg)
	if err != nil {
		return backupDoneMsg{err: fmt.Errorf("S3 connection failed: %w", err)}
	}
	key, err := client.Upload(ctx, blob)
	if err != nil {
		return backupDoneMsg{err: err}
	}
	return backupDoneMsg{key: key, count: len(profiles)}
}

func restoreProfiles(ctx context.Context, cfg s3.Config, password string, store *storage.SettingsStore) backupDoneMsg {
	client, err := s3.NewClient(ctx, cfg)
	if err != nil {
		return backupDoneMsg{restore: true, err: fmt.Errorf("S3 connection failed: %w", err)}
	}
	key, blob, err := client.Latest(ctx)
	if err != nil {
		return backupDoneMsg{restore: true, err: err}
	}
	profiles, err := backup.Open(blob, password)
	if err != nil {
		return backupDoneMsg{restore: true, key: key, err: err}
	}
	if err := store.ReplaceProfiles(profiles); err != nil {
		return backupDoneMsg{restore: true, key: key, err: err}
	}
	return backupDoneMsg{restore: true, key: key, count: len(profiles)}
}

func (m *BackupModel) View() string {
	var s string

	s += titleStyle.Render("☁️ Backup & Restore Profiles") + "\n\n"

	for i := range m.inputs {
		cursor := "  "
		if m.cursor == i && m.focused < 0 {
			cursor = "→ "
		}
		s += cursor + m.inputs[i].View() + "\n"
	}
	s += "\n"

	cursorBackup, styleBackup := " ", itemStyle
	if m.cursor == len(m.inputs) {
		cursorBackup, styleBackup = "→", selectedItemStyle
	}
	cursorRestore, styleRestore := " ", itemStyle
	if m.cursor == len(m.inputs)+1 {
		cursorRestore, styleRestore = "→", selectedItemStyle
	}
	s += fmt.Sprintf("%s%s    %s%s\n\n",
		cursorBackup, styleBackup.Render("⬆️  Backup to S3"),
		cursorRestore, styleRestore.Render("⬇️  Restore latest from S3"))

	s += helpStyle.Render("↑/k up • ↓/j down • enter: edit/select • b: backup • r: restore • esc: back") + "\n"

	if m.inProgress != "" {
		s += "\n" + m.spinner.View() + " " + m.inProgress
	} else if m.statusMsg != "" {
		s += "\n" + successStyle.Render(m.statusMsg)
	}
	if m.err != nil {
		s += "\n" + errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	}

	s += "\n\n"
	infoStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#626262")).
		Italic(true)
	s += infoStyle.Render("🔐 Backups are encrypted with Argon2id + AES-256-GCM")

	return boxStyle.Render(s)
}
