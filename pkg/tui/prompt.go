package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// promptKind says what a submitted prompt value is used for
type promptKind int

const (
	promptMkdir promptKind = iota
	promptCreateFile
	promptRename
)

// PromptModel is a single line input shown over the panels
type PromptModel struct {
	kind  promptKind
	input textinput.Model
	title string
	err   error
}

// promptSubmittedMsg is sent when a prompt is confirmed or dismissed
type promptSubmittedMsg struct {
	kind      promptKind
	value     string
	cancelled bool
}

// NewPromptModel creates a focused prompt, optionally pre-filled
func NewPromptModel(kind promptKind, title, initial string) *PromptModel {
	input := textinput.New()
	input.CharLimit = 255
	input.Width = 50
	input.Prompt = "> "
	input.SetValue(initial)
	input.Focus()

	return &PromptModel{
		kind:  kind,
		input: input,
		title: title,
	}
}

func (m *PromptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *PromptModel) Update(msg tea.Msg) (*PromptModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "enter":
			value := strings.TrimSpace(m.input.Value())
			kind := m.kind
			return m, func() tea.Msg {
				return promptSubmittedMsg{kind: kind, value: value, cancelled: value == ""}
			}
		case "esc":
			kind := m.kind
			return m, func() tea.Msg {
				return promptSubmittedMsg{kind: kind, cancelled: true}
			}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// SetError shows err under the input and keeps the prompt open
func (m *PromptModel) SetError(err error) {
	m.err = err
}

func (m *PromptModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter: confirm • esc: cancel"))

	if m.err != nil {
		b.WriteString("\n\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	return boxStyle.Render(b.String())
}
