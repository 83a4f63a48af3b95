package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	PlaceholderIdle = "Ask me about your sales data..."
	PlaceholderBusy = "Processing..."

	sendLabel = "[ Send ]"
	busyLabel = "[ ... ]"
)

// SubmitMsg carries a trimmed, non-empty draft out of the input.
type SubmitMsg struct {
	Text string
}

// InputModel is the single-line composer under the history.
type InputModel struct {
	textInput textinput.Model
	disabled  bool
	width     int
}

func NewInputModel() InputModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = PlaceholderIdle
	ti.CharLimit = 4000
	ti.PromptStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	ti.PlaceholderStyle = lipgloss.NewStyle().Foreground(colorFaint)
	ti.Cursor.SetMode(cursor.CursorStatic)
	ti.Focus()

	m := InputModel{textInput: ti}
	m.SetWidth(defaultWidth)
	return m
}

func (m InputModel) Init() tea.Cmd { return nil }

func (m InputModel) Update(msg tea.Msg) (InputModel, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd
	}
	if m.disabled {
		return m, nil
	}

	if keyMsg.Type == tea.KeyEnter {
		// alt+enter is the newline chord; a single line has nowhere to put it
		if keyMsg.Alt {
			return m, nil
		}
		text := strings.TrimSpace(m.textInput.Value())
		if text == "" {
			return m, nil
		}
		m.textInput.Reset()
		return m, func() tea.Msg { return SubmitMsg{Text: text} }
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

// SetDisabled toggles the busy state. A disabled input ignores keys and
// shows the processing placeholder.
func (m *InputModel) SetDisabled(disabled bool) {
	if m.disabled == disabled {
		return
	}
	m.disabled = disabled
	if disabled {
		m.textInput.Blur()
		m.textInput.Placeholder = PlaceholderBusy
		return
	}
	m.textInput.Placeholder = PlaceholderIdle
	m.textInput.Focus()
}

func (m InputModel) Disabled() bool { return m.disabled }

func (m InputModel) Value() string { return m.textInput.Value() }

func (m *InputModel) SetValue(s string) { m.textInput.SetValue(s) }

func (m *InputModel) SetWidth(width int) {
	if width <= 0 {
		width = defaultWidth
	}
	m.width = width
	w := width - lipgloss.Width(m.textInput.Prompt) - lipgloss.Width(sendLabel) - 4
	if w < 10 {
		w = 10
	}
	m.textInput.Width = w
}

func (m InputModel) button() string {
	switch {
	case m.disabled:
		return buttonDisabledStyle.Render(busyLabel)
	case strings.TrimSpace(m.textInput.Value()) == "":
		return buttonDisabledStyle.Render(sendLabel)
	default:
		return buttonStyle.Render(sendLabel)
	}
}

func (m InputModel) View() string {
	row := lipgloss.JoinHorizontal(lipgloss.Center, m.textInput.View(), "  ", m.button())
	return inputBarStyle.Width(m.width).Render(row)
}
