package ui

import (
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/sqlchat/pkg/chat"
	"github.com/go-go-golems/sqlchat/pkg/conversation"
)

const (
	TitleConnected = "NL2SQL Chat Assistant"
	TitleError     = "NL2SQL Chat"

	WelcomeTitle   = "Welcome to the NL2SQL Chat Assistant!"
	WelcomeHint    = "Ask me questions about your sales data in natural language."
	WelcomeExample = "Example: \"How many customers do we have?\" or \"What are our top selling products?\""

	ThinkingText = "Thinking..."
	RetryHint    = "Press r or enter to retry, q to quit."

	NoticeDraftKept = "Still waiting for the previous answer, your draft was kept"

	defaultHeight = 24
)

type initDoneMsg struct{ res chat.InitResult }

type sendDoneMsg struct{ res chat.SendResult }

type copiedMsg struct {
	text string
	err  error
}

type keyMap struct {
	Send     key.Binding
	Dismiss  key.Binding
	Retry    key.Binding
	Copy     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Quit     key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.Dismiss, k.Copy, k.Retry, k.PageUp, k.PageDown, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func defaultKeyMap() keyMap {
	return keyMap{
		Send:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Dismiss:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "dismiss")),
		Retry:    key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "reconnect")),
		Copy:     key.NewBinding(key.WithKeys("ctrl+y"), key.WithHelp("ctrl+y", "copy answer")),
		PageUp:   key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "scroll up")),
		PageDown: key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdn", "scroll down")),
		Quit:     key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

// ChatModel is the Bubble Tea model for the chat screen.
type ChatModel struct {
	session  *chat.Session
	input    InputModel
	viewport viewport.Model
	spinner  spinner.Model
	help     help.Model
	renderer *MessageRenderer
	keys     keyMap

	copy   func(string) error
	notice string

	width  int
	height int
}

type ModelOption func(*ChatModel)

// WithRenderer replaces the default plain-text renderer.
func WithRenderer(r *MessageRenderer) ModelOption {
	return func(m *ChatModel) { m.renderer = r }
}

// WithClipboard replaces the system clipboard writer.
func WithClipboard(fn func(string) error) ModelOption {
	return func(m *ChatModel) { m.copy = fn }
}

func NewChatModel(session *chat.Session, opts ...ModelOption) ChatModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	m := ChatModel{
		session:  session,
		input:    NewInputModel(),
		viewport: viewport.New(defaultWidth, defaultHeight),
		spinner:  sp,
		help:     help.New(),
		keys:     defaultKeyMap(),
		copy:     clipboard.WriteAll,
		width:    defaultWidth,
		height:   defaultHeight,
	}
	for _, opt := range opts {
		opt(&m)
	}
	if m.renderer == nil {
		m.renderer = NewMessageRenderer(defaultWidth)
	}
	m.resize(m.width, m.height)
	return m
}

// Session exposes the underlying chat session.
func (m ChatModel) Session() *chat.Session { return m.session }

// Close cancels any in-flight request.
func (m ChatModel) Close() { m.session.Close() }

func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(m.initialize(), m.spinner.Tick)
}

func (m ChatModel) initialize() tea.Cmd {
	req := m.session.BeginInitialize()
	ctx := m.session.Context()
	return func() tea.Msg {
		return initDoneMsg{res: req.Run(ctx)}
	}
}

func (m ChatModel) send(req chat.SendRequest) tea.Cmd {
	ctx := m.session.Context()
	return func() tea.Msg {
		return sendDoneMsg{res: req.Run(ctx)}
	}
}

func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case SubmitMsg:
		m.notice = ""
		req, ok := m.session.BeginSend(msg.Text)
		if !ok {
			// keep a refused draft so it can be sent once the answer is in
			if strings.TrimSpace(msg.Text) != "" && m.input.Value() == "" {
				m.input.SetValue(msg.Text)
				if m.session.Loading() {
					m.notice = NoticeDraftKept
				}
			}
			m.sync()
			return m, nil
		}
		m.sync()
		return m, tea.Batch(m.send(req), m.spinner.Tick)

	case initDoneMsg:
		m.session.CompleteInitialize(msg.res)
		m.sync()
		return m, nil

	case sendDoneMsg:
		m.session.CompleteSend(msg.res)
		m.sync()
		return m, nil

	case copiedMsg:
		switch {
		case msg.err != nil:
			m.notice = "Copy failed: " + msg.err.Error()
		case msg.text == "":
			m.notice = "Nothing to copy yet"
		default:
			m.notice = "Copied last answer to clipboard"
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refreshHistory()
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m ChatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.session.Close()
		return m, tea.Quit
	}

	if m.session.Status() == chat.StatusError {
		switch msg.String() {
		case "r", "enter", "ctrl+r":
			return m.retry()
		case "q", "esc":
			m.session.Close()
			return m, tea.Quit
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Retry):
		if m.session.Loading() {
			return m, nil
		}
		return m.retry()
	case key.Matches(msg, m.keys.Dismiss):
		m.session.DismissError()
		m.notice = ""
		m.sync()
		return m, nil
	case key.Matches(msg, m.keys.Copy):
		last, _ := conversation.LastAssistant(m.session.Messages())
		return m, m.copyText(last.Content)
	case key.Matches(msg, m.keys.PageUp, m.keys.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m ChatModel) retry() (tea.Model, tea.Cmd) {
	m.notice = ""
	cmd := m.initialize()
	m.sync()
	return m, tea.Batch(cmd, m.spinner.Tick)
}

func (m ChatModel) copyText(text string) tea.Cmd {
	write := m.copy
	return func() tea.Msg {
		if text == "" {
			return copiedMsg{}
		}
		return copiedMsg{text: text, err: write(text)}
	}
}

func (m ChatModel) busy() bool {
	return m.session.Loading() || m.session.Status() == chat.StatusConnecting
}

// sync pushes session state into the input and the history viewport.
func (m *ChatModel) sync() {
	m.input.SetDisabled(!m.session.CanSend())
	m.layout()
	m.refreshHistory()
	m.viewport.GotoBottom()
}

func (m *ChatModel) resize(width, height int) {
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}
	m.width, m.height = width, height
	m.renderer.SetWidth(width)
	m.input.SetWidth(width)
	m.help.Width = width
	m.viewport.Width = width
	m.sync()
}

func (m *ChatModel) layout() {
	used := lipgloss.Height(m.headerView()) + lipgloss.Height(m.input.View()) + lipgloss.Height(m.footerView())
	if banner := m.bannerView(); banner != "" {
		used += lipgloss.Height(banner)
	}
	h := m.height - used
	if h < 3 {
		h = 3
	}
	m.viewport.Height = h
}

func (m *ChatModel) refreshHistory() {
	m.viewport.SetContent(m.historyView())
}

func (m ChatModel) historyView() string {
	msgs := m.session.Messages()
	var b strings.Builder
	if len(msgs) == 0 {
		b.WriteString(m.welcomeView())
	} else {
		b.WriteString(m.renderer.RenderAll(msgs))
	}
	if m.session.Loading() {
		b.WriteString("\n\n")
		b.WriteString(m.spinner.View() + " " + thinkingStyle.Render(ThinkingText))
	}
	return b.String()
}

func (m ChatModel) welcomeView() string {
	w := m.width
	return lipgloss.JoinVertical(lipgloss.Center,
		"",
		emptyStateStyle.Width(w).Bold(true).Render(WelcomeTitle),
		emptyStateStyle.Width(w).Render(WelcomeHint),
		emptyHintStyle.Width(w).Render(WelcomeExample),
	)
}

func (m ChatModel) badge() string {
	switch m.session.Status() {
	case chat.StatusConnected:
		return badgeStyle.Background(colorConnected).Render("Connected")
	case chat.StatusError:
		return badgeStyle.Background(colorFailed).Render("Connection Error")
	default:
		return badgeStyle.Background(colorPending).Foreground(colorInk).Render("Connecting...")
	}
}

func (m ChatModel) headerView() string {
	title := TitleConnected
	if m.session.Status() == chat.StatusError {
		title = TitleError
	}
	left := headerStyle.Render(title)
	right := m.badge()
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func (m ChatModel) bannerView() string {
	errText := m.session.Error()
	if errText == "" {
		return ""
	}
	hint := "esc to dismiss"
	if m.session.Status() == chat.StatusError {
		hint = RetryHint
	}
	return errorBannerStyle.Width(m.width - 2).Render(errText + "\n" + hint)
}

func (m ChatModel) footerView() string {
	if m.notice != "" {
		return noticeStyle.Render(m.notice)
	}
	return m.help.View(m.keys)
}

func (m ChatModel) View() string {
	if m.session.Status() == chat.StatusError {
		return lipgloss.JoinVertical(lipgloss.Left, m.headerView(), m.bannerView())
	}

	parts := []string{m.headerView()}
	if banner := m.bannerView(); banner != "" {
		parts = append(parts, banner)
	}
	parts = append(parts, m.viewport.View(), m.input.View(), m.footerView())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
