package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/sqlchat/pkg/conversation"
	"github.com/rs/zerolog/log"
)

const (
	defaultWidth     = 80
	minBubbleWidth   = 20
	bubbleWidthRatio = 0.7
)

// MessageRenderer turns a message into a chat bubble. Rendering has no side
// effects; the renderer only carries the layout width and the optional
// markdown renderer used for assistant replies.
type MessageRenderer struct {
	width         int
	markdownStyle string
	markdown      *glamour.TermRenderer
}

type RendererOption func(*MessageRenderer)

// WithMarkdown renders assistant replies as markdown using the given glamour
// style ("auto", "dark", "light", "notty", ...). "auto" is resolved here,
// before any program takes over the terminal.
func WithMarkdown(style string) RendererOption {
	return func(r *MessageRenderer) {
		if style == "auto" {
			style = "light"
			if lipgloss.HasDarkBackground() {
				style = "dark"
			}
		}
		r.markdownStyle = style
	}
}

func NewMessageRenderer(width int, opts ...RendererOption) *MessageRenderer {
	r := &MessageRenderer{}
	for _, opt := range opts {
		opt(r)
	}
	r.SetWidth(width)
	return r
}

func (r *MessageRenderer) Width() int { return r.width }

// SetWidth updates the layout width. The markdown renderer wraps at a fixed
// width, so it is rebuilt when the width changes.
func (r *MessageRenderer) SetWidth(width int) {
	if width <= 0 {
		width = defaultWidth
	}
	if width == r.width && (r.markdown != nil || r.markdownStyle == "") {
		return
	}
	r.width = width
	r.markdown = nil
	if r.markdownStyle == "" {
		return
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(r.markdownStyle),
		glamour.WithWordWrap(r.innerWidth()),
	)
	if err != nil {
		log.Warn().Err(err).Str("style", r.markdownStyle).Msg("markdown rendering disabled")
		return
	}
	r.markdown = md
}

func (r *MessageRenderer) bubbleWidth() int {
	w := int(float64(r.width) * bubbleWidthRatio)
	if w < minBubbleWidth {
		w = minBubbleWidth
	}
	if w > r.width {
		w = r.width
	}
	return w
}

// innerWidth is the bubble width minus its horizontal padding.
func (r *MessageRenderer) innerWidth() int {
	return r.bubbleWidth() - 2
}

// Render draws m as a labelled bubble, right-aligned for the user and
// left-aligned for the assistant.
func (r *MessageRenderer) Render(m conversation.Message) string {
	isUser := m.IsUser()

	label := "Assistant"
	bubble := assistantBubbleStyle
	pos := lipgloss.Left
	if isUser {
		label = "You"
		bubble = userBubbleStyle
		pos = lipgloss.Right
	}

	content := r.content(m)
	inner := r.innerWidth()
	if lipgloss.Width(content) > inner {
		content = lipgloss.NewStyle().Width(inner).Render(content)
	}
	body := bubble.Render(content)
	block := lipgloss.JoinVertical(pos, labelStyle.Render(label), body)
	return lipgloss.PlaceHorizontal(r.width, pos, block)
}

func (r *MessageRenderer) content(m conversation.Message) string {
	text := strings.TrimRight(m.Content, "\n ")
	if m.IsUser() || r.markdown == nil || text == "" {
		return text
	}
	out, err := r.markdown.Render(text)
	if err != nil {
		log.Debug().Err(err).Msg("markdown render failed, using raw text")
		return text
	}
	return strings.Trim(out, "\n")
}

// RenderAll renders msgs separated by blank lines. The index of a message is
// its identity; messages are never reordered.
func (r *MessageRenderer) RenderAll(msgs []conversation.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, r.Render(m))
	}
	return strings.Join(parts, "\n\n")
}
