package ui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary   = lipgloss.Color("#007bff")
	colorConnected = lipgloss.Color("#28a745")
	colorFailed    = lipgloss.Color("#dc3545")
	colorPending   = lipgloss.Color("#ffc107")
	colorMuted     = lipgloss.Color("244")
	colorFaint     = lipgloss.Color("240")
	colorBubble    = lipgloss.Color("#f1f3f4")
	colorInk       = lipgloss.Color("#333333")
	colorErrorBg   = lipgloss.Color("#f8d7da")
	colorErrorFg   = lipgloss.Color("#721c24")
	colorWhite     = lipgloss.Color("#ffffff")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite).
			Background(colorPrimary).
			Padding(0, 1)

	badgeStyle = lipgloss.NewStyle().
			Foreground(colorWhite).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	userBubbleStyle = lipgloss.NewStyle().
			Foreground(colorWhite).
			Background(colorPrimary).
			Padding(0, 1)

	assistantBubbleStyle = lipgloss.NewStyle().
				Foreground(colorInk).
				Background(colorBubble).
				Padding(0, 1)

	errorBannerStyle = lipgloss.NewStyle().
				Foreground(colorErrorFg).
				Background(colorErrorBg).
				Border(lipgloss.NormalBorder()).
				BorderForeground(colorFailed).
				Padding(0, 1)

	buttonStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite).
			Background(colorPrimary).
			Padding(0, 1)

	buttonDisabledStyle = lipgloss.NewStyle().
				Foreground(colorWhite).
				Background(colorFaint).
				Padding(0, 1)

	emptyStateStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Align(lipgloss.Center)

	emptyHintStyle = lipgloss.NewStyle().
			Foreground(colorFaint).
			Align(lipgloss.Center)

	thinkingStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	inputBarStyle = lipgloss.NewStyle().
			BorderTop(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(colorFaint)

	noticeStyle = lipgloss.NewStyle().
			Foreground(colorConnected)

	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
)
