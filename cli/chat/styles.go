package chat

import "github.com/charmbracelet/lipgloss"

// Layout constants
const (
	minTextareaHeight    = 3
	maxTextareaHeight    = 10
	defaultTextareaWidth = 80
	minViewportHeight    = 1
	textAreaPaddingLeft  = 1
	inputBorderHeight    = 2
	headerHeight         = 2
	helpMarginTop        = 1
)

var (
	messageHorizontalFrameSize = assistantMessageStyle.GetHorizontalFrameSize()

	// Color palette
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	secondaryColor = lipgloss.Color("#06B6D4") // Cyan
	accentColor    = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	textColor      = lipgloss.Color("#F9FAFB") // Light gray
	dimTextColor   = lipgloss.Color("#9CA3AF") // Dim gray
	messageColor   = lipgloss.Color("#E5E7EB")

	// Title bar style
	titleStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(textColor).
			Bold(true)

	userMessageStyle = lipgloss.NewStyle().
				Foreground(textColor).
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1).
				MarginLeft(10)

	assistantMessageStyle = lipgloss.NewStyle().
				Foreground(messageColor).
				Border(lipgloss.RoundedBorder()).
				BorderForeground(secondaryColor).
				Padding(0, 1).
				MarginRight(10)

	systemStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	deletedStyle = lipgloss.NewStyle().
			Foreground(dimTextColor).
			Italic(true)

	versionPillStyle = lipgloss.NewStyle().
				Foreground(dimTextColor)

	activeVersionPillStyle = lipgloss.NewStyle().
				Foreground(accentColor).
				Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	textAreaStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			PaddingLeft(textAreaPaddingLeft)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true).
			MarginTop(helpMarginTop)

	viewportStyle = lipgloss.NewStyle().Margin(0).Padding(0)
)
