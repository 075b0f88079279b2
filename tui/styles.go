package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorFgPrimary = lipgloss.Color("#ABB2BF")
	ColorFgMuted   = lipgloss.Color("#636B78")
	ColorRed       = lipgloss.Color("#E06C75")
	ColorGreen     = lipgloss.Color("#98C379")
	ColorBlue      = lipgloss.Color("#61AFEF")
	ColorMagenta   = lipgloss.Color("#C678DD")
	ColorBorder    = lipgloss.Color("#3F4451")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(ColorMagenta).
			Bold(true).
			PaddingLeft(1)

	FileStyle = lipgloss.NewStyle().
			Foreground(ColorBlue).
			PaddingLeft(1)

	NoFileStyle = lipgloss.NewStyle().
			Foreground(ColorFgMuted).
			PaddingLeft(1)

	StatusStyle = lipgloss.NewStyle().
			Foreground(ColorFgPrimary).
			PaddingLeft(1)

	StatusFailedStyle = lipgloss.NewStyle().
				Foreground(ColorRed).
				PaddingLeft(1)

	StatusReadyStyle = lipgloss.NewStyle().
				Foreground(ColorGreen).
				PaddingLeft(1)

	PromptStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	PromptTitleStyle = lipgloss.NewStyle().
				Foreground(ColorMagenta).
				Bold(true)

	HelpKeyStyle = lipgloss.NewStyle().
			Foreground(ColorFgPrimary)

	HelpDisabledStyle = lipgloss.NewStyle().
				Foreground(ColorFgMuted).
				Strikethrough(true)

	HelpDescStyle = lipgloss.NewStyle().
			Foreground(ColorFgMuted)
)
