package ui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	Primary   = lipgloss.Color("#7D56F4") // purple
	Secondary = lipgloss.Color("#00D4AA") // teal

	Success = lipgloss.Color("#00D26A")
	Warning = lipgloss.Color("#FFB800")
	Error   = lipgloss.Color("#FF3838")
	Muted   = lipgloss.Color("#6B7280")
)

// Pre-configured styles.
var (
	BannerStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	VersionStyle = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	ConfigLabelStyle = lipgloss.NewStyle().
				Foreground(Muted).
				Width(15)

	ConfigValueStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FAFAFA"))

	// Bracketed metadata on live result lines.
	BracketStyle = lipgloss.NewStyle().
			Foreground(Muted)

	TimestampStyle = lipgloss.NewStyle().
			Foreground(Muted)

	UsernameStyle = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	IDStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FAFAFA"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	WarnStyle = lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true)

	FailStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	DividerStyle = lipgloss.NewStyle().
			Foreground(Muted)

	URLStyle = lipgloss.NewStyle().
			Foreground(Secondary).
			Underline(true)
)

// SourceStyle returns the style for a profile source badge.
func SourceStyle(source string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch source {
	case "passive":
		return base.Foreground(Secondary)
	case "fetch":
		return base.Foreground(Primary)
	default:
		return base.Foreground(Muted)
	}
}

// StatusCodeStyle returns the style for an HTTP status code.
func StatusCodeStyle(code int) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch {
	case code >= 200 && code < 300:
		return base.Foreground(Success)
	case code >= 400 && code < 500:
		return base.Foreground(Warning)
	case code >= 500:
		return base.Foreground(Error)
	default:
		return base.Foreground(Muted)
	}
}
