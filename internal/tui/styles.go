package tui

import "github.com/charmbracelet/lipgloss"

// Colors used throughout the TUI.
var (
	ColorRed     = lipgloss.Color("#EF4444")
	ColorGreen   = lipgloss.Color("#10B981")
	ColorYellow  = lipgloss.Color("#F59E0B")
	ColorAccent  = lipgloss.Color("#8B5CF6")
	ColorGray    = lipgloss.Color("#666666")
	ColorDimGray = lipgloss.Color("#444444")
	ColorWhite   = lipgloss.Color("#FFFFFF")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	RecordingDotStyle = lipgloss.NewStyle().
				Foreground(ColorRed).
				Bold(true)

	IdleDotStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	TimerStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Bold(true)

	WaveRecordingStyle = lipgloss.NewStyle().
				Foreground(ColorRed)

	WaveIdleStyle = lipgloss.NewStyle().
			Foreground(ColorDimGray)

	WaveSelectedStyle = lipgloss.NewStyle().
				Foreground(ColorAccent)

	PlayheadStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Bold(true)

	PlayingStyle = lipgloss.NewStyle().
			Foreground(ColorGreen).
			Bold(true)

	HandleStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	ActiveHandleStyle = lipgloss.NewStyle().
				Foreground(ColorYellow).
				Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorGreen).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	DimStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	SelectedStyle = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	FooterKeyStyle = lipgloss.NewStyle().
			Foreground(ColorYellow).
			Bold(true)

	FooterDescStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	DividerStyle = lipgloss.NewStyle().
			Foreground(ColorDimGray)

	LevelGreenStyle = lipgloss.NewStyle().
			Foreground(ColorGreen)

	LevelYellowStyle = lipgloss.NewStyle().
				Foreground(ColorYellow)

	LevelRedStyle = lipgloss.NewStyle().
			Foreground(ColorRed)

	LevelGrayStyle = lipgloss.NewStyle().
			Foreground(ColorGray)
)
