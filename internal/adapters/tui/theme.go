package tui

import "github.com/charmbracelet/lipgloss"

type theme struct {
	panel       lipgloss.Style
	activePanel lipgloss.Style
	title       lipgloss.Style
	text        lipgloss.Style
	muted       lipgloss.Style
	ok          lipgloss.Style
	warn        lipgloss.Style
	danger      lipgloss.Style
	info        lipgloss.Style
	user        lipgloss.Style
	assistant   lipgloss.Style
	badge       lipgloss.Style
	help        lipgloss.Style
}

func newTheme() theme {
	return theme{
		panel: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#3D4752")).
			Padding(0, 1),
		activePanel: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#65B5FF")).
			Padding(0, 1),
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#9FD3FF")),
		text: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D7DBE0")),
		muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6E7B88")),
		ok: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#63C17A")),
		warn: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E7B65A")),
		danger: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E06B75")),
		info: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#65B5FF")),
		user: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#9FD3FF")),
		assistant: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#63C17A")),
		badge: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#0E1116")).
			Background(lipgloss.Color("#E06B75")).
			Padding(0, 1),
		help: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8FA0B3")),
	}
}
