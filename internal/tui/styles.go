package tui

import "github.com/charmbracelet/lipgloss"

// styles contains pre-built Lipgloss styles for the feed view.
type styles struct {
	Header    lipgloss.Style
	Footer    lipgloss.Style
	Tab       lipgloss.Style
	ActiveTab lipgloss.Style
	Selected  lipgloss.Style
	Muted     lipgloss.Style
	Accent    lipgloss.Style
	Danger    lipgloss.Style
	Banner    lipgloss.Style

	status map[string]lipgloss.Style
}

func newStyles() styles {
	return styles{
		Header: lipgloss.NewStyle().
			Background(lipgloss.Color("#282a36")).
			Foreground(lipgloss.Color("#f8f8f2")).
			Bold(true).
			Padding(0, 1),
		Footer: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272a4")).
			Padding(0, 1),
		Tab: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272a4")).
			Padding(0, 1),
		ActiveTab: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#282a36")).
			Background(lipgloss.Color("#bd93f9")).
			Bold(true).
			Padding(0, 1),
		Selected: lipgloss.NewStyle().
			Background(lipgloss.Color("#44475a")).
			Foreground(lipgloss.Color("#f8f8f2")),
		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272a4")),
		Accent: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8be9fd")),
		Danger: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ff5555")).
			Bold(true),
		Banner: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#282a36")).
			Background(lipgloss.Color("#ffb86c")).
			Padding(0, 1),
		status: map[string]lipgloss.Style{
			"pending":  lipgloss.NewStyle().Foreground(lipgloss.Color("#f1fa8c")),
			"answered": lipgloss.NewStyle().Foreground(lipgloss.Color("#50fa7b")),
			"rejected": lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5555")),
		},
	}
}

// Status returns the badge style for a question status.
func (s styles) Status(status string) lipgloss.Style {
	if st, ok := s.status[status]; ok {
		return st
	}
	return s.Muted
}
