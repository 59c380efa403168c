package session

import "github.com/charmbracelet/lipgloss"

// Theme styles each kind of output line.
type Theme struct {
	User   lipgloss.Style
	Self   lipgloss.Style
	Model  lipgloss.Style
	System lipgloss.Style
	Note   lipgloss.Style
	Muted  lipgloss.Style
	Error  lipgloss.Style
}

func DefaultTheme() Theme {
	return Theme{
		User:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		Self:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		Model:  lipgloss.NewStyle().Foreground(lipgloss.Color("213")),
		System: lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true),
		Note: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		Muted: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Error: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// PlainTheme renders without colors or borders.
func PlainTheme() Theme {
	s := lipgloss.NewStyle()
	return Theme{User: s, Self: s, Model: s, System: s, Note: s, Muted: s, Error: s}
}
