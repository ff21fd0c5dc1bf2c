package styles

import "github.com/charmbracelet/lipgloss/v2"

// Listing styles.
var (
	Address = lipgloss.NewStyle().Foreground(lipgloss.Color(VSCodeLineNumber))
	Block   = lipgloss.NewStyle().Foreground(lipgloss.Color(VSCodeHeading)).Bold(true)
	Leader  = lipgloss.NewStyle().Foreground(lipgloss.Color(VSCodeFunction))
	Target  = lipgloss.NewStyle().Foreground(lipgloss.Color(VSCodeNumber))
	Note    = lipgloss.NewStyle().Foreground(lipgloss.Color(VSCodeComment)).Italic(true)
)

// Paint renders text with st, or returns it untouched when color is off.
func Paint(st lipgloss.Style, color bool, text string) string {
	if !color {
		return text
	}
	return st.Render(text)
}
