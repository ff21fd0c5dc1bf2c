// Package styles holds the terminal styling of bina reports and listings.
package styles

import (
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/x/exp/charmtone"
)

func boolPtr(b bool) *bool       { return &b }
func stringPtr(s string) *string { return &s }
func uintPtr(u uint) *uint       { return &u }

// Themes accepted by MarkdownRenderer.
const (
	ThemeVSCode = "vscode"
	ThemeCharm  = "charm"
)

// MarkdownRenderer returns a glamour renderer for analysis reports. Unknown
// themes fall back to ThemeVSCode.
func MarkdownRenderer(width int, theme string) (*glamour.TermRenderer, error) {
	style := VSCodeDarkStyle()
	if theme == ThemeCharm {
		style = CharmStyle()
	}
	return glamour.NewTermRenderer(
		glamour.WithStyles(style),
		glamour.WithWordWrap(width),
	)
}

// Render renders markdown with MarkdownRenderer, returning md unchanged if
// rendering fails.
func Render(md string, width int, theme string) string {
	r, err := MarkdownRenderer(width, theme)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

// CharmStyle is VSCodeDarkStyle recoloured with the charmtone palette.
func CharmStyle() ansi.StyleConfig {
	s := VSCodeDarkStyle()
	s.Document.Color = stringPtr(charmtone.Smoke.Hex())
	s.Text.Color = stringPtr(charmtone.Smoke.Hex())
	s.Heading.Color = stringPtr(charmtone.Malibu.Hex())
	s.H1 = ansi.StyleBlock{
		StylePrimitive: ansi.StylePrimitive{
			Prefix:          " ",
			Suffix:          " ",
			Color:           stringPtr(charmtone.Zest.Hex()),
			BackgroundColor: stringPtr(charmtone.Charple.Hex()),
			Bold:            boolPtr(true),
		},
	}
	s.H2.Color = stringPtr(charmtone.Malibu.Hex())
	s.Code.Color = stringPtr(charmtone.Guac.Hex())
	s.CodeBlock.Color = stringPtr(charmtone.Guac.Hex())
	s.Link.Color = stringPtr(charmtone.Zinc.Hex())
	s.LinkText.Color = stringPtr(charmtone.Guac.Hex())
	s.Table.Color = stringPtr(charmtone.Smoke.Hex())
	s.Item.Color = stringPtr(charmtone.Smoke.Hex())
	return s
}
