package styles

import (
	"github.com/charmbracelet/glamour/ansi"
	glamourstyles "github.com/charmbracelet/glamour/styles"
)

// VS Code dark theme colors, shared by reports and listings.
const (
	VSCodeForeground = "#D4D4D4"
	VSCodeLink       = "#4FC1FF"
	VSCodeInlineCode = "#EACD53"
	VSCodeFunction   = "#DCDCAA"
	VSCodeComment    = "#6A9955"
	VSCodeHeading    = "#569CD6"
	VSCodeNumber     = "#B5CEA8"
	VSCodeLineNumber = "#858585"
)

// VSCodeDarkStyle is glamour's dark style recoloured for the elements the
// reports emit: headings, paragraphs, tables, bullet lists and code.
func VSCodeDarkStyle() ansi.StyleConfig {
	s := glamourstyles.DarkStyleConfig

	s.Document.Color = stringPtr(VSCodeForeground)
	s.Text.Color = stringPtr(VSCodeForeground)

	s.Heading.Color = stringPtr(VSCodeHeading)
	s.H1 = ansi.StyleBlock{
		StylePrimitive: ansi.StylePrimitive{
			Color: stringPtr(VSCodeHeading),
			Bold:  boolPtr(true),
		},
	}
	s.H2.Prefix = ""
	s.H2.Color = stringPtr(VSCodeFunction)

	s.Table.Color = stringPtr(VSCodeForeground)
	s.Item.BlockPrefix = "• "
	s.Item.Color = stringPtr(VSCodeForeground)

	s.Code.Prefix, s.Code.Suffix = "", ""
	s.Code.Color = stringPtr(VSCodeInlineCode)
	s.Code.BackgroundColor = nil
	s.CodeBlock.Color = stringPtr(VSCodeNumber)
	s.CodeBlock.Margin = uintPtr(2)

	s.Link.Color = stringPtr(VSCodeLink)
	s.LinkText.Color = stringPtr(VSCodeFunction)
	return s
}
