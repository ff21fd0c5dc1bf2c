package styles

import (
	"strings"
	"testing"

	glamourstyles "github.com/charmbracelet/glamour/styles"
)

func TestRender(t *testing.T) {
	for _, theme := range []string{ThemeVSCode, ThemeCharm, "unknown"} {
		t.Run(theme, func(t *testing.T) {
			out := Render("# Loops in main\n\nNo loop-shaped block triples found.\n", 80, theme)
			if !strings.Contains(out, "Loops") || !strings.Contains(out, "triples") {
				t.Errorf("Render() = %q", out)
			}
		})
	}
}

func TestPaint(t *testing.T) {
	if got := Paint(Address, false, "0x1000"); got != "0x1000" {
		t.Errorf("Paint() without color = %q", got)
	}
	if got := Paint(Block, true, "block 0"); !strings.Contains(got, "block 0") {
		t.Errorf("Paint() = %q", got)
	}
}

func TestVSCodeDarkStyle(t *testing.T) {
	base := *glamourstyles.DarkStyleConfig.Document.Color

	s := VSCodeDarkStyle()
	if got := *s.H1.Color; got != VSCodeHeading {
		t.Errorf("H1 color = %q, want %q", got, VSCodeHeading)
	}
	if got := *s.Code.Color; got != VSCodeInlineCode {
		t.Errorf("inline code color = %q, want %q", got, VSCodeInlineCode)
	}
	if s.CodeBlock.Chroma == nil {
		t.Errorf("code blocks lost their highlighting")
	}
	if got := *glamourstyles.DarkStyleConfig.Document.Color; got != base {
		t.Errorf("DarkStyleConfig document color changed to %q", got)
	}
}
