// Package colorize highlights disassembly listings with chroma. Setting
// BINA_NO_COLOR disables it.
package colorize

import (
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Enabled reports whether colors are on.
func Enabled() bool {
	return os.Getenv("BINA_NO_COLOR") == ""
}

// lexerFor returns an assembly lexer for the backend name, with fallbacks.
func lexerFor(arch string) chroma.Lexer {
	candidates := []string{"gas", "nasm"}
	if strings.HasPrefix(arch, "arm") {
		candidates = []string{"armasm", "gas"}
	}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getDisasmStyle returns the disassembly style with fallbacks
func getDisasmStyle() *chroma.Style {
	candidates := []string{"bina-listing", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Assembly highlights a block of instruction text for the given backend.
// On any failure the input is returned with the error.
func Assembly(code, arch string) (string, error) {
	if !Enabled() {
		return code, nil
	}
	lexer := lexerFor(arch)
	if lexer == nil {
		return code, nil
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getDisasmStyle(), iterator); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// Instruction highlights the text of one instruction, dropping the trailing
// newline some lexers add.
func Instruction(text, arch string) string {
	out, err := Assembly(text, arch)
	if err != nil {
		return text
	}
	return strings.TrimSuffix(out, "\n")
}

// Strip removes ANSI escape sequences.
func Strip(s string) string {
	var result strings.Builder
	inEscape := false

	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
		} else if inEscape {
			if r == 'm' {
				inEscape = false
			}
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}
