package colorize

import (
	"strings"
	"testing"
)

func TestNoColor(t *testing.T) {
	t.Setenv("BINA_NO_COLOR", "1")

	if Enabled() {
		t.Fatalf("Enabled() = true with BINA_NO_COLOR set")
	}
	if got := Instruction("cmp $0xa,%eax", "x86-32"); got != "cmp $0xa,%eax" {
		t.Errorf("Instruction() = %q", got)
	}
}

func TestInstruction(t *testing.T) {
	t.Setenv("BINA_NO_COLOR", "")

	tests := []struct {
		arch string
		text string
	}{
		{"x86-64", "jmp 0x401000"},
		{"arm64", "b.ge 0x10"},
		{"dalvik", "if-ge v0, v1, +5"},
	}
	for _, tt := range tests {
		t.Run(tt.arch, func(t *testing.T) {
			got := Instruction(tt.text, tt.arch)
			if plain := Strip(got); strings.TrimSpace(plain) != tt.text {
				t.Errorf("Strip(Instruction(%q)) = %q", tt.text, plain)
			}
		})
	}
}

func TestStyleRegistered(t *testing.T) {
	if getDisasmStyle().Name != "bina-listing" {
		t.Errorf("style = %q, want bina-listing", getDisasmStyle().Name)
	}
}
