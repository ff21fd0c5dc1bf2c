package elfx

import (
	"debug/elf"
	"errors"
	"os"
	"runtime"
	"testing"
)

func TestArchFor(t *testing.T) {
	tests := []struct {
		machine elf.Machine
		mode    int
		want    string
		wantErr error
	}{
		{elf.EM_386, 0, "x86-32", nil},
		{elf.EM_X86_64, 0, "x86-64", nil},
		{elf.EM_X86_64, 32, "x86-32", nil},
		{elf.EM_AARCH64, 0, "arm64", nil},
		{elf.EM_MIPS, 0, "", ErrUnsupportedArch},
	}

	for _, tt := range tests {
		t.Run(tt.machine.String(), func(t *testing.T) {
			arch, err := ArchFor(tt.machine, tt.mode)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ArchFor() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ArchFor() error = %v", err)
			}
			if arch.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", arch.Name(), tt.want)
			}
		})
	}
}

func TestOpenMissing(t *testing.T) {
	if _, err := Open("/nonexistent/binary"); err == nil {
		t.Fatal("Open() succeeded on a missing file")
	}
}

// The test binary itself is an ELF file with a symbol table on Linux.
func TestOpenSelf(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("test binary is not ELF")
	}
	exe, err := os.Executable()
	if err != nil {
		t.Skip(err)
	}

	im, err := Open(exe)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer im.Close()

	if im.Text.Size == 0 {
		t.Fatal("no text section")
	}
	code, err := im.Code(im.Text)
	if err != nil {
		t.Fatalf("Code() error = %v", err)
	}
	if uint64(len(code)) != im.Text.Size {
		t.Errorf("Code() returned %d bytes, want %d", len(code), im.Text.Size)
	}

	sym, body, err := im.Function("main.main")
	if err != nil {
		t.Fatalf("Function() error = %v", err)
	}
	if uint64(len(body)) != sym.Size {
		t.Errorf("Function() returned %d bytes, want %d", len(body), sym.Size)
	}
	if got, ok := im.SymbolAt(sym.Addr); !ok || got.Name != sym.Name {
		t.Errorf("SymbolAt(%#x) = %q, %v", sym.Addr, got.Name, ok)
	}

	if _, _, err := im.Function("no.such.function"); !errors.Is(err, ErrNoSymbol) {
		t.Errorf("Function() error = %v, want ErrNoSymbol", err)
	}

	if err := im.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
