package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bina/internal/disasm"
	"bina/internal/disasm/arm64"
	"bina/internal/disasm/dalvik"
	"bina/internal/disasm/x86"
	"bina/internal/elfx"
)

// target is a code buffer opened for analysis.
type target struct {
	ctx  *disasm.Context
	img  *elfx.Image // nil for raw files
	path string
	name string // function or section
	va   uint64 // address of the first byte of code
}

func (t *target) Close() {
	t.ctx.Close()
	if t.img != nil {
		t.img.Close()
	}
}

// addCodeFlags registers the flags selecting what to load.
func addCodeFlags(c *cobra.Command) {
	c.Flags().StringP("func", "f", "", "Analyze one function symbol instead of the whole section")
	c.Flags().Bool("raw", false, "Treat the file as raw code (requires --arch)")
	c.Flags().String("arch", "", "Backend for raw code: x86, x86-64, arm64 or dalvik")
	c.Flags().Uint64("va", 0, "Address of the first byte of raw code")
}

// archByName returns the backend called name.
func archByName(name string) (disasm.Arch, error) {
	switch name {
	case "x86", "x86-32", "i386":
		return x86.New(32)
	case "x86-64", "amd64":
		return x86.New(64)
	case "arm64", "aarch64":
		return arm64.New(), nil
	case "dalvik":
		return dalvik.New(), nil
	}
	return nil, fmt.Errorf("unknown architecture %q", name)
}

func openTarget(cmd *cobra.Command, path string) (*target, error) {
	raw, _ := cmd.Flags().GetBool("raw")
	archName, _ := cmd.Flags().GetString("arch")
	fn, _ := cmd.Flags().GetString("func")

	if raw || archName != "" {
		if archName == "" {
			return nil, fmt.Errorf("--raw requires --arch")
		}
		va, _ := cmd.Flags().GetUint64("va")
		return openRaw(path, archName, va)
	}
	return openELF(path, fn)
}

func openRaw(path, archName string, va uint64) (*target, error) {
	arch, err := archByName(archName)
	if err != nil {
		return nil, err
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	ctx, err := disasm.New(arch, code, disasm.WithBase(va), disasm.WithLogger(logger.Logger))
	if err != nil {
		return nil, err
	}
	return &target{ctx: ctx, path: path, name: "raw", va: va}, nil
}

func openELF(path, fn string) (*target, error) {
	img, err := elfx.Open(path)
	if err != nil {
		return nil, err
	}
	t, err := loadELF(img, fn)
	if err != nil {
		img.Close()
		return nil, err
	}
	t.path = path
	return t, nil
}

func loadELF(img *elfx.Image, fn string) (*target, error) {
	arch, err := img.Arch(conf.Mode)
	if err != nil {
		return nil, err
	}

	var (
		code []byte
		name string
		va   uint64
	)
	if fn != "" {
		sym, buf, err := img.Function(fn)
		if err != nil {
			return nil, err
		}
		code, name, va = buf, sym.Demangled, sym.Addr
	} else {
		// img.Text already falls back to the executable segment.
		sec := img.Text
		if conf.Section != ".text" && conf.Section != sec.Name {
			s, ok := img.Section(conf.Section)
			if !ok {
				return nil, fmt.Errorf("no section %s", conf.Section)
			}
			sec = s
		}
		if code, err = img.Code(sec); err != nil {
			return nil, err
		}
		name, va = sec.Name, sec.VA
	}

	ctx, err := disasm.New(arch, code, disasm.WithBase(va), disasm.WithLogger(logger.Logger))
	if err != nil {
		return nil, err
	}
	return &target{ctx: ctx, img: img, name: name, va: va}, nil
}
