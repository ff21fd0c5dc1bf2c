// Package elfx opens ELF binaries, locates code sections, maps virtual
// addresses to file offsets, and picks the disassembler backend for the
// machine type.
package elfx

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/ianlancetaylor/demangle"
	"golang.org/x/sys/unix"

	"bina/internal/disasm"
	"bina/internal/disasm/arm64"
	"bina/internal/disasm/x86"
)

var (
	ErrNoCode          = errors.New("no executable code")
	ErrUnsupportedArch = errors.New("unsupported machine")
	ErrNoSymbol        = errors.New("symbol not found")
)

type Image struct {
	Path    string
	File    *elf.File
	All     []byte
	Loads   []Seg
	Text    Section
	Symbols []Symbol
	f       *os.File
}

type Seg struct {
	Vaddr, Off, Filesz uint64
	Flags              elf.ProgFlag
}

type Section struct {
	Name          string
	VA, Off, Size uint64
}

// Symbol is a function symbol. Demangled equals Name for C symbols.
type Symbol struct {
	Name      string
	Demangled string
	Addr      uint64
	Size      uint64
}

func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}

	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	all, err := unix.Mmap(int(of.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	im := &Image{Path: path, File: f, All: all, f: of}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Flags:  p.Flags,
		})
	}

	if s, ok := im.Section(".text"); ok {
		im.Text = s
	}
	// Stripped section headers: fall back to the first executable segment.
	if im.Text.Size == 0 {
		for _, l := range im.Loads {
			if l.Flags&elf.PF_X != 0 && l.Filesz > 0 {
				im.Text = Section{"LOAD(exec)", l.Vaddr, l.Off, l.Filesz}
				break
			}
		}
	}

	im.loadSymbols()
	return im, nil
}

// Close unmaps the memory and closes the underlying files.
func (im *Image) Close() error {
	var err1, err2 error
	if im.All != nil {
		err1 = unix.Munmap(im.All)
		im.All = nil
	}
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if im.File != nil {
		err3 := im.File.Close()
		if err3 != nil && err2 == nil {
			err2 = err3
		}
		im.File = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// Section looks up a section header by name.
func (im *Image) Section(name string) (Section, bool) {
	s := im.File.Section(name)
	if s == nil || s.Type == elf.SHT_NOBITS {
		return Section{}, false
	}
	return Section{s.Name, s.Addr, s.Offset, s.Size}, true
}

// VA2Off translates a virtual address into a file offset
// using PT_LOAD segments. It returns false if VA is unmapped.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va < l.Vaddr+l.Filesz {
			return l.Off + (va - l.Vaddr), true
		}
	}
	return 0, false
}

// SliceVA returns a subslice of the mapped file corresponding to the virtual address range [va, va+size).
// It returns (nil, false) if the VA is unmapped or the range is out of bounds.
func (im *Image) SliceVA(va uint64, size uint64) ([]byte, bool) {
	off, ok := im.VA2Off(va)
	if !ok {
		return nil, false
	}
	if size == 0 {
		return []byte{}, true
	}
	end := off + size
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end], true
}

// Code returns the bytes of sec, borrowed from the mapping.
func (im *Image) Code(sec Section) ([]byte, error) {
	if sec.Size == 0 {
		return nil, fmt.Errorf("%s: %w", sec.Name, ErrNoCode)
	}
	end := sec.Off + sec.Size
	if end > uint64(len(im.All)) {
		return nil, fmt.Errorf("%s: extends past end of file", sec.Name)
	}
	return im.All[sec.Off:end], nil
}

// Arch returns the backend for the file's machine. For x86 a non-zero
// mode overrides the width implied by the ELF class.
func (im *Image) Arch(mode int) (disasm.Arch, error) {
	return ArchFor(im.File.Machine, mode)
}

func ArchFor(machine elf.Machine, mode int) (disasm.Arch, error) {
	switch machine {
	case elf.EM_386:
		if mode == 0 {
			mode = 32
		}
		return x86.New(mode)
	case elf.EM_X86_64:
		if mode == 0 {
			mode = 64
		}
		return x86.New(mode)
	case elf.EM_AARCH64:
		return arm64.New(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedArch, machine)
}

// loadSymbols collects defined function symbols from .symtab and .dynsym,
// sorted by address.
func (im *Image) loadSymbols() {
	seen := make(map[string]bool)
	add := func(syms []elf.Symbol) {
		for _, sym := range syms {
			if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Value == 0 || seen[sym.Name] {
				continue
			}
			seen[sym.Name] = true
			im.Symbols = append(im.Symbols, Symbol{
				Name:      sym.Name,
				Demangled: demangle.Filter(sym.Name),
				Addr:      sym.Value,
				Size:      sym.Size,
			})
		}
	}

	// Either table may be absent (stripped or static binaries).
	if syms, err := im.File.Symbols(); err == nil {
		add(syms)
	}
	if syms, err := im.File.DynamicSymbols(); err == nil {
		add(syms)
	}

	sort.SliceStable(im.Symbols, func(i, j int) bool {
		return im.Symbols[i].Addr < im.Symbols[j].Addr
	})
}

// Lookup finds a function symbol by raw or demangled name.
func (im *Image) Lookup(name string) (Symbol, bool) {
	for _, sym := range im.Symbols {
		if sym.Name == name || sym.Demangled == name {
			return sym, true
		}
	}
	return Symbol{}, false
}

// SymbolAt returns the function symbol covering va.
func (im *Image) SymbolAt(va uint64) (Symbol, bool) {
	i := sort.Search(len(im.Symbols), func(i int) bool {
		return im.Symbols[i].Addr > va
	})
	if i == 0 {
		return Symbol{}, false
	}
	sym := im.Symbols[i-1]
	if va >= sym.Addr+max(sym.Size, 1) {
		return Symbol{}, false
	}
	return sym, true
}

// Function returns the symbol called name and its code.
func (im *Image) Function(name string) (Symbol, []byte, error) {
	sym, ok := im.Lookup(name)
	if !ok {
		return Symbol{}, nil, fmt.Errorf("%w: %s", ErrNoSymbol, name)
	}
	if sym.Size == 0 {
		return sym, nil, fmt.Errorf("%s: symbol has no size", name)
	}
	code, ok := im.SliceVA(sym.Addr, sym.Size)
	if !ok {
		return sym, nil, fmt.Errorf("%s: %#x is not mapped", name, sym.Addr)
	}
	return sym, code, nil
}
