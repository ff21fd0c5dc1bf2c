// Package dex reads Dalvik executables: the header, the string, type and
// method tables, and the bytecode of every method defined by a class.
package dex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrBadMagic   = errors.New("dex: invalid magic")
	ErrEndian     = errors.New("dex: unsupported endianness")
	ErrHeaderSize = errors.New("dex: header size mismatch")
	ErrTruncated  = errors.New("dex: truncated file")
)

const (
	headerSize     = 0x70
	endianConstant = 0x12345678
	noIndex        = 0xffffffff

	codeItemHeader = 16
)

// Table locates one id table in the file.
type Table struct {
	Size uint32
	Off  uint32
}

// Header is the fixed file header.
type Header struct {
	Version    string
	Checksum   uint32
	FileSize   uint32
	HeaderSize uint32

	StringIDs Table
	TypeIDs   Table
	ProtoIDs  Table
	FieldIDs  Table
	MethodIDs Table
	ClassDefs Table
	Data      Table
}

// Method is a method with a code_item. Code borrows the file buffer.
type Method struct {
	Class       string
	Name        string
	AccessFlags uint32
	Virtual     bool
	Registers   uint16
	CodeOff     uint32
	Code        []byte
}

// FullName returns "Lpkg/Class;->name".
func (m Method) FullName() string { return m.Class + "->" + m.Name }

type Class struct {
	Descriptor  string
	Superclass  string
	AccessFlags uint32
	Methods     []Method
}

// File is a parsed DEX image.
type File struct {
	Header
	Strings []string
	Types   []string
	Classes []Class

	data []byte
}

// Parse validates the header of data and loads its tables. data is
// borrowed for the lifetime of the File.
func Parse(data []byte) (*File, error) {
	f := &File{data: data}
	if err := f.parseHeader(); err != nil {
		return nil, err
	}
	if err := f.loadStrings(); err != nil {
		return nil, fmt.Errorf("strings: %w", err)
	}
	if err := f.loadTypes(); err != nil {
		return nil, fmt.Errorf("types: %w", err)
	}
	if err := f.loadClasses(); err != nil {
		return nil, fmt.Errorf("classes: %w", err)
	}
	return f, nil
}

func (f *File) parseHeader() error {
	if len(f.data) < headerSize {
		return ErrTruncated
	}
	magic := f.data[:8]
	if string(magic[:4]) != "dex\n" || magic[7] != 0 {
		return fmt.Errorf("%w: %q", ErrBadMagic, magic)
	}
	version := string(magic[4:7])
	switch version {
	case "035", "036", "037", "038", "039":
	default:
		return fmt.Errorf("%w: version %q", ErrBadMagic, version)
	}

	le := binary.LittleEndian
	if tag := le.Uint32(f.data[40:]); tag != endianConstant {
		return fmt.Errorf("%w: tag %#x", ErrEndian, tag)
	}

	table := func(at int) Table {
		return Table{Size: le.Uint32(f.data[at:]), Off: le.Uint32(f.data[at+4:])}
	}
	f.Header = Header{
		Version:    version,
		Checksum:   le.Uint32(f.data[8:]),
		FileSize:   le.Uint32(f.data[32:]),
		HeaderSize: le.Uint32(f.data[36:]),
		StringIDs:  table(56),
		TypeIDs:    table(64),
		ProtoIDs:   table(72),
		FieldIDs:   table(80),
		MethodIDs:  table(88),
		ClassDefs:  table(96),
		Data:       table(104),
	}
	if f.HeaderSize != headerSize {
		return fmt.Errorf("%w: %#x", ErrHeaderSize, f.HeaderSize)
	}
	return nil
}

func (f *File) slice(off, size uint64) ([]byte, error) {
	if off+size > uint64(len(f.data)) {
		return nil, fmt.Errorf("%w: [%#x, %#x)", ErrTruncated, off, off+size)
	}
	return f.data[off : off+size], nil
}

func (f *File) u32(off uint64) (uint32, error) {
	b, err := f.slice(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (f *File) u16(off uint64) (uint16, error) {
	b, err := f.slice(off, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (f *File) loadStrings() error {
	f.Strings = make([]string, f.StringIDs.Size)
	for i := range f.Strings {
		off, err := f.u32(uint64(f.StringIDs.Off) + uint64(i)*4)
		if err != nil {
			return err
		}
		r := reader{data: f.data, off: int(off)}
		r.uleb128() // utf16 length
		if r.err != nil {
			return r.err
		}
		end := bytes.IndexByte(f.data[r.off:], 0)
		if end < 0 {
			return fmt.Errorf("string %d: %w", i, ErrTruncated)
		}
		f.Strings[i] = string(f.data[r.off : r.off+end])
	}
	return nil
}

func (f *File) str(idx uint32) string {
	if int(idx) < len(f.Strings) {
		return f.Strings[idx]
	}
	return ""
}

func (f *File) typ(idx uint32) string {
	if int(idx) < len(f.Types) {
		return f.Types[idx]
	}
	return ""
}

func (f *File) loadTypes() error {
	f.Types = make([]string, f.TypeIDs.Size)
	for i := range f.Types {
		idx, err := f.u32(uint64(f.TypeIDs.Off) + uint64(i)*4)
		if err != nil {
			return err
		}
		f.Types[i] = f.str(idx)
	}
	return nil
}

// method_id_item is class_idx u16, proto_idx u16, name_idx u32.
func (f *File) methodID(idx uint32) (class, name string, err error) {
	if idx >= f.MethodIDs.Size {
		return "", "", fmt.Errorf("method index %d out of range", idx)
	}
	at := uint64(f.MethodIDs.Off) + uint64(idx)*8
	classIdx, err := f.u16(at)
	if err != nil {
		return "", "", err
	}
	nameIdx, err := f.u32(at + 4)
	if err != nil {
		return "", "", err
	}
	return f.typ(uint32(classIdx)), f.str(nameIdx), nil
}

// class_def_item is eight u32 fields.
func (f *File) loadClasses() error {
	f.Classes = make([]Class, f.ClassDefs.Size)
	for i := range f.Classes {
		def, err := f.slice(uint64(f.ClassDefs.Off)+uint64(i)*32, 32)
		if err != nil {
			return err
		}
		le := binary.LittleEndian
		cls := &f.Classes[i]
		cls.Descriptor = f.typ(le.Uint32(def[0:]))
		cls.AccessFlags = le.Uint32(def[4:])
		if super := le.Uint32(def[8:]); super != noIndex {
			cls.Superclass = f.typ(super)
		}
		if dataOff := le.Uint32(def[24:]); dataOff != 0 {
			if err := f.loadClassData(cls, dataOff); err != nil {
				return fmt.Errorf("%s: %w", cls.Descriptor, err)
			}
		}
	}
	return nil
}

func (f *File) loadClassData(cls *Class, off uint32) error {
	r := reader{data: f.data, off: int(off)}
	staticFields := r.uleb128()
	instanceFields := r.uleb128()
	directMethods := r.uleb128()
	virtualMethods := r.uleb128()

	for i := uint32(0); i < staticFields+instanceFields; i++ {
		r.uleb128() // field_idx_diff
		r.uleb128() // access_flags
	}
	if r.err != nil {
		return r.err
	}

	for _, group := range []struct {
		count   uint32
		virtual bool
	}{{directMethods, false}, {virtualMethods, true}} {
		var idx uint32
		for i := uint32(0); i < group.count; i++ {
			idx += r.uleb128()
			access := r.uleb128()
			codeOff := r.uleb128()
			if r.err != nil {
				return r.err
			}
			if codeOff == 0 {
				continue // abstract or native
			}

			class, name, err := f.methodID(idx)
			if err != nil {
				return err
			}
			m := Method{
				Class:       class,
				Name:        name,
				AccessFlags: access,
				Virtual:     group.virtual,
				CodeOff:     codeOff,
			}
			if err := f.loadCode(&m); err != nil {
				return fmt.Errorf("%s: %w", m.FullName(), err)
			}
			cls.Methods = append(cls.Methods, m)
		}
	}
	return nil
}

// code_item: registers, ins, outs, tries (u16), debug_info_off,
// insns_size in code units (u32), then the insns.
func (f *File) loadCode(m *Method) error {
	hdr, err := f.slice(uint64(m.CodeOff), codeItemHeader)
	if err != nil {
		return err
	}
	m.Registers = binary.LittleEndian.Uint16(hdr[0:])
	units := binary.LittleEndian.Uint32(hdr[12:])
	m.Code, err = f.slice(uint64(m.CodeOff)+codeItemHeader, uint64(units)*2)
	return err
}

// Methods returns every method with bytecode, in class definition order.
func (f *File) Methods() []Method {
	var out []Method
	for _, c := range f.Classes {
		out = append(out, c.Methods...)
	}
	return out
}

// Method looks a method up by bare name or by FullName.
func (f *File) Method(name string) (Method, bool) {
	for _, c := range f.Classes {
		for _, m := range c.Methods {
			if m.Name == name || m.FullName() == name {
				return m, true
			}
		}
	}
	return Method{}, false
}
