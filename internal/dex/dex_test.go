package dex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// insns is const/4 v0, #0; if-eqz v0, +2; return-void; return-void.
var insns = []byte{0x12, 0x00, 0x38, 0x00, 0x02, 0x00, 0x0e, 0x00, 0x0e, 0x00}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// image builds a DEX file with one class LFoo; extending Ljava/lang/Object;
// and one direct method "count" whose code is insns.
func image() []byte {
	le := binary.LittleEndian
	strs := []string{"LFoo;", "Ljava/lang/Object;", "count"}

	const (
		stringIDs = headerSize
		typeIDs   = stringIDs + 3*4
		methodIDs = typeIDs + 2*4
		classDefs = methodIDs + 8
		dataOff   = classDefs + 32
	)

	buf := make([]byte, dataOff)
	var data []byte

	for i, s := range strs {
		le.PutUint32(buf[stringIDs+i*4:], uint32(dataOff+len(data)))
		data = append(data, uleb(uint32(len(s)))...)
		data = append(data, s...)
		data = append(data, 0)
	}

	le.PutUint32(buf[typeIDs:], 0)
	le.PutUint32(buf[typeIDs+4:], 1)

	le.PutUint16(buf[methodIDs:], 0)
	le.PutUint32(buf[methodIDs+4:], 2)

	for len(data)%4 != 0 {
		data = append(data, 0)
	}
	codeOff := dataOff + len(data)
	code := make([]byte, codeItemHeader)
	le.PutUint16(code[0:], 1)
	le.PutUint32(code[12:], uint32(len(insns)/2))
	data = append(data, code...)
	data = append(data, insns...)

	classData := dataOff + len(data)
	data = append(data, 0, 0, 1, 0)
	data = append(data, 0, 0x09)
	data = append(data, uleb(uint32(codeOff))...)

	le.PutUint32(buf[classDefs:], 0)
	le.PutUint32(buf[classDefs+4:], 1)
	le.PutUint32(buf[classDefs+8:], 1)
	le.PutUint32(buf[classDefs+16:], noIndex)
	le.PutUint32(buf[classDefs+24:], uint32(classData))

	copy(buf, "dex\n035\x00")
	le.PutUint32(buf[32:], uint32(dataOff+len(data)))
	le.PutUint32(buf[36:], headerSize)
	le.PutUint32(buf[40:], endianConstant)
	for _, tbl := range []struct{ at, size, off int }{
		{56, 3, stringIDs},
		{64, 2, typeIDs},
		{88, 1, methodIDs},
		{96, 1, classDefs},
		{104, len(data), dataOff},
	} {
		le.PutUint32(buf[tbl.at:], uint32(tbl.size))
		le.PutUint32(buf[tbl.at+4:], uint32(tbl.off))
	}

	return append(buf, data...)
}

func TestParse(t *testing.T) {
	f, err := Parse(image())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if f.Version != "035" {
		t.Errorf("Version = %q", f.Version)
	}
	if len(f.Strings) != 3 || f.Strings[2] != "count" {
		t.Errorf("Strings = %q", f.Strings)
	}
	if len(f.Types) != 2 || f.Types[0] != "LFoo;" {
		t.Errorf("Types = %q", f.Types)
	}
	if len(f.Classes) != 1 {
		t.Fatalf("got %d classes, want 1", len(f.Classes))
	}
	if c := f.Classes[0]; c.Descriptor != "LFoo;" || c.Superclass != "Ljava/lang/Object;" {
		t.Errorf("class = %s : %s", c.Descriptor, c.Superclass)
	}

	methods := f.Methods()
	if len(methods) != 1 {
		t.Fatalf("got %d methods, want 1", len(methods))
	}
	m := methods[0]
	if m.FullName() != "LFoo;->count" {
		t.Errorf("FullName() = %q", m.FullName())
	}
	if m.AccessFlags != 0x09 || m.Virtual || m.Registers != 1 {
		t.Errorf("method = %+v", m)
	}
	if !bytes.Equal(m.Code, insns) {
		t.Errorf("Code = % x, want % x", m.Code, insns)
	}

	for _, name := range []string{"count", "LFoo;->count"} {
		if _, ok := f.Method(name); !ok {
			t.Errorf("Method(%q) not found", name)
		}
	}
	if _, ok := f.Method("missing"); ok {
		t.Errorf("Method(missing) found")
	}
}

func TestParseHeaderErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"short", func(b []byte) []byte { return b[:0x40] }, ErrTruncated},
		{"magic", func(b []byte) []byte { b[0] = 'x'; return b }, ErrBadMagic},
		{"version", func(b []byte) []byte { copy(b[4:], "099"); return b }, ErrBadMagic},
		{"endian", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[40:], 0x78563412); return b }, ErrEndian},
		{"header size", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[36:], 0x80); return b }, ErrHeaderSize},
		{"class data past end", func(b []byte) []byte { return b[:len(b)-8] }, ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.mutate(image()))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Parse() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewerVersionAccepted(t *testing.T) {
	b := image()
	copy(b[4:], "039")
	f, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if f.Version != "039" {
		t.Errorf("Version = %q", f.Version)
	}
}
