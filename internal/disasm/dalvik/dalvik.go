// Package dalvik is the Dalvik bytecode backend. Its buffer is the insns
// array of one code_item: little-endian 16-bit code units.
package dalvik

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"bina/internal/disasm"
)

const unitLen = 2

// Payload pseudo-instructions share opcode 0x00 (nop) and are told apart by
// the high byte of their first unit.
const (
	packedSwitchPayload = 0x0100
	sparseSwitchPayload = 0x0200
	fillArrayPayload    = 0x0300
)

// Arch decodes Dalvik bytecode. It has no breakpoint encoding, so it does
// not implement disasm.Trapper.
type Arch struct{}

// New returns the Dalvik backend.
func New() *Arch { return &Arch{} }

// Name implements disasm.Arch.
func (a *Arch) Name() string { return "dalvik" }

// decoder holds the unit view of the buffer for one Disassemble call.
type decoder struct {
	units []uint16
}

// Disassemble implements disasm.Arch. A unit whose instruction would run
// past the buffer is kept as an opaque one-unit instruction.
func (a *Arch) Disassemble(ctx *disasm.Context) error {
	code := ctx.Code()
	n := len(code) / unitLen
	if n == 0 {
		return disasm.ErrUndecodable
	}

	d := &decoder{units: make([]uint16, n)}
	for i := range d.units {
		d.units[i] = binary.LittleEndian.Uint16(code[i*unitLen:])
	}

	for pc := 0; pc < n; {
		ins, width, ok := d.decode(pc)
		if !ok {
			ctx.Stats.Resyncs++
			ins = disasm.Instruction{
				Offset: uint64(pc * unitLen),
				Size:   unitLen,
				Kind:   disasm.KindOther,
				Text:   fmt.Sprintf("(bad) .short %#04x", d.units[pc]),
			}
			width = 1
		}
		if _, err := ctx.Append(ins); err != nil {
			return err
		}
		pc += width
	}

	if ctx.Stats.Resyncs > 0 {
		ctx.Logger().Debug("truncated instructions", "arch", a.Name(), "count", ctx.Stats.Resyncs)
	}
	return nil
}

func (d *decoder) decode(pc int) (disasm.Instruction, int, bool) {
	u0 := d.units[pc]
	op := byte(u0)

	if op == 0x00 && u0 != 0 {
		return d.payload(pc)
	}

	spec := opcodes[op]
	width := spec.format.units()
	if pc+width > len(d.units) {
		return disasm.Instruction{}, 0, false
	}
	u := d.units[pc : pc+width]

	ins := disasm.Instruction{
		Offset: uint64(pc * unitLen),
		Size:   width * unitLen,
		Kind:   classify(op),
	}
	ins.Operands = operands(op, spec.format, u)

	if ins.Kind.IsBranch() {
		for _, o := range ins.Operands {
			if o.Kind == disasm.OpRelNear || o.Kind == disasm.OpRelFar {
				target := int64(ins.Offset) + o.Int()*unitLen
				ins.TargetOffset = uint64(target)
				ins.HasTargetOffset = target >= 0
				break
			}
		}
	}

	ins.Text = render(spec.name, ins.Operands)
	return ins, width, true
}

// payload decodes the switch and array data tables embedded in the
// instruction stream.
func (d *decoder) payload(pc int) (disasm.Instruction, int, bool) {
	rest := d.units[pc:]
	if len(rest) < 2 {
		return disasm.Instruction{}, 0, false
	}

	var name string
	var width int
	switch rest[0] {
	case packedSwitchPayload:
		name = "packed-switch-payload"
		width = 4 + int(rest[1])*2
	case sparseSwitchPayload:
		name = "sparse-switch-payload"
		width = 2 + int(rest[1])*4
	case fillArrayPayload:
		if len(rest) < 4 {
			return disasm.Instruction{}, 0, false
		}
		elem := int(rest[1])
		size := int(uint32(rest[2]) | uint32(rest[3])<<16)
		name = "fill-array-data-payload"
		width = 4 + (size*elem+1)/2
	default:
		return disasm.Instruction{}, 0, false
	}
	if width > len(rest) {
		return disasm.Instruction{}, 0, false
	}

	return disasm.Instruction{
		Offset: uint64(pc * unitLen),
		Size:   width * unitLen,
		Kind:   disasm.KindOther,
		Text:   name,
	}, width, true
}

func classify(op byte) disasm.Kind {
	switch {
	case op >= 0x28 && op <= 0x2a:
		return disasm.KindUncondBranch
	case op >= 0x32 && op <= 0x3d:
		return disasm.KindCondBranch
	case op >= 0x6e && op <= 0x72, op >= 0x74 && op <= 0x78, op >= 0xfa && op <= 0xfd:
		return disasm.KindCall
	case op >= 0x0e && op <= 0x11, op == 0x27:
		return disasm.KindReturn
	case op >= 0x2d && op <= 0x31:
		return disasm.KindCompare
	}
	return disasm.KindOther
}

func reg(r uint16) disasm.Operand {
	return disasm.RegisterOperand(int(r))
}

func imm(v int64, size disasm.OperandSize) disasm.Operand {
	return disasm.ImmediateOperand(v, size)
}

func rel(units int64, size disasm.OperandSize) disasm.Operand {
	kind := disasm.OpRelFar
	if size == disasm.SizeS8 {
		kind = disasm.OpRelNear
	}
	return disasm.Operand{Kind: kind, Size: size, Imm: units}
}

// index is a constant-pool reference (string, type, field, method).
func index(v uint32, size disasm.OperandSize) disasm.Operand {
	return disasm.Operand{Kind: disasm.OpOffset, Size: size, Imm: int64(v)}
}

func wide32(lo, hi uint16) uint32 {
	return uint32(lo) | uint32(hi)<<16
}

func operands(op byte, f format, u []uint16) []disasm.Operand {
	u0 := u[0]
	a4 := u0 >> 8 & 0xf
	b4 := u0 >> 12
	aa := u0 >> 8

	switch f {
	case "12x":
		return []disasm.Operand{reg(a4), reg(b4)}
	case "11n":
		return []disasm.Operand{reg(a4), imm(int64(int8(byte(aa))>>4), disasm.SizeS8)}
	case "11x":
		return []disasm.Operand{reg(aa)}
	case "10t":
		return []disasm.Operand{rel(int64(int8(byte(aa))), disasm.SizeS8)}
	case "20t":
		return []disasm.Operand{rel(int64(int16(u[1])), disasm.SizeS16)}
	case "22x":
		return []disasm.Operand{reg(aa), reg(u[1])}
	case "21t":
		return []disasm.Operand{reg(aa), rel(int64(int16(u[1])), disasm.SizeS16)}
	case "21s":
		return []disasm.Operand{reg(aa), imm(int64(int16(u[1])), disasm.SizeS16)}
	case "21h":
		if op == 0x19 {
			return []disasm.Operand{reg(aa), imm(int64(uint64(u[1])<<48), disasm.SizeS64)}
		}
		return []disasm.Operand{reg(aa), imm(int64(int32(uint32(u[1])<<16)), disasm.SizeS32)}
	case "21c":
		return []disasm.Operand{reg(aa), index(uint32(u[1]), disasm.SizeU16)}
	case "23x":
		return []disasm.Operand{reg(aa), reg(u[1] & 0xff), reg(u[1] >> 8)}
	case "22b":
		return []disasm.Operand{reg(aa), reg(u[1] & 0xff), imm(int64(int8(byte(u[1]>>8))), disasm.SizeS8)}
	case "22t":
		return []disasm.Operand{reg(a4), reg(b4), rel(int64(int16(u[1])), disasm.SizeS16)}
	case "22s":
		return []disasm.Operand{reg(a4), reg(b4), imm(int64(int16(u[1])), disasm.SizeS16)}
	case "22c":
		return []disasm.Operand{reg(a4), reg(b4), index(uint32(u[1]), disasm.SizeU16)}
	case "30t":
		return []disasm.Operand{rel(int64(int32(wide32(u[1], u[2]))), disasm.SizeS32)}
	case "32x":
		return []disasm.Operand{reg(u[1]), reg(u[2])}
	case "31i":
		return []disasm.Operand{reg(aa), imm(int64(int32(wide32(u[1], u[2]))), disasm.SizeS32)}
	case "31t":
		return []disasm.Operand{reg(aa), rel(int64(int32(wide32(u[1], u[2]))), disasm.SizeS32)}
	case "31c":
		return []disasm.Operand{reg(aa), index(wide32(u[1], u[2]), disasm.SizeU32)}
	case "35c", "45cc":
		ops := []disasm.Operand{index(uint32(u[1]), disasm.SizeU16)}
		regs := [5]uint16{u[2] & 0xf, u[2] >> 4 & 0xf, u[2] >> 8 & 0xf, u[2] >> 12, a4}
		for i := 0; i < int(b4) && i < len(regs); i++ {
			ops = append(ops, reg(regs[i]))
		}
		return ops
	case "3rc", "4rcc":
		ops := []disasm.Operand{index(uint32(u[1]), disasm.SizeU16)}
		if aa > 0 {
			ops = append(ops, reg(u[2]))
		}
		return ops
	case "51l":
		v := uint64(wide32(u[1], u[2])) | uint64(wide32(u[3], u[4]))<<32
		return []disasm.Operand{reg(aa), imm(int64(v), disasm.SizeS64)}
	}
	return nil
}

func render(name string, ops []disasm.Operand) string {
	if len(ops) == 0 {
		return name
	}
	parts := make([]string, 0, len(ops))
	for _, o := range ops {
		switch o.Kind {
		case disasm.OpRegister:
			parts = append(parts, fmt.Sprintf("v%d", o.Reg))
		case disasm.OpImmediate:
			parts = append(parts, fmt.Sprintf("#%d", o.Int()))
		case disasm.OpRelNear, disasm.OpRelFar:
			parts = append(parts, fmt.Sprintf("%+d", o.Int()))
		case disasm.OpOffset:
			parts = append(parts, fmt.Sprintf("@%d", o.Uint()))
		}
	}
	return name + " " + strings.Join(parts, ", ")
}

// Destroy implements disasm.Arch.
func (a *Arch) Destroy(ctx *disasm.Context) {
	for i := range ctx.Instructions {
		ctx.Instructions[i].Text = ""
	}
}

// Print implements disasm.Arch.
func (a *Arch) Print(w io.Writer, ins *disasm.Instruction) error {
	_, err := io.WriteString(w, ins.Text)
	return err
}
