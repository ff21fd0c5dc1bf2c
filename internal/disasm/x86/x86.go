// Package x86 is the x86 and x86-64 backend, built on
// golang.org/x/arch/x86/x86asm.
package x86

import (
	"fmt"
	"io"

	"golang.org/x/arch/x86/x86asm"

	"bina/internal/disasm"
)

// Arch decodes x86 machine code in a fixed processor mode.
type Arch struct {
	mode int
}

// New returns a backend for mode 16, 32 or 64.
func New(mode int) (*Arch, error) {
	switch mode {
	case 16, 32, 64:
		return &Arch{mode: mode}, nil
	}
	return nil, fmt.Errorf("unsupported x86 mode: %d", mode)
}

// Name implements disasm.Arch.
func (a *Arch) Name() string {
	if a.mode == 64 {
		return "x86-64"
	}
	return fmt.Sprintf("x86-%d", a.mode)
}

// Mode returns the processor mode in bits.
func (a *Arch) Mode() int { return a.mode }

// Trap implements disasm.Trapper: int3, reported one byte past the
// breakpoint.
func (a *Arch) Trap() disasm.Trap {
	return disasm.Trap{Code: []byte{0xcc}, Rewind: 1}
}

// decoder is the per-call decoding state. It lives for exactly one
// Disassemble call.
type decoder struct {
	mode int
	code []byte
	base uint64
}

// Disassemble implements disasm.Arch.
func (a *Arch) Disassemble(ctx *disasm.Context) error {
	code := ctx.Code()
	if len(code) == 0 {
		return disasm.ErrUndecodable
	}

	d := &decoder{mode: a.mode, code: code, base: ctx.Base()}

	offset := 0
	for offset < len(code) {
		// ENDBR64 (f3 0f 1e fa) and ENDBR32 (f3 0f 1e fb) are not known to
		// x86asm.
		if isEndbr(code[offset:]) {
			name := "endbr64"
			if code[offset+3] == 0xfb {
				name = "endbr32"
			}
			if _, err := ctx.Append(disasm.Instruction{
				Offset: uint64(offset),
				Size:   4,
				Kind:   disasm.KindOther,
				Text:   name,
			}); err != nil {
				return err
			}
			offset += 4
			continue
		}

		inst, err := x86asm.Decode(code[offset:], d.mode)
		if err != nil || inst.Len == 0 {
			ctx.Stats.Resyncs++
			if _, err := ctx.Append(disasm.Instruction{
				Offset: uint64(offset),
				Size:   1,
				Kind:   disasm.KindOther,
				Text:   fmt.Sprintf("(bad) .byte %#02x", code[offset]),
			}); err != nil {
				return err
			}
			offset++
			continue
		}

		if _, err := ctx.Append(d.convert(inst, uint64(offset))); err != nil {
			return err
		}
		offset += inst.Len
	}

	if ctx.Stats.Resyncs > 0 {
		ctx.Logger().Debug("resynced after invalid opcodes", "arch", a.Name(), "count", ctx.Stats.Resyncs)
	}
	return nil
}

func isEndbr(b []byte) bool {
	return len(b) >= 4 && b[0] == 0xf3 && b[1] == 0x0f && b[2] == 0x1e && (b[3] == 0xfa || b[3] == 0xfb)
}

func (d *decoder) convert(inst x86asm.Inst, offset uint64) disasm.Instruction {
	ins := disasm.Instruction{
		Offset: offset,
		Size:   inst.Len,
		Kind:   classify(inst.Op),
		Text:   x86asm.GNUSyntax(inst, d.base+offset, nil),
	}

	for _, arg := range inst.Args {
		if arg == nil || len(ins.Operands) == disasm.MaxOperands {
			break
		}
		ins.Operands = append(ins.Operands, d.operand(inst, arg))
	}

	if ins.Kind.IsBranch() {
		if rel, ok := inst.Args[0].(x86asm.Rel); ok {
			target := int64(offset) + int64(inst.Len) + int64(rel)
			ins.TargetOffset = uint64(target)
			ins.HasTargetOffset = target >= 0
		}
	}

	return ins
}

func (d *decoder) operand(inst x86asm.Inst, arg x86asm.Arg) disasm.Operand {
	switch a := arg.(type) {
	case x86asm.Reg:
		return disasm.RegisterOperand(int(a))
	case x86asm.Imm:
		return disasm.ImmediateOperand(int64(a), disasm.SizeFor(inst.DataSize, true))
	case x86asm.Rel:
		if inst.PCRel == 1 {
			return disasm.Operand{Kind: disasm.OpRelNear, Size: disasm.SizeS8, Imm: int64(a)}
		}
		return disasm.Operand{Kind: disasm.OpRelFar, Size: disasm.SizeFor(inst.PCRel*8, true), Imm: int64(a)}
	case x86asm.Mem:
		if a.Base == 0 && a.Index == 0 {
			return disasm.Operand{Kind: disasm.OpAbsolute, Size: disasm.SizeFor(inst.AddrSize, false), Imm: a.Disp}
		}
		return disasm.Operand{
			Kind: disasm.OpExpression,
			Size: disasm.SizeNA,
			Expr: disasm.RegisterExpr{
				Register:     regIndex(a.Base),
				Index:        regIndex(a.Index),
				Displacement: a.Disp,
				Scale:        int(a.Scale),
			},
		}
	}
	return disasm.Operand{Kind: disasm.OpOther, Size: disasm.SizeNA}
}

func regIndex(r x86asm.Reg) int {
	if r == 0 {
		return -1
	}
	return int(r)
}

func classify(op x86asm.Op) disasm.Kind {
	switch op {
	case x86asm.JMP, x86asm.LJMP:
		return disasm.KindUncondBranch
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JCXZ, x86asm.JE,
		x86asm.JECXZ, x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE,
		x86asm.JNO, x86asm.JNP, x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JRCXZ,
		x86asm.JS, x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return disasm.KindCondBranch
	case x86asm.CALL, x86asm.LCALL:
		return disasm.KindCall
	case x86asm.RET, x86asm.LRET, x86asm.IRET, x86asm.IRETD, x86asm.IRETQ:
		return disasm.KindReturn
	case x86asm.CMP, x86asm.TEST:
		return disasm.KindCompare
	}
	return disasm.KindOther
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
