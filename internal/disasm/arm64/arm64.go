// Package arm64 is the AArch64 backend, built on
// golang.org/x/arch/arm64/arm64asm.
package arm64

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"

	"bina/internal/disasm"
)

const insnLen = 4

// Arch decodes little-endian AArch64 code.
type Arch struct{}

// New returns the AArch64 backend.
func New() *Arch { return &Arch{} }

// Name implements disasm.Arch.
func (a *Arch) Name() string { return "arm64" }

// Trap implements disasm.Trapper: brk #0. The kernel reports the address of
// the brk itself.
func (a *Arch) Trap() disasm.Trap {
	return disasm.Trap{Code: []byte{0x00, 0x00, 0x20, 0xd4}, Rewind: 0}
}

// Disassemble implements disasm.Arch. Undecodable words are kept as opaque
// four-byte instructions; a trailing partial word is ignored.
func (a *Arch) Disassemble(ctx *disasm.Context) error {
	code := ctx.Code()
	if len(code) < insnLen {
		return disasm.ErrUndecodable
	}

	for offset := 0; offset+insnLen <= len(code); offset += insnLen {
		word := code[offset : offset+insnLen]

		inst, err := arm64asm.Decode(word)
		if err != nil {
			ctx.Stats.Resyncs++
			if _, err := ctx.Append(disasm.Instruction{
				Offset: uint64(offset),
				Size:   insnLen,
				Kind:   disasm.KindOther,
				Text:   fmt.Sprintf(".inst %#08x", binary.LittleEndian.Uint32(word)),
			}); err != nil {
				return err
			}
			continue
		}

		if _, err := ctx.Append(convert(inst, uint64(offset))); err != nil {
			return err
		}
	}

	if ctx.Stats.Resyncs > 0 {
		ctx.Logger().Debug("skipped undecodable words", "arch", a.Name(), "count", ctx.Stats.Resyncs)
	}
	return nil
}

func convert(inst arm64asm.Inst, offset uint64) disasm.Instruction {
	ins := disasm.Instruction{
		Offset: offset,
		Size:   insnLen,
		Kind:   classify(inst),
		Text:   arm64asm.GNUSyntax(inst),
	}

	for _, arg := range inst.Args {
		if arg == nil || len(ins.Operands) == disasm.MaxOperands {
			break
		}
		ins.Operands = append(ins.Operands, operand(arg))
	}

	if ins.Kind.IsBranch() {
		// The PC-relative label is always the last argument (b, b.cond,
		// cbz, tbz, bl).
		for i := len(inst.Args) - 1; i >= 0; i-- {
			if rel, ok := inst.Args[i].(arm64asm.PCRel); ok {
				target := int64(offset) + int64(rel)
				ins.TargetOffset = uint64(target)
				ins.HasTargetOffset = target >= 0
				break
			}
		}
	}

	return ins
}

func classify(inst arm64asm.Inst) disasm.Kind {
	switch inst.Op {
	case arm64asm.B:
		if _, ok := inst.Args[0].(arm64asm.Cond); ok {
			return disasm.KindCondBranch
		}
		return disasm.KindUncondBranch
	case arm64asm.BR:
		return disasm.KindUncondBranch
	case arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		return disasm.KindCondBranch
	case arm64asm.BL, arm64asm.BLR:
		return disasm.KindCall
	case arm64asm.RET:
		return disasm.KindReturn
	case arm64asm.CMP, arm64asm.CMN, arm64asm.TST:
		return disasm.KindCompare
	}
	return disasm.KindOther
}

func operand(arg arm64asm.Arg) disasm.Operand {
	switch a := arg.(type) {
	case arm64asm.Reg:
		return disasm.RegisterOperand(int(a))
	case arm64asm.RegSP:
		return disasm.RegisterOperand(int(a))
	case arm64asm.Imm:
		return disasm.ImmediateOperand(int64(a.Imm), disasm.SizeU32)
	case arm64asm.Imm64:
		return disasm.ImmediateOperand(int64(a.Imm), disasm.SizeU64)
	case arm64asm.ImmShift:
		if v, ok := parseImmShift(a); ok {
			return disasm.ImmediateOperand(int64(v), disasm.SizeU64)
		}
	case arm64asm.PCRel:
		return disasm.Operand{Kind: disasm.OpRelFar, Size: disasm.SizeS64, Imm: int64(a)}
	case arm64asm.MemImmediate:
		return disasm.Operand{
			Kind: disasm.OpExpression,
			Size: disasm.SizeNA,
			Expr: disasm.RegisterExpr{Register: int(a.Base), Index: -1, Scale: 1},
		}
	}
	return disasm.Operand{Kind: disasm.OpOther, Size: disasm.SizeNA}
}

// parseImmShift recovers the value of an ImmShift from its rendering, the
// only place arm64asm exposes it ("#0xa" or "#0x1, LSL #12").
func parseImmShift(is arm64asm.ImmShift) (uint64, bool) {
	str := is.String()
	imm, shift, hasShift := strings.Cut(str, ", LSL #")
	if !strings.HasPrefix(imm, "#0x") {
		return 0, false
	}
	v, err := strconv.ParseUint(imm[3:], 16, 64)
	if err != nil {
		return 0, false
	}
	if hasShift {
		n, err := strconv.ParseUint(shift, 10, 8)
		if err != nil {
			return 0, false
		}
		v <<= n
	}
	return v, true
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
