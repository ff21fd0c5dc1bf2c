// Package disasmtest builds Contexts from hand-written instruction lists
// for tests of the packages layered on disasm.
package disasmtest

import (
	"fmt"
	"io"
	"testing"

	"bina/internal/disasm"
)

const (
	// Unresolved marks a branch without a static target (register jump).
	Unresolved = -1
	// Outside marks a branch whose target lies past the buffer.
	Outside = -2
)

// Ins describes one synthetic instruction. Offsets are assigned in order.
type Ins struct {
	Kind     disasm.Kind
	Size     int // 1 when zero
	To       int // target instruction index, Unresolved or Outside
	Operands []disasm.Operand
}

func Nop() Ins { return Ins{Kind: disasm.KindOther, To: Unresolved} }
func Ret() Ins { return Ins{Kind: disasm.KindReturn, To: Unresolved} }
func Jmp(to int) Ins { return Ins{Kind: disasm.KindUncondBranch, To: to} }
func Jcc(to int) Ins { return Ins{Kind: disasm.KindCondBranch, To: to} }
func Call(to int) Ins { return Ins{Kind: disasm.KindCall, To: to} }
func Cmp(ops ...disasm.Operand) Ins {
	return Ins{Kind: disasm.KindCompare, To: Unresolved, Operands: ops}
}

// Arch replays a fixed instruction list. It has no breakpoint encoding.
type Arch struct {
	Insns []Ins
}

func (a *Arch) Name() string { return "test" }

func (a *Arch) offsets() []uint64 {
	offs := make([]uint64, len(a.Insns)+1)
	for i, in := range a.Insns {
		offs[i+1] = offs[i] + uint64(size(in))
	}
	return offs
}

func size(in Ins) int {
	if in.Size == 0 {
		return 1
	}
	return in.Size
}

func (a *Arch) Disassemble(ctx *disasm.Context) error {
	offs := a.offsets()
	for i, in := range a.Insns {
		ins := disasm.Instruction{
			Offset:   offs[i],
			Size:     size(in),
			Kind:     in.Kind,
			Operands: in.Operands,
			Text:     fmt.Sprintf("%s %d", in.Kind, i),
		}
		if in.Kind.IsBranch() {
			switch {
			case in.To == Outside:
				ins.TargetOffset, ins.HasTargetOffset = offs[len(a.Insns)]+0x1000, true
			case in.To >= 0:
				ins.TargetOffset, ins.HasTargetOffset = offs[in.To], true
			}
		}
		if _, err := ctx.Append(ins); err != nil {
			return err
		}
	}
	return nil
}

func (a *Arch) Destroy(ctx *disasm.Context) {}

func (a *Arch) Print(w io.Writer, ins *disasm.Instruction) error {
	_, err := io.WriteString(w, ins.Text)
	return err
}

// TrapArch is an Arch with a one-byte 0xcc trap, reported one byte past
// the breakpoint.
type TrapArch struct {
	Arch
}

func (a *TrapArch) Trap() disasm.Trap {
	return disasm.Trap{Code: []byte{0xcc}, Rewind: 1}
}

// Code returns a buffer sized for insns, filled with 0x90.
func Code(insns ...Ins) []byte {
	n := 0
	for _, in := range insns {
		n += size(in)
	}
	code := make([]byte, n)
	for i := range code {
		code[i] = 0x90
	}
	return code
}

// Context decodes insns with a TrapArch. The Context is closed when the
// test ends.
func Context(t testing.TB, insns ...Ins) *disasm.Context {
	t.Helper()
	return build(t, &TrapArch{Arch{Insns: insns}}, insns)
}

// ContextNoTrap is Context with a backend that cannot be traced.
func ContextNoTrap(t testing.TB, insns ...Ins) *disasm.Context {
	t.Helper()
	return build(t, &Arch{Insns: insns}, insns)
}

func build(t testing.TB, arch disasm.Arch, insns []Ins) *disasm.Context {
	t.Helper()
	ctx, err := disasm.New(arch, Code(insns...))
	if err != nil {
		t.Fatalf("disasm.New() error = %v", err)
	}
	t.Cleanup(ctx.Close)
	return ctx
}
