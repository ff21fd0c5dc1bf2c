package disasm

import "fmt"

// MaxOperands is the number of operands an Instruction can carry.
const MaxOperands = 4

// NoTarget marks an Instruction whose branch target is not in the buffer.
const NoTarget = -1

// Kind classifies an instruction by its effect on control flow.
type Kind int

const (
	KindUncondBranch Kind = iota
	KindCondBranch
	KindCall
	KindReturn
	KindCompare
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindUncondBranch:
		return "unconditional-branch"
	case KindCondBranch:
		return "conditional-branch"
	case KindCall:
		return "call"
	case KindReturn:
		return "return"
	case KindCompare:
		return "compare"
	case KindOther:
		return "other"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsBranch reports whether k transfers control to a target.
func (k Kind) IsBranch() bool {
	return k == KindUncondBranch || k == KindCondBranch || k == KindCall
}

// EndsBlock reports whether the instruction after one of kind k starts a new
// basic block.
func (k Kind) EndsBlock() bool {
	return k.IsBranch() || k == KindReturn
}

// Instruction is one decoded unit of the buffer.
type Instruction struct {
	Index  int    // dense, discovery order
	Offset uint64 // byte offset into the buffer
	Size   int
	Bytes  []byte // view into the buffer
	Kind   Kind

	Operands []Operand

	// Target is the index of the branch target instruction, or NoTarget.
	// It is resolved by the CFG builder, never by a backend.
	Target int
	// TargetOffset is the raw branch target, valid when HasTargetOffset is
	// set. It may point outside the buffer.
	TargetOffset    uint64
	HasTargetOffset bool

	Leader bool
	Block  int // owning block index, -1 before blocks exist

	// Text is the backend rendering of the instruction.
	Text string
}

// HasTarget reports whether the branch target was resolved to an
// instruction of the buffer.
func (ins *Instruction) HasTarget() bool { return ins.Target != NoTarget }

// End returns the offset just past the instruction.
func (ins *Instruction) End() uint64 { return ins.Offset + uint64(ins.Size) }

// Operand returns operand n, or a zero OpNone operand when absent.
func (ins *Instruction) Operand(n int) Operand {
	if n < 0 || n >= len(ins.Operands) {
		return Operand{Kind: OpNone, Size: SizeNA}
	}
	return ins.Operands[n]
}
