package disasm

import (
	"fmt"
	"strings"
)

// OperandKind selects which value field of an Operand is active.
type OperandKind int

const (
	OpNone OperandKind = iota
	OpRegister
	OpImmediate
	OpRelNear
	OpRelFar
	OpAbsolute
	OpExpression
	OpOffset
	OpOther
)

var operandKindNames = [...]string{
	OpNone:       "none",
	OpRegister:   "register",
	OpImmediate:  "immediate",
	OpRelNear:    "rel-near",
	OpRelFar:     "rel-far",
	OpAbsolute:   "absolute",
	OpExpression: "expression",
	OpOffset:     "offset",
	OpOther:      "other",
}

func (k OperandKind) String() string {
	if k >= 0 && int(k) < len(operandKindNames) {
		return operandKindNames[k]
	}
	return fmt.Sprintf("operand-kind(%d)", int(k))
}

// OperandSize is the width and signedness of an operand value.
type OperandSize uint8

const (
	SizeU8 OperandSize = iota
	SizeU16
	SizeU32
	SizeU64
	SizeU128
	SizeS8
	SizeS16
	SizeS32
	SizeS64
	SizeS128

	SizeNA OperandSize = 0xFF
)

// Signed reports whether s is one of the signed sizes.
func (s OperandSize) Signed() bool { return s >= SizeS8 && s <= SizeS128 }

// Bits returns the width of s, or 0 for SizeNA.
func (s OperandSize) Bits() int {
	switch s {
	case SizeU8, SizeS8:
		return 8
	case SizeU16, SizeS16:
		return 16
	case SizeU32, SizeS32:
		return 32
	case SizeU64, SizeS64:
		return 64
	case SizeU128, SizeS128:
		return 128
	}
	return 0
}

// SizeFor returns the size tag for a bit width.
func SizeFor(bits int, signed bool) OperandSize {
	var s OperandSize
	switch bits {
	case 8:
		s = SizeU8
	case 16:
		s = SizeU16
	case 32:
		s = SizeU32
	case 64:
		s = SizeU64
	case 128:
		s = SizeU128
	default:
		return SizeNA
	}
	if signed {
		s += SizeS8
	}
	return s
}

// RegisterExpr is a memory expression of the form
// [Register + Index*Scale + Displacement]. Absent registers are -1.
type RegisterExpr struct {
	Register     int
	Index        int
	Displacement int64
	Scale        int
}

// Operand is a tagged value: Kind selects which of Imm, Reg and Expr holds
// the value.
type Operand struct {
	Kind OperandKind
	Size OperandSize

	Imm  int64 // immediate, relative, absolute and offset kinds
	Reg  int   // register kind
	Expr RegisterExpr
}

// RegisterOperand returns a register operand.
func RegisterOperand(reg int) Operand {
	return Operand{Kind: OpRegister, Size: SizeNA, Reg: reg}
}

// ImmediateOperand returns an immediate operand.
func ImmediateOperand(v int64, size OperandSize) Operand {
	return Operand{Kind: OpImmediate, Size: size, Imm: v}
}

// Uint returns the value truncated to the operand size.
func (o Operand) Uint() uint64 {
	switch o.Kind {
	case OpRegister:
		return uint64(o.Reg)
	case OpExpression:
		return uint64(o.Expr.Displacement)
	}
	switch o.Size.Bits() {
	case 8:
		return uint64(uint8(o.Imm))
	case 16:
		return uint64(uint16(o.Imm))
	case 32:
		return uint64(uint32(o.Imm))
	}
	return uint64(o.Imm)
}

// Int returns the value sign-extended from the operand size when the size
// is signed.
func (o Operand) Int() int64 {
	if !o.Size.Signed() {
		return int64(o.Uint())
	}
	switch o.Size.Bits() {
	case 8:
		return int64(int8(o.Imm))
	case 16:
		return int64(int16(o.Imm))
	case 32:
		return int64(int32(o.Imm))
	}
	return o.Imm
}

func (o Operand) String() string {
	switch o.Kind {
	case OpNone:
		return "none"
	case OpRegister:
		return fmt.Sprintf("r%d", o.Reg)
	case OpExpression:
		var parts []string
		if o.Expr.Register >= 0 {
			parts = append(parts, fmt.Sprintf("r%d", o.Expr.Register))
		}
		if o.Expr.Index >= 0 {
			parts = append(parts, fmt.Sprintf("r%d*%d", o.Expr.Index, o.Expr.Scale))
		}
		if o.Expr.Displacement != 0 || len(parts) == 0 {
			parts = append(parts, fmt.Sprintf("%#x", o.Expr.Displacement))
		}
		return "[" + strings.Join(parts, "+") + "]"
	case OpOther:
		return "?"
	}
	if o.Size.Signed() {
		return fmt.Sprintf("%d", o.Int())
	}
	return fmt.Sprintf("%#x", o.Uint())
}
