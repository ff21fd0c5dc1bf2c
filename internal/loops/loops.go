// Package loops recognizes the block layout compilers emit for counted
// loops: an init block that jumps over the body to a condition block, which
// branches back to the body.
//
//	init:  ...; jmp cond
//	body:  ...
//	cond:  cmp x, bound; jcc body
//
// It is a structural filter over the CFG, not a proof that a loop exists.
package loops

import (
	"bina/internal/disasm"
)

// Candidate is one init/body/condition triple, by block index.
type Candidate struct {
	Init int
	Body int
	Cond int

	// Compare is the index of the condition block's first instruction.
	Compare int
	// Bound is the second operand of the comparison. HasBound is set when it
	// is a register or an immediate.
	Bound    disasm.Operand
	HasBound bool
}

// Find scans ctx.Blocks, which must have been built by cfg.Build.
func Find(ctx *disasm.Context) []Candidate {
	var found []Candidate
	blocks := ctx.Blocks

	for i := range blocks {
		b := &blocks[i]
		if len(b.Successors) != 1 || b.Next < 0 {
			continue
		}
		cond := &blocks[b.Successors[0]]
		if cond.Index == b.Next {
			continue
		}
		if len(cond.Successors) == 0 || cond.Successors[0] != b.Next {
			continue
		}

		cmp := &ctx.Instructions[cond.First]
		if cmp.Kind != disasm.KindCompare {
			ctx.Logger().Debug("loop condition is not a comparison", "init", b.Index, "cond", cond.Index, "text", cmp.Text)
			continue
		}

		c := Candidate{
			Init:    b.Index,
			Body:    b.Next,
			Cond:    cond.Index,
			Compare: cmp.Index,
		}
		if len(cmp.Operands) >= 2 {
			c.Bound = cmp.Operands[1]
			c.HasBound = BoundOperand(c.Bound)
		}
		found = append(found, c)
	}
	return found
}

// BoundOperand reports whether op is a usable loop bound: an immediate or
// a register. Expressions are not evaluated.
func BoundOperand(op disasm.Operand) bool {
	return op.Kind == disasm.OpImmediate || op.Kind == disasm.OpRegister
}
