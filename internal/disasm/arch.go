package disasm

import "io"

// Arch is the contract an architecture backend satisfies.
type Arch interface {
	// Name returns a short identifier such as "x86-64".
	Name() string
	// Disassemble decodes ctx.Code() into ctx.Instructions through
	// ctx.Append, in increasing offset order starting at zero. It leaves
	// branch targets unresolved and fails only when nothing can be decoded.
	// An undecodable position is recorded as an opaque instruction and
	// decoding resumes after it.
	Disassemble(ctx *Context) error
	// Destroy releases backend-private state attached to ctx.
	Destroy(ctx *Context)
	// Print renders ins to w. It must not mutate shared state.
	Print(w io.Writer, ins *Instruction) error
}

// Trap describes how a backend encodes a software breakpoint.
type Trap struct {
	// Code replaces the first bytes of the instruction.
	Code []byte
	// Rewind is subtracted from the stopped program counter to get the
	// breakpoint address.
	Rewind uint64
}

// Trapper is implemented by backends whose code can be traced.
type Trapper interface {
	Trap() Trap
}
