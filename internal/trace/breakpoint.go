package trace

// WordSize is the amount of code read and kept around each breakpoint.
const WordSize = 8

// Breakpoint is a trap planted at the first byte of an instruction.
type Breakpoint struct {
	Instruction int     // index in the disasm.Context
	Offset      uint64  // offset of the instruction in the code buffer
	Addr        uintptr // base + Offset
	State       any     // caller data, passed back to the handler

	// Original is the code word read at Addr before patching. Patched is
	// the same word with the trap code at its start.
	Original []byte
	Patched  []byte

	Hits int

	n int // bytes of Patched written to the process
}

// patch writes the trap code and restore puts the original bytes back.
// Only the trap bytes are written, so neighbouring breakpoints that share
// the word are left alone.
func (bp *Breakpoint) patch(p Process) error {
	return p.WriteMemory(bp.Addr, bp.Patched[:bp.n])
}

func (bp *Breakpoint) restore(p Process) error {
	return p.WriteMemory(bp.Addr, bp.Original[:bp.n])
}
