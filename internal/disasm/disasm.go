// Package disasm defines the normalized instruction model shared by every
// architecture backend, and the Context that owns one analyzed code buffer.
package disasm

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/log"
)

var (
	// ErrNoArch is returned when a Context is created without a backend.
	ErrNoArch = errors.New("no architecture backend")
	// ErrNoCode is returned when a Context is created without a code buffer.
	ErrNoCode = errors.New("no code buffer")
	// ErrUndecodable is returned by backends when nothing in the buffer can be
	// decoded (empty buffer, corrupt header).
	ErrUndecodable = errors.New("buffer cannot be decoded")
)

// Stats counts recoveries performed while decoding.
type Stats struct {
	Resyncs int // undecodable positions skipped as opaque one-unit instructions
}

// Context owns the instructions and blocks of one analyzed buffer. The
// buffer itself is borrowed and never copied or resized.
type Context struct {
	Instructions []Instruction
	Blocks       []Block
	Stats        Stats

	// Priv holds backend-private state for the lifetime of the Context.
	Priv any

	arch   Arch
	code   []byte
	base   uint64
	logger *log.Logger
	closed bool
}

// Option configures a Context.
type Option func(*Context)

// WithBase sets the virtual address the buffer is loaded at. It only affects
// rendering; offsets always start at zero.
func WithBase(base uint64) Option {
	return func(c *Context) { c.base = base }
}

// WithLogger sets the logger used for debug output.
func WithLogger(lg *log.Logger) Option {
	return func(c *Context) {
		if lg != nil {
			c.logger = lg
		}
	}
}

// New runs arch over code and returns the populated Context.
func New(arch Arch, code []byte, opts ...Option) (*Context, error) {
	if arch == nil {
		return nil, ErrNoArch
	}
	if code == nil {
		return nil, ErrNoCode
	}

	ctx := &Context{
		arch:   arch,
		code:   code,
		logger: log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(ctx)
	}

	if err := arch.Disassemble(ctx); err != nil {
		return nil, fmt.Errorf("%s: disassemble: %w", arch.Name(), err)
	}

	ctx.logger.Debug("disassembled buffer",
		"arch", arch.Name(),
		"size", len(code),
		"instructions", len(ctx.Instructions),
		"resyncs", ctx.Stats.Resyncs)

	return ctx, nil
}

// Close releases the blocks, then the backend state, then the
// instructions. It is safe to call more than once.
func (c *Context) Close() {
	if c.closed {
		return
	}
	c.closed = true

	c.Blocks = nil
	c.arch.Destroy(c)
	c.Instructions = nil
	c.Priv = nil
}

// Arch returns the backend the Context was built with.
func (c *Context) Arch() Arch { return c.arch }

// Code returns the borrowed code buffer.
func (c *Context) Code() []byte { return c.code }

// Base returns the virtual address of offset zero.
func (c *Context) Base() uint64 { return c.base }

// Logger returns the Context logger. It is never nil.
func (c *Context) Logger() *log.Logger { return c.logger }

// Append adds ins to the instruction stream. Backends call it in increasing
// offset order; Index, Bytes, Target and Block are assigned here.
func (c *Context) Append(ins Instruction) (*Instruction, error) {
	end := ins.Offset + uint64(ins.Size)
	if ins.Size <= 0 || end > uint64(len(c.code)) {
		return nil, fmt.Errorf("instruction at %#x: size %d out of buffer", ins.Offset, ins.Size)
	}
	if n := len(c.Instructions); n > 0 && ins.Offset < c.Instructions[n-1].Offset+uint64(c.Instructions[n-1].Size) {
		return nil, fmt.Errorf("instruction at %#x overlaps previous instruction", ins.Offset)
	}
	if len(ins.Operands) > MaxOperands {
		ins.Operands = ins.Operands[:MaxOperands]
	}

	ins.Index = len(c.Instructions)
	ins.Bytes = c.code[ins.Offset:end]
	ins.Target = NoTarget
	ins.Block = -1
	ins.Leader = false

	c.Instructions = append(c.Instructions, ins)
	return &c.Instructions[ins.Index], nil
}

// InstructionAt returns the index of the instruction starting exactly at
// offset.
func (c *Context) InstructionAt(offset uint64) (int, bool) {
	i := sort.Search(len(c.Instructions), func(i int) bool {
		return c.Instructions[i].Offset >= offset
	})
	if i < len(c.Instructions) && c.Instructions[i].Offset == offset {
		return i, true
	}
	return -1, false
}

// Next returns the index following i, or -1 at the end of the stream.
func (c *Context) Next(i int) int {
	if i+1 >= len(c.Instructions) || i < 0 {
		return -1
	}
	return i + 1
}

// Prev returns the index preceding i, or -1 at the start of the stream.
func (c *Context) Prev(i int) int {
	if i <= 0 || i > len(c.Instructions) {
		return -1
	}
	return i - 1
}

// Print renders instruction i through the backend.
func (c *Context) Print(w io.Writer, i int) error {
	if i < 0 || i >= len(c.Instructions) {
		return fmt.Errorf("instruction %d out of range", i)
	}
	return c.arch.Print(w, &c.Instructions[i])
}
