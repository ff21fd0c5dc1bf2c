// Package cfg partitions a disassembled buffer into basic blocks and links
// them into a control-flow graph.
package cfg

import (
	"errors"
	"fmt"

	"bina/internal/disasm"
)

var (
	// ErrEmpty is returned when the Context holds no instructions.
	ErrEmpty = errors.New("no instructions")
	// ErrTooManySuccessors is returned when a block would get more than
	// disasm.MaxSuccessors outgoing edges.
	ErrTooManySuccessors = errors.New("too many successors")
)

// Edge is a directed block-to-block edge, by block index.
type Edge struct {
	From, To int
}

// Graph is the CFG of one Context. The blocks live in the Context.
type Graph struct {
	ctx *disasm.Context
}

// Build marks leaders, materializes ctx.Blocks and links them. Any blocks
// from a previous Build are replaced.
func Build(ctx *disasm.Context) (*Graph, error) {
	if len(ctx.Instructions) == 0 {
		return nil, ErrEmpty
	}

	for i := range ctx.Instructions {
		ins := &ctx.Instructions[i]
		ins.Leader = false
		ins.Target = disasm.NoTarget
		ins.Block = -1
	}

	leaders := markLeaders(ctx)
	materialize(ctx, leaders)
	if err := link(ctx); err != nil {
		return nil, err
	}

	ctx.Logger().Debug("built control-flow graph",
		"arch", ctx.Arch().Name(),
		"instructions", len(ctx.Instructions),
		"blocks", len(ctx.Blocks))

	return &Graph{ctx: ctx}, nil
}

func markLeaders(ctx *disasm.Context) int {
	ins := ctx.Instructions
	ins[0].Leader = true
	leaders := 1

	mark := func(i int) {
		if !ins[i].Leader {
			ins[i].Leader = true
			leaders++
		}
	}

	for i := range ins {
		kind := ins[i].Kind
		if !kind.EndsBlock() {
			continue
		}
		if kind.IsBranch() && ins[i].HasTargetOffset {
			// Targets that fall in a hole or outside the buffer stay
			// unresolved.
			if t, ok := ctx.InstructionAt(ins[i].TargetOffset); ok {
				ins[i].Target = t
				mark(t)
			}
		}
		if next := ctx.Next(i); next >= 0 {
			mark(next)
		}
	}
	return leaders
}

func materialize(ctx *disasm.Context, leaders int) {
	blocks := make([]disasm.Block, 0, leaders)
	for i := range ctx.Instructions {
		ins := &ctx.Instructions[i]
		if ins.Leader {
			n := len(blocks)
			blocks = append(blocks, disasm.Block{
				Index:  n,
				Offset: ins.Offset,
				First:  i,
				Prev:   n - 1,
				Next:   -1,
			})
			if n > 0 {
				blocks[n-1].Next = n
			}
		}
		b := &blocks[len(blocks)-1]
		b.Count++
		b.Size += ins.Size
		ins.Block = b.Index
	}
	ctx.Blocks = blocks
}

func addEdge(ctx *disasm.Context, from, to int) error {
	src := &ctx.Blocks[from]
	if len(src.Successors) >= disasm.MaxSuccessors {
		return fmt.Errorf("block %d at %#x: %w", from, src.Offset, ErrTooManySuccessors)
	}
	src.Successors = append(src.Successors, to)
	dst := &ctx.Blocks[to]
	dst.Predecessors = append(dst.Predecessors, from)
	return nil
}

func link(ctx *disasm.Context) error {
	for i := range ctx.Instructions {
		ins := &ctx.Instructions[i]
		b := &ctx.Blocks[ins.Block]

		if ins.HasTarget() {
			if err := addEdge(ctx, b.Index, ctx.Instructions[ins.Target].Block); err != nil {
				return err
			}
			if ins.Kind == disasm.KindCondBranch && b.Next >= 0 {
				if err := addEdge(ctx, b.Index, b.Next); err != nil {
					return err
				}
			}
			continue
		}

		if ins.Kind == disasm.KindReturn || i != b.Last() || b.Next < 0 {
			continue
		}
		if err := addEdge(ctx, b.Index, b.Next); err != nil {
			return err
		}
	}
	return nil
}

// Context returns the Context the graph was built over.
func (g *Graph) Context() *disasm.Context { return g.ctx }

// Blocks returns the blocks in index order.
func (g *Graph) Blocks() []disasm.Block { return g.ctx.Blocks }

// Edges returns one edge per successor entry, in block order. A block with
// two edges to the same successor yields both.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, b := range g.ctx.Blocks {
		for _, s := range b.Successors {
			edges = append(edges, Edge{From: b.Index, To: s})
		}
	}
	return edges
}

// BlockOf returns the index of the block holding the instruction that
// starts at offset.
func (g *Graph) BlockOf(offset uint64) (int, bool) {
	i, ok := g.ctx.InstructionAt(offset)
	if !ok {
		return -1, false
	}
	return g.ctx.Instructions[i].Block, true
}
