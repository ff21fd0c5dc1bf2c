package cfg

import (
	"fmt"

	"bina/internal/disasm"
)

// Check verifies the block partition of ctx: blocks tile the instruction
// stream in order, leaders are exactly the block heads, every branch target
// and every instruction after a block-ending one is a leader, and no block
// exceeds disasm.MaxSuccessors. It reports the first violation found.
func Check(ctx *disasm.Context) error {
	if len(ctx.Blocks) == 0 {
		if len(ctx.Instructions) == 0 {
			return nil
		}
		return fmt.Errorf("%d instructions but no blocks", len(ctx.Instructions))
	}

	next := 0
	for bi := range ctx.Blocks {
		b := &ctx.Blocks[bi]
		if b.Index != bi {
			return fmt.Errorf("block %d: index %d", bi, b.Index)
		}
		if b.First != next || b.Count <= 0 || b.First+b.Count > len(ctx.Instructions) {
			return fmt.Errorf("block %d: covers [%d, %d), want start %d", bi, b.First, b.First+b.Count, next)
		}
		if b.Prev != bi-1 {
			return fmt.Errorf("block %d: prev %d", bi, b.Prev)
		}
		if want := bi + 1; (want < len(ctx.Blocks) && b.Next != want) || (want == len(ctx.Blocks) && b.Next != -1) {
			return fmt.Errorf("block %d: next %d", bi, b.Next)
		}
		if len(b.Successors) > disasm.MaxSuccessors {
			return fmt.Errorf("block %d: %d successors: %w", bi, len(b.Successors), ErrTooManySuccessors)
		}
		if last := &ctx.Instructions[b.Last()]; len(b.Successors) == 2 && (last.Kind != disasm.KindCondBranch || !last.HasTarget()) {
			return fmt.Errorf("block %d: two successors after a %s", bi, last.Kind)
		}
		for _, s := range b.Successors {
			if s < 0 || s >= len(ctx.Blocks) || !contains(ctx.Blocks[s].Predecessors, bi) {
				return fmt.Errorf("block %d: successor %d has no matching predecessor", bi, s)
			}
		}

		size := 0
		for i := b.First; i <= b.Last(); i++ {
			ins := &ctx.Instructions[i]
			if ins.Block != bi {
				return fmt.Errorf("instruction %d: block %d, want %d", i, ins.Block, bi)
			}
			if ins.Leader != (i == b.First) {
				return fmt.Errorf("instruction %d at %#x: leader=%v inside block %d", i, ins.Offset, ins.Leader, bi)
			}
			size += ins.Size
		}
		if size != b.Size || ctx.Instructions[b.First].Offset != b.Offset {
			return fmt.Errorf("block %d: offset/size mismatch", bi)
		}
		next = b.First + b.Count
	}
	if next != len(ctx.Instructions) {
		return fmt.Errorf("blocks cover %d of %d instructions", next, len(ctx.Instructions))
	}

	for i := range ctx.Instructions {
		ins := &ctx.Instructions[i]
		if ins.HasTarget() && !ctx.Instructions[ins.Target].Leader {
			return fmt.Errorf("instruction %d: target %d is not a leader", i, ins.Target)
		}
		if ins.Kind.EndsBlock() {
			if n := ctx.Next(i); n >= 0 && !ctx.Instructions[n].Leader {
				return fmt.Errorf("instruction %d: follows a %s but is not a leader", n, ins.Kind)
			}
		}
	}
	return nil
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
