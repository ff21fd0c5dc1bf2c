package disasm

// MaxSuccessors bounds the out-degree of a Block: taken branch plus
// fallthrough.
const MaxSuccessors = 2

// Block is a basic block: a maximal run of instructions entered only at
// its first instruction and left only from its last.
type Block struct {
	Index  int
	Offset uint64
	Size   int

	First int // index of the leader instruction
	Count int // number of instructions

	Predecessors []int
	Successors   []int

	Prev int // previous block in index order, -1 for the first
	Next int // next block in index order, -1 for the last
}

// Leader returns the index of the first instruction.
func (b *Block) Leader() int { return b.First }

// Last returns the index of the last instruction.
func (b *Block) Last() int { return b.First + b.Count - 1 }

// Contains reports whether instruction i belongs to b.
func (b *Block) Contains(i int) bool { return i >= b.First && i <= b.Last() }
