package cfg

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"

	"bina/internal/disasm"
)

// WriteDOT renders the CFG as a Graphviz digraph. Nodes are block indices
// labelled with the block offset.
func (g *Graph) WriteDOT(w io.Writer) error {
	return WriteDOT(w, g.ctx.Blocks, g.Edges())
}

// WriteDOT renders edges between blocks as a Graphviz digraph. An edge
// listed more than once, such as a conditional branch whose target is also
// its fall-through, is drawn once and labelled with its count.
func WriteDOT(w io.Writer, blocks []disasm.Block, edges []Edge) error {
	dg := graph.New(graph.StringHash, graph.Directed())
	for _, b := range blocks {
		if err := dg.AddVertex(vertex(b.Index),
			graph.VertexAttribute("label", fmt.Sprintf("%d: %#x", b.Index, b.Offset)),
			graph.VertexAttribute("shape", "box"),
		); err != nil {
			return fmt.Errorf("add block %d: %w", b.Index, err)
		}
	}

	count := make(map[Edge]int, len(edges))
	var order []Edge
	for _, e := range edges {
		if count[e] == 0 {
			order = append(order, e)
		}
		count[e]++
	}
	for _, e := range order {
		var attrs []func(*graph.EdgeProperties)
		if n := count[e]; n > 1 {
			attrs = append(attrs, graph.EdgeAttribute("label", fmt.Sprintf("x%d", n)))
		}
		if err := dg.AddEdge(vertex(e.From), vertex(e.To), attrs...); err != nil {
			return fmt.Errorf("add edge %d -> %d: %w", e.From, e.To, err)
		}
	}
	return draw.DOT(dg, w)
}

func vertex(block int) string { return strconv.Itoa(block) }
