package loops

import (
	"fmt"
	"strings"

	"bina/internal/disasm"
)

// Report renders candidates as a markdown document. name titles the
// document.
func Report(ctx *disasm.Context, name string, candidates []Candidate) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Loops in %s\n\n", name)

	if len(candidates) == 0 {
		sb.WriteString("No loop-shaped block triples found.\n")
		return sb.String()
	}

	fmt.Fprintf(&sb, "%d candidate(s).\n\n", len(candidates))
	sb.WriteString("| init | body | condition | compare | bound |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, c := range candidates {
		bound := "-"
		if c.HasBound {
			bound = c.Bound.String()
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | `%s` | %s |\n",
			block(ctx, c.Init), block(ctx, c.Body), block(ctx, c.Cond),
			text(ctx, c.Compare), bound)
	}
	return sb.String()
}

func block(ctx *disasm.Context, i int) string {
	return fmt.Sprintf("%d @ %#x", i, ctx.Base()+ctx.Blocks[i].Offset)
}

func text(ctx *disasm.Context, i int) string {
	var sb strings.Builder
	if err := ctx.Print(&sb, i); err != nil {
		return "?"
	}
	return strings.ReplaceAll(sb.String(), "|", `\|`)
}
