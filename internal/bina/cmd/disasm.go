package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"bina/internal/bina/styles"
	"bina/internal/cfg"
	"bina/internal/disasm"
	"bina/internal/ui/colorize"
)

var disasmCmd = &cobra.Command{
	Use:   "disasm <file>",
	Short: "Print a disassembly listing with block boundaries",
	Example: `
# Disassemble .text
bina disasm ./prog

# Disassemble raw AArch64 code
bina disasm --raw --arch arm64 code.bin
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTarget(cmd, args[0])
		if err != nil {
			return err
		}
		defer t.Close()

		if _, err := cfg.Build(t.ctx); err != nil {
			return err
		}
		return writeListing(cmd.OutOrStdout(), t, color())
	},
}

func init() {
	addCodeFlags(disasmCmd)
	rootCmd.AddCommand(disasmCmd)
}

// writeListing prints every instruction, opening a header at each block
// leader.
func writeListing(w io.Writer, t *target, color bool) error {
	ctx := t.ctx
	arch := ctx.Arch().Name()

	fmt.Fprintln(w, styles.Paint(styles.Block, color,
		fmt.Sprintf("%s: %s (%s, %s)", t.path, t.name, arch, humanize.Bytes(uint64(len(ctx.Code()))))))

	var sb strings.Builder
	for i := range ctx.Instructions {
		ins := &ctx.Instructions[i]
		if ins.Leader {
			b := &ctx.Blocks[ins.Block]
			fmt.Fprintf(w, "\n%s\n", styles.Paint(styles.Leader, color, blockHeader(b)))
		}

		sb.Reset()
		if err := ctx.Print(&sb, i); err != nil {
			return err
		}
		text := sb.String()
		if color {
			text = colorize.Instruction(text, arch)
		}
		line := fmt.Sprintf("  %s  %-24s %s", styles.Paint(styles.Address, color, fmt.Sprintf("%#010x", ctx.Base()+ins.Offset)), hexBytes(ins.Bytes), text)
		if ins.HasTarget() {
			line += "  " + styles.Paint(styles.Target, color, fmt.Sprintf("; block %d", ctx.Instructions[ins.Target].Block))
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintf(w, "\n%s instructions, %s blocks, %s resyncs\n",
		humanize.Comma(int64(len(ctx.Instructions))),
		humanize.Comma(int64(len(ctx.Blocks))),
		humanize.Comma(int64(ctx.Stats.Resyncs)))
	return nil
}

func blockHeader(b *disasm.Block) string {
	return fmt.Sprintf("block %d (%d insns) -> %s", b.Index, b.Count, joinInts(b.Successors))
}

func hexBytes(b []byte) string {
	const limit = 8
	var sb strings.Builder
	for i, c := range b {
		if i == limit {
			sb.WriteString("..")
			break
		}
		fmt.Fprintf(&sb, "%02x ", c)
	}
	return strings.TrimSpace(sb.String())
}
