package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"bina/internal/cfg"
	"bina/internal/dex"
	"bina/internal/disasm"
	"bina/internal/disasm/dalvik"
	"bina/internal/loops"
)

var dexCmd = &cobra.Command{
	Use:   "dex <file.dex>",
	Short: "Split the methods of a DEX file into blocks and find loops",
	Example: `
# Every method
bina dex classes.dex

# One method, with its bytecode
bina dex classes.dex --method 'LFoo;->count' --insns
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		f, err := dex.Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		methods := f.Methods()
		if name, _ := cmd.Flags().GetString("method"); name != "" {
			m, ok := f.Method(name)
			if !ok {
				return fmt.Errorf("no method %s in %s", name, args[0])
			}
			methods = []dex.Method{m}
		}
		insns, _ := cmd.Flags().GetBool("insns")

		md, err := dexReport(args[0], f, methods, insns)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), renderMarkdown(md))
		return nil
	},
}

func init() {
	dexCmd.Flags().StringP("method", "m", "", "Analyze one method, by name or Class->name")
	dexCmd.Flags().Bool("insns", false, "Include the bytecode of each method")
	rootCmd.AddCommand(dexCmd)
}

func dexReport(path string, f *dex.File, methods []dex.Method, insns bool) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", path)
	fmt.Fprintf(&sb, "DEX %s, %s, %d classes, %d methods with code.\n\n",
		f.Version, humanize.Bytes(uint64(f.FileSize)), len(f.Classes), len(methods))

	for _, m := range methods {
		if err := dexMethod(&sb, m, insns); err != nil {
			return "", fmt.Errorf("%s: %w", m.FullName(), err)
		}
	}
	return sb.String(), nil
}

func dexMethod(sb *strings.Builder, m dex.Method, insns bool) error {
	fmt.Fprintf(sb, "## %s\n\n", m.FullName())
	ctx, err := disasm.New(dalvik.New(), m.Code, disasm.WithLogger(logger.Logger))
	if err != nil {
		fmt.Fprintf(sb, "No decodable code (%v).\n\n", err)
		return nil
	}
	defer ctx.Close()

	g, err := cfg.Build(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(sb, "%d registers, %d code units, %d blocks, %d edges.\n\n",
		m.Registers, len(m.Code)/2, len(g.Blocks()), len(g.Edges()))

	sb.WriteString("| block | offset | instructions | successors |\n|---|---|---|---|\n")
	for i := range g.Blocks() {
		b := &g.Blocks()[i]
		fmt.Fprintf(sb, "| %d | %#x | %d | %s |\n", b.Index, b.Offset, b.Count, joinInts(b.Successors))
	}
	sb.WriteString("\n")

	if insns {
		sb.WriteString("```\n")
		var line strings.Builder
		for i := range ctx.Instructions {
			line.Reset()
			if err := ctx.Print(&line, i); err != nil {
				return err
			}
			fmt.Fprintf(sb, "%04x: %s\n", ctx.Instructions[i].Offset/2, line.String())
		}
		sb.WriteString("```\n\n")
	}

	if found := loops.Find(ctx); len(found) > 0 {
		for _, c := range found {
			fmt.Fprintf(sb, "- loop: init %d, body %d, condition %d", c.Init, c.Body, c.Cond)
			if c.HasBound {
				fmt.Fprintf(sb, ", bound `%s`", c.Bound)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return nil
}

func joinInts(v []int) string {
	if len(v) == 0 {
		return "-"
	}
	s := make([]string, len(v))
	for i, n := range v {
		s[i] = fmt.Sprint(n)
	}
	return strings.Join(s, ", ")
}
