package cmd

import (
	"debug/elf"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"bina/internal/cfg"
	"bina/internal/disasm"
	"bina/internal/trace"
)

var traceCmd = &cobra.Command{
	Use:   "trace <elf> [-- args...]",
	Short: "Run a program and record which blocks it executes",
	Long: `Trace builds the control flow graph of the code, plants a breakpoint on
every block leader and runs the program under ptrace. Each block reached is
logged and every observed block-to-block transition is written as a DOT edge.`,
	Example: `
# Trace main, passing arguments to the program
bina trace ./prog --func main -- -v input.txt

# Trace code loaded at a known address
bina trace ./prog --base 0x555555554000
  `,
	Args: cobra.MinimumNArgs(1),
	RunE: runTrace,
}

func init() {
	traceCmd.Flags().StringP("func", "f", "", "Trace one function instead of the whole section")
	traceCmd.Flags().String("base", "", "Runtime address of the code (default from the ELF headers)")
	traceCmd.Flags().StringP("out", "o", "", "DOT output file, - for stdout (default trace.dot)")
	rootCmd.AddCommand(traceCmd)
}

// recorder is the breakpoint handler of the trace command.
type recorder struct {
	ctx    *disasm.Context
	prev   int
	edges  []cfg.Edge
	seen   map[cfg.Edge]bool
	counts map[int]int
}

func (r *recorder) hit(s *trace.Session, bp *trace.Breakpoint) error {
	block := r.ctx.Instructions[bp.Instruction].Block
	if r.prev >= 0 {
		e := cfg.Edge{From: r.prev, To: block}
		if !r.seen[e] {
			r.seen[e] = true
			r.edges = append(r.edges, e)
		}
	}
	r.prev = block
	r.counts[block]++
	logger.Info("block", "index", block, "addr", fmt.Sprintf("%#x", bp.Addr), "hits", bp.Hits)
	return nil
}

func runTrace(cmd *cobra.Command, args []string) error {
	path, progArgs := args[0], args[1:]
	fn, _ := cmd.Flags().GetString("func")

	t, err := openELF(path, fn)
	if err != nil {
		return err
	}
	defer t.Close()
	if _, err := cfg.Build(t.ctx); err != nil {
		return err
	}

	base := t.va
	fixed := cmd.Flags().Changed("base")
	if fixed {
		s, _ := cmd.Flags().GetString("base")
		if base, err = strconv.ParseUint(s, 0, 64); err != nil {
			return fmt.Errorf("--base: %w", err)
		}
	}

	rec := &recorder{ctx: t.ctx, prev: -1, seen: map[cfg.Edge]bool{}, counts: map[int]int{}}
	s, err := trace.Launch(cmd.Context(), t.ctx, path, progArgs, base, rec.hit,
		trace.WithLogger(logger.Logger),
		trace.WithStdio(os.Stdin, os.Stdout, os.Stderr))
	if err != nil {
		return err
	}
	defer s.Close()

	if !fixed && t.img.File.Type == elf.ET_DYN {
		bias, err := trace.MappedAt(s.Process().Pid(), path)
		if err != nil {
			return fmt.Errorf("find load address: %w", err)
		}
		if err := s.Rebase(bias + t.va - lowestLoad(t)); err != nil {
			return err
		}
	}
	logger.Debug("tracing", "path", path, "base", fmt.Sprintf("%#x", s.Base()), "blocks", len(t.ctx.Blocks))

	if _, err := s.InstallBlocks(nil); err != nil {
		return err
	}
	runErr := s.Run()

	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		out = conf.TraceFile
	}
	if err := writeFile(cmd.OutOrStdout(), out, func(w io.Writer) error {
		return cfg.WriteDOT(w, t.ctx.Blocks, rec.edges)
	}); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s hits over %d of %d blocks, %d transitions (%s)\n",
		t.name, humanize.Comma(int64(s.Hits())), len(rec.counts), len(t.ctx.Blocks), len(rec.edges), s.State())
	return runErr
}

// lowestLoad is the page-aligned address of the first PT_LOAD segment, the
// address the mapping at file offset zero corresponds to.
func lowestLoad(t *target) uint64 {
	if len(t.img.Loads) == 0 {
		return 0
	}
	low := t.img.Loads[0].Vaddr
	for _, l := range t.img.Loads[1:] {
		low = min(low, l.Vaddr)
	}
	return low &^ uint64(os.Getpagesize()-1)
}
