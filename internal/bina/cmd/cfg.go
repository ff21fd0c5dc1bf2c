package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"bina/internal/cfg"
)

var cfgCmd = &cobra.Command{
	Use:   "cfg <file>",
	Short: "Build the control flow graph and write it as DOT",
	Example: `
# Write graph.dot for .text
bina cfg ./prog

# Check the block invariants of one function and print the graph
bina cfg ./prog --func main --check --out -
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := openTarget(cmd, args[0])
		if err != nil {
			return err
		}
		defer t.Close()

		g, err := cfg.Build(t.ctx)
		if err != nil {
			return err
		}
		if check, _ := cmd.Flags().GetBool("check"); check {
			if err := cfg.Check(t.ctx); err != nil {
				return fmt.Errorf("%s: %w", t.name, err)
			}
		}

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = conf.GraphFile
		}
		if err := writeFile(cmd.OutOrStdout(), out, g.WriteDOT); err != nil {
			return err
		}
		if out != "-" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d blocks, %d edges written to %s\n",
				t.name, len(g.Blocks()), len(g.Edges()), out)
		}
		return nil
	},
}

func init() {
	addCodeFlags(cfgCmd)
	cfgCmd.Flags().StringP("out", "o", "", "DOT output file, - for stdout (default graph.dot)")
	cfgCmd.Flags().Bool("check", false, "Verify the block invariants before writing")
	rootCmd.AddCommand(cfgCmd)
}

// writeFile runs write against path, or against stdout when path is "-".
func writeFile(stdout io.Writer, path string, write func(io.Writer) error) error {
	if path == "-" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
