package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"bina/internal/bina/styles"
	"bina/internal/cfg"
	"bina/internal/loops"
)

var loopsCmd = &cobra.Command{
	Use:   "loops <file>",
	Short: "Find counted-loop block layouts",
	Long: `Loops looks for an init block that jumps over a body to a condition block
whose first instruction is a comparison and whose branch returns to the body.`,
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
		report := loops.Report(t.ctx, t.name, loops.Find(t.ctx))
		fmt.Fprint(cmd.OutOrStdout(), renderMarkdown(report))
		return nil
	},
}

func init() {
	addCodeFlags(loopsCmd)
	rootCmd.AddCommand(loopsCmd)
}

// renderMarkdown renders md through glamour on a color terminal.
func renderMarkdown(md string) string {
	if !color() {
		return md
	}
	return styles.Render(md, width(), conf.Theme)
}
