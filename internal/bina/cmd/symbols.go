package cmd

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"bina/internal/bina/styles"
	"bina/internal/elfx"
)

var symbolsCmd = &cobra.Command{
	Use:   "symbols <elf>",
	Short: "List the function symbols usable with --func",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := elfx.Open(args[0])
		if err != nil {
			return err
		}
		defer img.Close()

		filter, _ := cmd.Flags().GetString("grep")
		filter = strings.ToLower(filter)
		w := cmd.OutOrStdout()
		n := 0
		for _, sym := range img.Symbols {
			if filter != "" && !strings.Contains(strings.ToLower(sym.Demangled), filter) &&
				!strings.Contains(strings.ToLower(sym.Name), filter) {
				continue
			}
			fmt.Fprintf(w, "%s  %8s  %s\n",
				styles.Paint(styles.Address, color(), fmt.Sprintf("%#010x", sym.Addr)),
				humanize.Bytes(sym.Size), sym.Demangled)
			n++
		}
		fmt.Fprintf(w, "%s function symbols\n", humanize.Comma(int64(n)))
		return nil
	},
}

func init() {
	symbolsCmd.Flags().StringP("grep", "g", "", "Only list symbols containing this text")
	rootCmd.AddCommand(symbolsCmd)
}
