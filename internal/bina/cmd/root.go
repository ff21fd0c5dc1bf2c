package cmd

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"bina/internal/bina/config"
	"bina/internal/bina/log"
	"bina/internal/logging"
)

var (
	conf   *config.Config
	logger *logging.LoggerCloser
)

func init() {
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colors")
	rootCmd.PersistentFlags().String("theme", "", "Report theme: vscode or charm")
	rootCmd.PersistentFlags().Int("mode", 0, "x86 width, 32 or 64 (default from the ELF class)")
	rootCmd.PersistentFlags().String("section", "", "ELF section to analyze (default .text)")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
}

var rootCmd = &cobra.Command{
	Use:   "bina",
	Short: "Retargetable binary analysis toolkit",
	Long: `Bina disassembles machine code and Dalvik bytecode, splits it into basic
blocks, looks for counted loops and traces which blocks a program runs.`,
	Example: `
# List the code of a function with block boundaries
bina disasm ./prog --func main

# Write the control flow graph of .text
bina cfg ./prog --out graph.dot

# Trace a run and record the block transitions
bina trace ./prog -- arg1 arg2
  `,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

// setup loads the configuration, applies flag overrides and creates the
// loggers.
func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("debug") {
		c.Debug, _ = flags.GetBool("debug")
	}
	if flags.Changed("no-color") {
		c.NoColor, _ = flags.GetBool("no-color")
	}
	if flags.Changed("theme") {
		c.Theme, _ = flags.GetString("theme")
	}
	if flags.Changed("mode") {
		c.Mode, _ = flags.GetInt("mode")
	}
	if flags.Changed("section") {
		c.Section, _ = flags.GetString("section")
	}
	if err := c.Validate(); err != nil {
		return err
	}

	// Plain output when piped
	if !term.IsTerminal(os.Stdout.Fd()) {
		c.NoColor = true
	}
	if c.NoColor {
		os.Setenv("BINA_NO_COLOR", "1")
	}

	log.Setup(c.LogFile, c.Debug)
	logger = logging.NewLogger()
	if c.Debug {
		logger.SetLevel(logging.ParseLevel("debug"))
	}
	conf = c
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if logger == nil {
		return nil
	}
	return logger.Close()
}

func Execute() {
	// Bypass fang when output is being piped
	if !term.IsTerminal(os.Stdout.Fd()) {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

func width() int {
	if w, _, err := term.GetSize(os.Stdout.Fd()); err == nil && w > 0 {
		return w
	}
	return 80
}

func color() bool {
	return conf != nil && !conf.NoColor
}
