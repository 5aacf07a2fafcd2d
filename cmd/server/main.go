package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vinodismyname/xlsxctx/pkg/version"
)

var (
	configPath      string
	logLevel        string
	shutdownTimeout time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "xlsxctx",
		Short: "Turn Excel workbooks into token-budgeted markdown context",
		Long: `xlsxctx extracts the tables of Excel workbooks as markdown and fits them,
together with conversation history, into a language model's token budget.

Examples:
  # Serve the MCP tools over stdio
  XLSXCTX_ALLOWED_DIRS=$HOME/reports xlsxctx serve

  # Chat about workbooks in the terminal
  xlsxctx chat --config xlsxctx.yaml

  # Print the markdown extracted from a workbook
  xlsxctx inspect q1.xlsx`,
		Version:       version.Version(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (environment overrides with XLSXCTX_*)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")

	root.AddCommand(newServeCmd(), newChatCmd(), newInspectCmd())
	return root
}

// newLogger writes to w so stdout stays free for the stdio transport and
// console output.
func newLogger(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "xlsxctx").Logger(), nil
}
