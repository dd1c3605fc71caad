// Package commands implements the harvest CLI.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/refyne-harvest/internal/config"
	"github.com/jmylchreest/refyne-harvest/internal/logging"
)

var (
	cfg    *config.Config
	logger *slog.Logger

	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "harvest",
	Short:         "harvest walks a web portal's records and turns them into structured tables.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Logging config comes from env; the flag overrides it.
		logger = logging.SetDefault()
		if logLevel != "" {
			logging.SetLevel(logging.ParseLevel(logLevel))
		}

		var err error
		cfg, err = config.Load()
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL.")
}

// ExecuteContext runs the CLI and exits non-zero on error.
func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
