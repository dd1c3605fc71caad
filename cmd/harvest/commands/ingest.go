package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/refyne-harvest/internal/ingest"
	"github.com/jmylchreest/refyne-harvest/internal/logging"
	"github.com/jmylchreest/refyne-harvest/internal/merge"
)

var ingestFlags struct {
	recipe  string
	workers int
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestFlags.recipe, "recipe", "", "Recipe whose schema override applies (optional).")
	f.IntVar(&ingestFlags.workers, "workers", 2, "Subjects processed concurrently.")
	rootCmd.AddCommand(ingestCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Run saved documents (.txt, .html, .pdf, .png, .jpg) through inference and the sink.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if info, err := os.Stat(args[0]); err != nil || !info.IsDir() {
			return fmt.Errorf("%s is not a directory", args[0])
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runIngest(ctx, args[0])
	},
}

func runIngest(ctx context.Context, dir string) error {
	sch, err := loadSchema(ingestFlags.recipe)
	if err != nil {
		return err
	}

	runID := ulid.Make().String()
	ctx = logging.WithRunID(ctx, runID)
	merger := merge.New(sch)

	out, err := openOutput(ctx, merger, runID, true)
	if err != nil {
		return err
	}
	defer out.Close()

	in := ingest.New(newModel(), merger, out.sink, ingest.Options{
		MaxTextChars: cfg.MaxTextChars,
		Workers:      ingestFlags.workers,
	}, logger)

	res, ingestErr := in.Dir(ctx, dir)

	// Whatever was merged before a cancel is still written out.
	flush, err := out.sink.Flush(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("failed to flush tables: %w", err)
	}
	if res != nil {
		fmt.Fprintf(os.Stdout, "ingested %d files for %d subjects (%d failed, %d skipped)\n",
			res.Files, res.Subjects, res.Failed, res.Skipped)
	}
	fmt.Fprintf(os.Stdout, "wrote %s and %s\n", flush.SubjectsPath, flush.DetailsPath)
	return ingestErr
}
