package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/refyne-harvest/internal/merge"
	"github.com/jmylchreest/refyne-harvest/internal/report"
)

var reportFlags struct {
	recipe   string
	format   string
	details  bool
	runID    string
	out      string
	maxWidth int
}

func init() {
	f := reportCmd.Flags()
	f.StringVar(&reportFlags.recipe, "recipe", "", "Recipe whose schema override applies (optional).")
	f.StringVarP(&reportFlags.format, "format", "f", "table", "Output format: table, markdown, csv, html.")
	f.BoolVar(&reportFlags.details, "details", false, "Include the details table.")
	f.StringVar(&reportFlags.runID, "run", "", "Only list failures of this run id.")
	f.StringVarP(&reportFlags.out, "out", "o", "", "Write to this file instead of stdout.")
	f.IntVar(&reportFlags.maxWidth, "max-width", 60, "Wrap console cells wider than this; 0 disables.")
	rootCmd.AddCommand(reportCmd)
}

var reportCmd = &cobra.Command{
	Use:   "report [--format table|markdown|csv|html] [--details]",
	Short: "Render the harvested tables from the journal.",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := report.ParseFormat(reportFlags.format)
		if err != nil {
			return err
		}
		sch, err := loadSchema(reportFlags.recipe)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		out, err := openOutput(ctx, merge.New(sch), reportFlags.runID, false)
		if err != nil {
			return err
		}
		defer out.Close()

		records, err := out.sink.Records(ctx)
		if err != nil {
			return fmt.Errorf("failed to read journal: %w", err)
		}
		failures, err := out.journal.Failures(ctx, reportFlags.runID)
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if reportFlags.out != "" {
			file, err := os.Create(reportFlags.out)
			if err != nil {
				return err
			}
			defer file.Close()
			w = file
		}

		return report.Render(w, sch, records, failures, report.Options{
			Format:   format,
			Details:  reportFlags.details,
			MaxWidth: reportFlags.maxWidth,
		})
	},
}
