package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tankindex/internal/pipeline"
	"github.com/sells-group/tankindex/internal/raster"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tank index pipeline",
	Long: "Runs every stage (or the stages named with --stage) in order. Stages whose inputs and " +
		"settings are unchanged since they last completed are skipped unless --force is given.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		stages, _ := cmd.Flags().GetStringSlice("stage")
		force, _ := cmd.Flags().GetBool("force")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p := pipeline.New(cfg, st, raster.NewGDAL())
		report, err := p.Run(ctx, stages, force)
		if report != nil {
			formatReport(os.Stdout, report)
		}
		if err != nil {
			return eris.Wrap(err, "run")
		}

		zap.L().Info("run complete",
			zap.String("run_id", report.RunID),
			zap.String("output_dir", cfg.Paths.OutputDir),
		)
		return nil
	},
}

func init() {
	runCmd.Flags().StringSlice("stage", nil, "stage ids to run (default all)")
	runCmd.Flags().Bool("force", false, "rerun stages even when their checkpoint is fresh")
	rootCmd.AddCommand(runCmd)
}

// formatReport writes one line per phase to w.
func formatReport(out io.Writer, r *pipeline.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", r.RunID)
	_, _ = fmt.Fprintln(w, "STAGE\tSTATUS\tDURATION\tHASH\tDETAIL")
	_, _ = fmt.Fprintln(w, "-----\t------\t--------\t----\t------")
	for _, ph := range r.Phases {
		detail := ph.Error
		if detail == "" {
			detail = formatMetadata(ph.Metadata)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			ph.Name,
			ph.Status,
			(time.Duration(ph.Duration) * time.Millisecond).String(),
			ph.InputHash,
			detail,
		)
	}
	_ = w.Flush()
}

// formatMetadata renders metadata as sorted key=value pairs.
func formatMetadata(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, m[k])
	}
	return strings.Join(parts, " ")
}
