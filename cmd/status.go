package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/tankindex/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stage checkpoints and the phases of the last run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cps, err := st.ListCheckpoints(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if len(cps) == 0 {
			fmt.Fprintln(os.Stderr, "No completed stages.")
		} else {
			formatCheckpoints(os.Stdout, cps)
		}

		run, err := st.LatestRun(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if run == nil {
			return nil
		}
		phases, err := st.ListPhases(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		fmt.Fprintln(os.Stdout)
		formatRun(os.Stdout, run, phases)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// formatCheckpoints writes one line per completed stage to w.
func formatCheckpoints(out io.Writer, cps []model.Checkpoint) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STAGE\tHASH\tCOMPLETED\tRUN\tOUTPUTS")
	_, _ = fmt.Fprintln(w, "-----\t----\t---------\t---\t-------")
	for _, cp := range cps {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			cp.Stage,
			cp.InputHash,
			cp.CompletedAt.Format("2006-01-02 15:04"),
			truncateID(cp.RunID),
			len(cp.Outputs),
		)
	}
	_ = w.Flush()
}

// formatRun writes a run header and its phases to w.
func formatRun(out io.Writer, run *model.Run, phases []model.RunPhase) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Last run:\t%s\t%s\t%s\n", truncateID(run.ID), run.Status, run.CreatedAt.Format("2006-01-02 15:04"))
	for _, ph := range phases {
		dur, errMsg := "", ""
		if ph.Result != nil {
			dur = (time.Duration(ph.Result.Duration) * time.Millisecond).String()
			errMsg = ph.Result.Error
		}
		_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", ph.Name, ph.Status, dur, errMsg)
	}
	_ = w.Flush()
}

// truncateID shortens a UUID for display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
