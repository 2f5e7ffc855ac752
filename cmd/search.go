package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/tankindex/internal/buffer"
	"github.com/sells-group/tankindex/internal/pipeline"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run the buffer radius search and print the radii",
	Long: "Searches the buffer radius of every district (or the districts named with --district) " +
		"from the artifacts of the reconcile stage. Nothing is written.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		districts, _ := cmd.Flags().GetStringSlice("district")
		verbose, _ := cmd.Flags().GetBool("trace")

		p := pipeline.New(cfg, nil, nil)
		results, err := p.Search(ctx, districts)
		if err != nil {
			return eris.Wrap(err, "search")
		}
		formatResults(os.Stdout, results, verbose)
		return nil
	},
}

func init() {
	searchCmd.Flags().StringSlice("district", nil, "district names to search (default all)")
	searchCmd.Flags().Bool("trace", false, "print every search iteration")
	rootCmd.AddCommand(searchCmd)
}

// formatResults writes the accepted radius of every district to w, and the
// iterations that led to it when trace is set.
func formatResults(out io.Writer, results []buffer.Result, trace bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DISTRICT\tSTATE\tRADIUS_M\tPOPULATION\tFRACTION")
	_, _ = fmt.Fprintln(w, "--------\t-----\t--------\t----------\t--------")
	for _, r := range results {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%.0f\t%.4f\n", r.Name, r.State, r.RadiusM, r.Population, r.Fraction)
		if !trace {
			continue
		}
		for _, s := range r.Trace {
			_, _ = fmt.Fprintf(w, "  #%d\t\t%d\t%.0f\t%.4f\n", s.Iteration, s.RadiusM, s.Population, s.Fraction)
		}
	}
	_ = w.Flush()
}
