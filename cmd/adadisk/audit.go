package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/adadisk/audit"
)

func newAuditCmd(rf *rootFlags) *cobra.Command {
	var (
		limit   int
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the run journal",
		Long: `Show the most recent agent runs recorded in the journal, newest first.
With --summary, show per-role totals instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rf.load(cmd)
			if err != nil {
				return err
			}
			if cfg.Audit.Disabled {
				return fmt.Errorf("the run journal is disabled in %s", rf.configPath)
			}

			j, err := audit.Open(cfg.Audit.Path)
			if err != nil {
				return err
			}
			defer j.Close()

			if summary {
				rows, err := j.Summary(cmd.Context())
				if err != nil {
					return err
				}
				return printSummary(cmd.OutOrStdout(), rows)
			}

			runs, err := j.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "number of runs to show")
	cmd.Flags().BoolVarP(&summary, "summary", "s", false, "aggregate runs per role")
	return cmd
}

func printRuns(out io.Writer, runs []audit.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tENTRY\tSTATUS\tDURATION\tTOP-1\tERROR")
	fmt.Fprintln(w, "-------\t-----\t------\t--------\t-----\t-----")
	for _, r := range runs {
		top1 := "-"
		if r.Top1ID >= 0 {
			top1 = fmt.Sprintf("%d (%.4g)", r.Top1ID, r.Top1Distance)
		}
		fmt.Fprintf(w, "%s\t%s_%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Role, r.Dataset,
			r.Status,
			r.Duration.Round(time.Millisecond),
			top1,
			truncate(r.Error, 60),
		)
	}
	return w.Flush()
}

func printSummary(out io.Writer, rows []audit.RoleSummary) error {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENTRY\tRUNS\tACCEPTED\tERRORS\tGENERATED\tBUILT\tRESTORED\tAVG\tLAST")
	fmt.Fprintln(w, "-----\t----\t--------\t------\t---------\t-----\t--------\t---\t----")
	for _, s := range rows {
		fmt.Fprintf(w, "%s_%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			s.Role, s.Dataset,
			s.Runs, s.Accepted, s.Errors,
			s.Generated, s.Built, s.Restored,
			s.AvgDuration.Round(time.Millisecond),
			s.LastStatus,
		)
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
