package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hupe1980/adadisk/dataset"
	"github.com/hupe1980/adadisk/gate"
	"github.com/hupe1980/adadisk/internal/fs"
	"github.com/hupe1980/adadisk/namespace"
)

func newStatusCmd(rf *rootFlags) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the dataset and index state of each role",
		Long: `Show, for every role, whether its dataset and index are present and
whether the index passes verification. Nothing is modified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rf.load(cmd)
			if err != nil {
				return err
			}
			ns, err := cfg.Namespace()
			if err != nil {
				return err
			}
			verification, err := gate.ParseVerification(cfg.Gate.Verification)
			if err != nil {
				return err
			}
			checker := gate.NewChecker(gate.WithVerification(verification))

			var entries []namespace.Entry
			for _, role := range []namespace.Role{namespace.RoleIngest, namespace.RoleQuery} {
				entry, err := ns.Resolve(role, cfg.Dataset)
				if err != nil {
					return err
				}
				entries = append(entries, entry)
			}
			return printStatus(cmd.OutOrStdout(), checker, entries, verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "explain incomplete indexes")
	return cmd
}

func printStatus(out io.Writer, checker *gate.Checker, entries []namespace.Entry, verbose bool) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENTRY\tDATASET\tINDEX\tBUILT")
	fmt.Fprintln(w, "-----\t-------\t-----\t-----")

	var reasons []string
	for _, e := range entries {
		data := "missing"
		if h, err := dataset.Stat(e.DataPath); err == nil {
			data = fmt.Sprintf("%dx%d (%s)", h.Points, h.Dimension, humanize.IBytes(uint64(h.Size())))
		} else if fs.Exists(fs.Default, e.DataPath) {
			data = "malformed"
		}

		index := "missing"
		if checker.IndexBuilt(e.SentinelPath) {
			if err := checker.Verify(e); err != nil {
				index = "incomplete"
				reasons = append(reasons, fmt.Sprintf("%s: %v", e.Name(), err))
			} else {
				index = "complete"
			}
		}

		built := "-"
		if m, err := gate.ReadManifest(fs.Default, e.ManifestPath); err == nil {
			built = fmt.Sprintf("%s (%s)", humanize.Time(m.CreatedAt), m.Engine)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Name(), data, index, built)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if verbose {
		for _, r := range reasons {
			fmt.Fprintln(out, r)
		}
	}
	return nil
}
