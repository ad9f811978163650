package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/tierkit/internal/report"
	"github.com/abhisek/tierkit/internal/store"
	"github.com/abhisek/tierkit/internal/trend"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Browse saved classification runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		domain, _ := cmd.Flags().GetString("domain")
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.Runs().List(cmd.Context(), store.ListOpts{Domain: domain, Limit: limit})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs saved yet. Use 'tierkit classify --save'.")
			return nil
		}

		fmt.Fprintf(out, "%-8s  %-10s  %-14s  %-16s  %6s  %6s  %s\n", "ID", "Domain", "Version", "Created", "Tiered", "Skip", "Source")
		fmt.Fprintln(out, strings.Repeat("─", 80))
		for _, r := range runs {
			fmt.Fprintf(out, "%-8s  %-10s  %-14s  %-16s  %6d  %6d  %s\n",
				r.ID.String()[:8],
				r.Domain,
				r.Version,
				r.CreatedAt.Local().Format("2006-01-02 15:04"),
				r.Classified,
				r.Skipped,
				r.Source,
			)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print a saved run (id prefixes are accepted)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatName, _ := cmd.Flags().GetString("format")
		format, err := report.ParseFormat(formatName)
		if err != nil {
			return err
		}

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := loadRun(cmd, st, args[0])
		if err != nil {
			return err
		}
		doc := report.New(run.Batch(), run.Reconciliation)
		doc.RunID = run.ID.String()
		return report.Emitter{Format: format}.Emit(cmd.OutOrStdout(), doc)
	},
}

var runsDiffCmd = &cobra.Command{
	Use:   "diff <base-run> <head-run>",
	Short: "Show how records moved between two runs of a domain",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		base, err := loadRun(cmd, st, args[0])
		if err != nil {
			return err
		}
		head, err := loadRun(cmd, st, args[1])
		if err != nil {
			return err
		}
		d, err := trend.Compare(base.Batch(), head.Batch())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		}

		if d.Warning != "" {
			fmt.Fprintf(out, "warning: %s\n\n", d.Warning)
		}
		fmt.Fprintf(out, "%s %s -> %s\n", d.Domain, d.BaseVersion, d.HeadVersion)
		fmt.Fprintf(out, "moved %d, shifted %d, stable %d, added %d, removed %d\n\n",
			len(d.Moves), len(d.Shifted), d.Stable, len(d.Added), len(d.Removed))

		if len(d.Moves) > 0 {
			fmt.Fprintf(out, "%-20s  %-16s  %-16s  %8s\n", "Record", "From", "To", "Delta")
			fmt.Fprintln(out, strings.Repeat("─", 66))
			for _, m := range d.Moves {
				fmt.Fprintf(out, "%-20s  %-16s  %-16s  %+8.2f\n", m.RecordID, m.FromTier, m.ToTier, m.Delta)
			}
			fmt.Fprintln(out)
		}

		fmt.Fprintf(out, "%-16s  %6s  %6s  %6s\n", "Tier", "Before", "After", "Delta")
		fmt.Fprintln(out, strings.Repeat("─", 40))
		for _, c := range d.Counts {
			fmt.Fprintf(out, "%-16s  %6d  %6d  %+6d\n", c.Tier, c.Before, c.After, c.Delta)
		}
		return nil
	},
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the newest runs of a domain",
	RunE: func(cmd *cobra.Command, args []string) error {
		domain, _ := cmd.Flags().GetString("domain")
		keep, _ := cmd.Flags().GetInt("keep")

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.Runs().Prune(cmd.Context(), domain, keep)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d run(s) of %s.\n", n, domain)
		return nil
	},
}

func loadRun(cmd *cobra.Command, st *store.Store, prefix string) (*store.Run, error) {
	id, err := st.Runs().Resolve(cmd.Context(), prefix)
	if err != nil {
		return nil, err
	}
	return st.Runs().Get(cmd.Context(), id)
}

func init() {
	runsListCmd.Flags().String("domain", "", "Only list runs of this domain")
	runsListCmd.Flags().Int("limit", 20, "Maximum runs to list (0 for all)")

	runsShowCmd.Flags().StringP("format", "f", "table", "Output format: table, json or csv")

	runsDiffCmd.Flags().Bool("json", false, "Print the diff as JSON")

	runsPruneCmd.Flags().String("domain", "", "Domain whose runs to prune")
	runsPruneCmd.Flags().Int("keep", 10, "Number of newest runs to keep")
	_ = runsPruneCmd.MarkFlagRequired("domain")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDiffCmd)
	runsCmd.AddCommand(runsPruneCmd)
}
