package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var domainsCmd = &cobra.Command{
	Use:   "domains",
	Short: "Inspect classification domains",
}

var domainsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available domains",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "%-10s  %-14s  %-8s  %s\n", "Name", "Version", "Tiers", "Source")
		fmt.Fprintln(out, strings.Repeat("─", 60))
		for _, def := range cat.Definitions() {
			fmt.Fprintf(out, "%-10s  %-14s  %-8d  %s\n",
				def.Domain.Name(),
				def.Domain.Version(),
				len(def.Domain.Tiers()),
				def.Document.Source,
			)
		}
		return nil
	},
}

var domainsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a domain document as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		def, err := cat.Get(args[0])
		if err != nil {
			return err
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(def.Document); err != nil {
			return fmt.Errorf("encode domain: %w", err)
		}
		return enc.Close()
	},
}

func init() {
	domainsCmd.AddCommand(domainsListCmd)
	domainsCmd.AddCommand(domainsShowCmd)
}
