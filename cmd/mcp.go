package cmd

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/abhisek/tierkit/internal/mcpserver"
	"github.com/abhisek/tierkit/internal/service"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve domains and classification as MCP tools over stdio",
	Long: `Start a Model Context Protocol server on stdin/stdout exposing the
list_domains, describe_domain and classify tools. Logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return mcpserver.NewServer(service.New(cat), version).Run(ctx)
	},
}
