package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dgallion1/pageindex/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server on stdio",
	Long: `Start a Model Context Protocol server on stdio exposing the
document_search, tree_search and list_documents tools.

Example Claude Desktop configuration:
  {
    "mcpServers": {
      "pageindex": {
        "command": "pageindex",
        "args": ["mcp", "--config", "/path/to/pageindex.yaml"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, slog.Default(), true, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		s := mcpserver.NewServer(mcpserver.Config{
			Name:    cfg.MCP.Name,
			Version: cfg.MCP.Version,
		}, a.engine, a.dir, slog.Default())

		slog.Info("starting MCP server", "name", cfg.MCP.Name, "documents", a.dir.Len())
		return s.ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
