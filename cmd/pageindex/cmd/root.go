package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgallion1/pageindex/internal/config"
)

var (
	cfgFile string
	verbose bool
	cfg     config.Config
	cfgErr  error
)

var rootCmd = &cobra.Command{
	Use:   "pageindex",
	Short: "Reasoning-based retrieval over document table-of-contents trees",
	Long: `pageindex builds a hierarchical table-of-contents tree for each PDF,
Markdown, DOCX, HTML or text document and answers questions by letting the
model pick documents from a directory and then reason over their trees.

Commands:
  index    Build and store trees for files or directories
  tree     Print the tree of one file without storing it
  list     List indexed documents
  remove   Remove a document
  rebuild  Rebuild the directory from stored trees
  search   Select documents and search their trees
  query    Answer a question from the indexed documents
  serve    Start the HTTP API
  mcp      Start the MCP server on stdio`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cfgErr
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig, initLogger)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./pageindex.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

func initLogger() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

func initConfig() {
	cfg, cfgErr = config.Load(cfgFile)
}
