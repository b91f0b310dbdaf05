package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgallion1/pageindex/internal/doctree"
	"github.com/dgallion1/pageindex/internal/parser"
	"github.com/dgallion1/pageindex/internal/pipeline"
	"github.com/dgallion1/pageindex/internal/treestore"
)

var treeOut string

var treeCmd = &cobra.Command{
	Use:   "tree <file>",
	Short: "Build the tree of one document without storing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, slog.Default(), true, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		docID, err := pipeline.DocID(args[0])
		if err != nil {
			return err
		}
		parsed, err := parser.ExtractFile(args[0])
		if err != nil {
			return err
		}
		tree, err := a.indexer.Build(ctx, parsed, docID)
		if err != nil {
			return err
		}
		data, err := doctree.Marshal(tree)
		if err != nil {
			return err
		}
		if treeOut != "" {
			return treestore.WriteAtomic(treeOut, data)
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func init() {
	treeCmd.Flags().StringVarP(&treeOut, "out", "o", "", "write the tree JSON to this file instead of stdout")
	rootCmd.AddCommand(treeCmd)
}
