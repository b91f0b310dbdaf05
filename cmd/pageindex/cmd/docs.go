package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dgallion1/pageindex/internal/errs"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, slog.Default(), false, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		entries := a.dir.Entries()
		if listJSON {
			return printJSON(cmd.OutOrStdout(), entries)
		}
		printDocuments(cmd.OutOrStdout(), entries)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <doc_id>...",
	Short: "Remove documents from the store and the directory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, slog.Default(), false, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		var failed int
		for _, id := range args {
			err := a.indexer.Remove(cmd.Context(), id)
			switch {
			case errors.Is(err, errs.ErrNotFound):
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s not found\n", errorStyle.Render("✗"), id)
			case err != nil:
				return err
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s removed\n", successStyle.Render("✓"), id)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d document(s) not found", failed)
		}
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the directory from the stored trees",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, slog.Default(), false, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		skipped, err := a.indexer.Rebuild(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d documents", successStyle.Render("Directory rebuilt:"), a.dir.Len())
		if skipped > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), ", %s", errorStyle.Render(fmt.Sprintf("%d unreadable trees skipped", skipped)))
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print the directory as JSON")
	rootCmd.AddCommand(listCmd, removeCmd, rebuildCmd)
}
