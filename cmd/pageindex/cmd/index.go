package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dgallion1/pageindex/internal/pipeline"
)

var (
	indexInclude      []string
	indexExclude      []string
	indexWatch        bool
	indexRequirements string
	indexConcurrency  int
)

var indexCmd = &cobra.Command{
	Use:   "index <files|dirs|globs...>",
	Short: "Build and store trees for documents",
	Long: `Extract each document, build its table-of-contents tree, store the tree
and add the document to the directory. Directories are walked recursively and
hidden directories are skipped. With --watch, the given directories are
watched afterwards and changed files are re-indexed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringSliceVar(&indexInclude, "include", nil, "only index paths matching these globs (e.g. 'docs/**/*.md')")
	indexCmd.Flags().StringSliceVar(&indexExclude, "exclude", nil, "skip paths matching these globs")
	indexCmd.Flags().BoolVar(&indexWatch, "watch", false, "keep watching the given directories for changes")
	indexCmd.Flags().StringVar(&indexRequirements, "requirements", "", "extra instructions for the document description")
	indexCmd.Flags().IntVar(&indexConcurrency, "concurrency", 0, "documents indexed in parallel (default from config)")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	filter := pipeline.Filter{Include: indexInclude, Exclude: indexExclude}
	paths, err := pipeline.CollectFiles(args, filter)
	if err != nil {
		return err
	}

	bopts := cfg.BuilderOptions()
	bopts.DescriptionRequirements = indexRequirements
	a, err := newApp(ctx, cfg, slog.Default(), true, &bopts)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if len(paths) == 0 {
		fmt.Fprintln(out, dimStyle.Render("No supported documents found."))
	} else {
		concurrency := indexConcurrency
		if concurrency <= 0 {
			concurrency = cfg.PageIndex.IndexConcurrency
		}
		res, err := a.indexer.IndexFiles(ctx, paths, concurrency)
		if err != nil {
			return err
		}
		printBatch(out, res)
	}

	if !indexWatch {
		return nil
	}
	return watchDirs(ctx, a.indexer, args, filter)
}

func watchDirs(ctx context.Context, indexer *pipeline.Indexer, args []string, filter pipeline.Filter) error {
	var dirs []string
	for _, arg := range args {
		if info, err := os.Stat(arg); err == nil && info.IsDir() {
			dirs = append(dirs, arg)
		}
	}
	if len(dirs) == 0 {
		return fmt.Errorf("--watch needs at least one directory argument")
	}

	errCh := make(chan error, len(dirs))
	var wg sync.WaitGroup
	for _, dir := range dirs {
		wg.Add(1)
		go func(dir string) {
			defer wg.Done()
			w := pipeline.NewWatcher(indexer, dir, filter, slog.Default())
			if err := w.Run(ctx); err != nil {
				errCh <- fmt.Errorf("watch %s: %w", dir, err)
			}
		}(dir)
	}
	wg.Wait()
	close(errCh)
	return <-errCh
}
