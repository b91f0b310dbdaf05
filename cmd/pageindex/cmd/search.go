package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/pageindex/internal/retrieval"
)

var (
	searchK          int
	searchNodes      bool
	searchJSON       bool
	noRewrite        bool
	queryRaw         bool
	queryStream      bool
	queryInteractive bool
)

func queryOptions() []retrieval.QueryOption {
	if noRewrite {
		return []retrieval.QueryOption{retrieval.WithoutRewrite()}
	}
	return nil
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Select documents and find the relevant sections of their trees",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, slog.Default(), true, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		resp, err := a.engine.Retrieve(cmd.Context(), strings.Join(args, " "), searchK, queryOptions()...)
		if err != nil {
			return friendly(err)
		}
		if searchJSON {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		printSearch(cmd.OutOrStdout(), resp, searchNodes)
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Answer a question from the indexed documents",
	Long: `Answer a question from the indexed documents. With --interactive,
questions are read one per line until "quit", "exit" or end of input, and
every answer is streamed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !queryInteractive && len(args) == 0 {
			return errors.New("a question is required unless --interactive is set")
		}
		a, err := newApp(cmd.Context(), cfg, slog.Default(), true, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		if queryInteractive {
			return interactive(cmd.Context(), cmd.InOrStdin(), out, func(ctx context.Context, q string) error {
				_, err := streamAnswer(ctx, a.engine, q, out)
				return err
			})
		}

		question := strings.Join(args, " ")
		if queryStream {
			_, err := streamAnswer(cmd.Context(), a.engine, question, out)
			return friendly(err)
		}
		resp, err := a.engine.Answer(cmd.Context(), question, searchK, queryOptions()...)
		if err != nil {
			return friendly(err)
		}
		if queryRaw {
			fmt.Fprintln(out, resp.Answer)
			return nil
		}
		printAnswer(out, resp)
		return nil
	},
}

type answerStreamer interface {
	AnswerStream(ctx context.Context, query string, k int, emit func(string) error, opts ...retrieval.QueryOption) (*retrieval.Response, error)
}

// streamAnswer writes the answer to w as it is generated, then its sources.
func streamAnswer(ctx context.Context, engine answerStreamer, question string, w io.Writer) (*retrieval.Response, error) {
	resp, err := engine.AnswerStream(ctx, question, searchK, func(delta string) error {
		_, err := io.WriteString(w, delta)
		return err
	}, queryOptions()...)
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	printSources(w, resp)
	return resp, nil
}

// interactive answers one question per input line until quit, exit, q or
// end of input. A failed question is reported and the loop continues.
func interactive(ctx context.Context, in io.Reader, w io.Writer, ask func(ctx context.Context, q string) error) error {
	fmt.Fprintln(w, titleStyle.Render("PageIndex interactive query"))
	fmt.Fprintln(w, dimStyle.Render(`Ask a question, or type "quit" to leave.`))
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(w, "\n"+titleStyle.Render("Question: "))
		if !scanner.Scan() {
			fmt.Fprintln(w)
			return scanner.Err()
		}
		q := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(q) {
		case "":
			continue
		case "quit", "exit", "q":
			return nil
		}
		fmt.Fprintln(w)
		if err := ask(ctx, q); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(w, "%s %s\n", errorStyle.Render("✗"), friendly(err))
		}
	}
}

func init() {
	for _, c := range []*cobra.Command{searchCmd, queryCmd} {
		c.Flags().IntVarP(&searchK, "k", "k", 0, "maximum number of documents to search (default from config)")
	}
	for _, c := range []*cobra.Command{searchCmd, queryCmd} {
		c.Flags().BoolVar(&noRewrite, "no-rewrite", false, "search the trees with the question as asked")
	}
	searchCmd.Flags().BoolVar(&searchNodes, "nodes", false, "print the text of each matching node")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print the full result as JSON")
	queryCmd.Flags().BoolVar(&queryRaw, "raw", false, "print only the answer text")
	queryCmd.Flags().BoolVar(&queryStream, "stream", false, "print the answer as it is generated")
	queryCmd.Flags().BoolVarP(&queryInteractive, "interactive", "i", false, "answer questions read from stdin, streaming each answer")
	rootCmd.AddCommand(searchCmd, queryCmd)
}
