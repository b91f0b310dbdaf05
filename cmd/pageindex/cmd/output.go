package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dgallion1/pageindex/internal/directory"
	"github.com/dgallion1/pageindex/internal/errs"
	"github.com/dgallion1/pageindex/internal/pipeline"
	"github.com/dgallion1/pageindex/internal/retrieval"
	"github.com/dgallion1/pageindex/internal/search"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	answerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printBatch(w io.Writer, res *pipeline.BatchResult) {
	for _, d := range res.Indexed {
		size := fmt.Sprintf("%d lines", d.LineCount)
		if d.PageCount > 0 {
			size = fmt.Sprintf("%d pages", d.PageCount)
		}
		fmt.Fprintf(w, "%s %s %s\n", successStyle.Render("✓"), d.Filename,
			dimStyle.Render(fmt.Sprintf("(%s, %s, %d nodes)", d.DocID, size, d.Nodes)))
	}
	for _, f := range res.Failed {
		fmt.Fprintf(w, "%s %s %s\n", errorStyle.Render("✗"), f.Path, dimStyle.Render(errs.UserMessage(f.Err)))
	}
	fmt.Fprintf(w, "\n%s %d indexed, %d failed\n", dimStyle.Render("Done:"), len(res.Indexed), len(res.Failed))
}

func printDocuments(w io.Writer, entries []directory.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No documents indexed."))
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %s\n", dimStyle.Render(e.DocID), titleStyle.Render(e.DocName))
		if e.DocDescription != "" {
			fmt.Fprintf(w, "    %s\n", e.DocDescription)
		}
	}
}

func printSearch(w io.Writer, resp *retrieval.Response, showText bool) {
	fmt.Fprintf(w, "%s %s\n", dimStyle.Render("Query:"), resp.RewrittenQuery)
	if len(resp.DocIDs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No relevant documents."))
		return
	}
	for _, d := range resp.Search.Documents {
		fmt.Fprintf(w, "\n%s %s\n", titleStyle.Render(d.DocName), dimStyle.Render(d.DocID))
		if len(d.Hits) == 0 {
			fmt.Fprintln(w, dimStyle.Render("  no relevant sections"))
		}
		for _, h := range d.Hits {
			printHit(w, h, showText)
		}
	}
	for _, e := range resp.Search.Errors {
		fmt.Fprintf(w, "\n%s %s: %s\n", errorStyle.Render("✗"), e.DocID, e.Message)
	}
}

func printHit(w io.Writer, h search.Hit, showText bool) {
	fmt.Fprintf(w, "  %s %s %s\n", dimStyle.Render("["+h.NodeID+"]"), strings.Join(h.Path, " › "),
		dimStyle.Render(fmt.Sprintf("%d-%d", h.StartIndex, h.EndIndex)))
	if showText && h.Text != "" {
		for _, line := range strings.Split(strings.TrimSpace(h.Text), "\n") {
			fmt.Fprintf(w, "      %s\n", line)
		}
	}
}

func printAnswer(w io.Writer, resp *retrieval.Response) {
	fmt.Fprintln(w, answerStyle.Render(resp.Answer))
	printSources(w, resp)
}

func printSources(w io.Writer, resp *retrieval.Response) {
	var sources []string
	for _, d := range resp.Search.Documents {
		if len(d.Hits) > 0 {
			sources = append(sources, d.DocName)
		}
	}
	if len(sources) > 0 {
		fmt.Fprintf(w, "%s %s\n", dimStyle.Render("Sources:"), strings.Join(sources, ", "))
	}
}
