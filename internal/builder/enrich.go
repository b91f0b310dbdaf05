package builder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dgallion1/pageindex/internal/doctree"
	"github.com/dgallion1/pageindex/internal/llm"
	"github.com/dgallion1/pageindex/internal/tokens"
)

const summaryPrompt = `You are given a part of a document. Your task is to generate a description of the partial document about what the main points covered in the partial document are.

Section Title: %s
Partial Document Text:
%s

Directly return the description, do not include any other text.`

// summarize fills node summaries concurrently. Short text is its own
// summary; failed calls leave the summary empty.
func (b *Builder) summarize(ctx context.Context, structure []*doctree.Node, log *slog.Logger) {
	var nodes []*doctree.Node
	doctree.Walk(structure, func(n *doctree.Node, _ int) bool {
		nodes = append(nodes, n)
		return true
	})

	sem := make(chan struct{}, b.opts.SummaryConcurrency)
	var wg sync.WaitGroup
	var calls, failed int
	var mu sync.Mutex
	for _, n := range nodes {
		if n.Text == "" {
			continue
		}
		if tokens.Estimate(n.Text) < b.opts.SummaryTokenThreshold {
			n.Summary = n.Text
			continue
		}
		wg.Add(1)
		go func(n *doctree.Node) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			text := tokens.Truncate(n.Text, b.opts.MaxTokensPerNode)
			reply, err := b.caller.Call(ctx, "summarize", llm.UserPrompt(fmt.Sprintf(summaryPrompt, n.Title, text)))

			mu.Lock()
			calls++
			if err != nil {
				failed++
			}
			mu.Unlock()
			if err != nil {
				log.Warn("summary failed, leaving empty", "title", n.Title, "error", err)
				return
			}
			n.Summary = strings.TrimSpace(reply)
		}(n)
	}
	wg.Wait()
	log.Debug("summaries generated", "nodes", len(nodes), "llm_calls", calls, "failed", failed)
}

// thin merges small leaf children into their parent, deepest first, so a
// parent whose children all merge can itself merge upward.
func thin(nodes []*doctree.Node, threshold int) {
	for _, n := range nodes {
		if len(n.Nodes) == 0 {
			continue
		}
		thin(n.Nodes, threshold)
		kept := n.Nodes[:0]
		for _, c := range n.Nodes {
			basis := c.Summary
			if basis == "" {
				basis = c.Text
			}
			if len(c.Nodes) == 0 && tokens.Estimate(basis) < threshold {
				n.Text = joinText(n.Text, c.Text)
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			n.Nodes = nil
		} else {
			n.Nodes = kept
		}
	}
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n\n" + b
}
