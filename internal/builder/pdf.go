package builder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgallion1/pageindex/internal/doctree"
	"github.com/dgallion1/pageindex/internal/parser"
	"github.com/dgallion1/pageindex/internal/toc"
	"github.com/dgallion1/pageindex/internal/tokens"
)

// buildPaged uses the printed TOC when one can be matched and falls back to
// greedy page groups otherwise.
func (b *Builder) buildPaged(ctx context.Context, pages []parser.Page, log *slog.Logger) ([]*doctree.Node, error) {
	pageTokens := make([]int, len(pages))
	for i, p := range pages {
		pageTokens[i] = tokens.Estimate(p.Text)
	}
	s := splitter{maxPages: b.opts.MaxPagesPerNode, maxTokens: b.opts.MaxTokensPerNode, pageTokens: pageTokens}

	res, err := b.detector.Detect(ctx, pages)
	if err != nil {
		return nil, fmt.Errorf("detect toc: %w", err)
	}
	var matched []toc.Matched
	if res.Found {
		matched = b.matcher.Match(ctx, res.Entries, pages)
	}
	if len(matched) == 0 {
		log.Info("no usable toc, grouping pages", "pages", len(pages))
		return s.groups(1, len(pages), ""), nil
	}

	nodes := tocTree(matched, len(pages))
	s.subdivide(nodes)
	return nodes, nil
}

// tocTree nests matched entries by level. A node ends on the page before
// the next entry at the same or a shallower level, never before its start.
func tocTree(matched []toc.Matched, numPages int) []*doctree.Node {
	var roots []*doctree.Node
	if matched[0].StartPage > 1 {
		roots = append(roots, &doctree.Node{Title: "Preface", StartIndex: 1, EndIndex: matched[0].StartPage - 1})
	}

	type open struct {
		node  *doctree.Node
		level int
	}
	var stack []open
	for i, m := range matched {
		end := numPages
		for j := i + 1; j < len(matched); j++ {
			if matched[j].Level <= m.Level {
				end = max(matched[j].StartPage-1, m.StartPage)
				break
			}
		}
		node := &doctree.Node{Title: m.Title, StartIndex: m.StartPage, EndIndex: end}

		for len(stack) > 0 && stack[len(stack)-1].level >= m.Level {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			roots = append(roots, node)
		} else {
			parent := stack[len(stack)-1].node
			parent.Nodes = append(parent.Nodes, node)
		}
		stack = append(stack, open{node: node, level: m.Level})
	}
	extendToChildren(roots)
	return roots
}

// extendToChildren widens parents whose clamped end falls short of a child
// that shares the next section's first page.
func extendToChildren(nodes []*doctree.Node) {
	for _, n := range nodes {
		if len(n.Nodes) == 0 {
			continue
		}
		extendToChildren(n.Nodes)
		if last := n.Nodes[len(n.Nodes)-1]; last.EndIndex > n.EndIndex {
			n.EndIndex = last.EndIndex
		}
	}
}

// splitter groups pages under the per-node page and token ceilings.
type splitter struct {
	maxPages   int
	maxTokens  int
	pageTokens []int
}

func (s splitter) tokens(start, end int) int {
	total := 0
	for p := start; p <= end; p++ {
		total += s.pageTokens[p-1]
	}
	return total
}

func (s splitter) oversized(n *doctree.Node) bool {
	return n.EndIndex-n.StartIndex+1 > s.maxPages || s.tokens(n.StartIndex, n.EndIndex) > s.maxTokens
}

// groups covers [start, end] greedily. A group closes when adding the next
// page would exceed either ceiling. With a title the groups are named
// "<title> (Part n)", otherwise "Pages a-b".
func (s splitter) groups(start, end int, title string) []*doctree.Node {
	var out []*doctree.Node
	for p := start; p <= end; {
		q, used := p, s.pageTokens[p-1]
		for q+1 <= end && q+1-p+1 <= s.maxPages && used+s.pageTokens[q] <= s.maxTokens {
			q++
			used += s.pageTokens[q-1]
		}
		out = append(out, &doctree.Node{StartIndex: p, EndIndex: q})
		p = q + 1
	}
	for i, n := range out {
		switch {
		case title != "":
			n.Title = fmt.Sprintf("%s (Part %d)", title, i+1)
		case n.StartIndex == n.EndIndex:
			n.Title = fmt.Sprintf("Page %d", n.StartIndex)
		default:
			n.Title = fmt.Sprintf("Pages %d-%d", n.StartIndex, n.EndIndex)
		}
	}
	return out
}

// subdivide splits oversized leaves into parts. A parent keeps its children
// and gains leading parts when its own pages before the first child exceed
// a ceiling.
func (s splitter) subdivide(nodes []*doctree.Node) {
	for _, n := range nodes {
		if len(n.Nodes) > 0 {
			s.subdivide(n.Nodes)
			own := &doctree.Node{Title: n.Title, StartIndex: n.StartIndex, EndIndex: n.Nodes[0].StartIndex - 1}
			if own.EndIndex >= own.StartIndex && s.oversized(own) {
				if parts := s.groups(own.StartIndex, own.EndIndex, n.Title); len(parts) > 1 {
					n.Nodes = append(parts, n.Nodes...)
				}
			}
			continue
		}
		if !s.oversized(n) {
			continue
		}
		if parts := s.groups(n.StartIndex, n.EndIndex, n.Title); len(parts) > 1 {
			n.Nodes = parts
		}
	}
}

// fillPageText sets each node's text to its pages, inclusive.
func fillPageText(nodes []*doctree.Node, pages []parser.Page) {
	doctree.Walk(nodes, func(n *doctree.Node, _ int) bool {
		var sb strings.Builder
		for p := n.StartIndex; p <= n.EndIndex && p <= len(pages); p++ {
			if t := pages[p-1].Text; t != "" {
				if sb.Len() > 0 {
					sb.WriteString("\n\n")
				}
				sb.WriteString(t)
			}
		}
		n.Text = sb.String()
		return true
	})
}
