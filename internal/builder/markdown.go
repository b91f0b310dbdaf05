package builder

import (
	"strings"

	"github.com/dgallion1/pageindex/internal/doctree"
	"github.com/dgallion1/pageindex/internal/parser"
)

// buildLines nests headings by level. A node spans from its heading line to
// the line before the next heading at the same or a shallower level; its
// text stops at the next heading of any level.
func buildLines(doc *parser.Document) []*doctree.Node {
	lines := doc.Lines
	n := len(lines)
	headings := doc.Headings
	if len(headings) == 0 {
		return []*doctree.Node{{
			Title:      doc.Title,
			StartIndex: 1,
			EndIndex:   n,
			Text:       lineText(lines, 1, n),
		}}
	}

	var roots []*doctree.Node
	if first := headings[0].Line; first > 1 && strings.TrimSpace(lineText(lines, 1, first-1)) != "" {
		roots = append(roots, &doctree.Node{
			Title:      "Preface",
			StartIndex: 1,
			EndIndex:   first - 1,
			Text:       lineText(lines, 1, first-1),
		})
	}

	type open struct {
		node  *doctree.Node
		level int
	}
	var stack []open
	for i, h := range headings {
		end, textEnd := n, n
		if i+1 < len(headings) {
			textEnd = headings[i+1].Line - 1
		}
		for j := i + 1; j < len(headings); j++ {
			if headings[j].Level <= h.Level {
				end = headings[j].Line - 1
				break
			}
		}
		node := &doctree.Node{
			Title:      h.Title,
			StartIndex: h.Line,
			EndIndex:   end,
			Text:       lineText(lines, h.Line, textEnd),
		}

		for len(stack) > 0 && stack[len(stack)-1].level >= h.Level {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			roots = append(roots, node)
		} else {
			parent := stack[len(stack)-1].node
			parent.Nodes = append(parent.Nodes, node)
		}
		stack = append(stack, open{node: node, level: h.Level})
	}
	return roots
}

// lineText joins the 1-based inclusive line range.
func lineText(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines[start-1:end], "\n"))
}
