package parser

import (
	"bytes"
	"io"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownExtractor handles Markdown files using goldmark. Headings come
// from the AST, so '#' lines inside fenced code are never headings.
type MarkdownExtractor struct{}

func (p *MarkdownExtractor) Extract(r io.Reader, filename string) (*Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	doc := parseMarkdown(src, FormatMarkdown)
	doc.Name = filename
	doc.Title = trimExt(filename)
	return doc, nil
}

// parseMarkdown splits src into lines and locates top-level headings.
func parseMarkdown(src []byte, format Format) *Document {
	src = bytes.ReplaceAll(src, []byte("\r\n"), []byte("\n"))
	doc := &Document{Format: format, Lines: splitLines(string(src))}

	lineStarts := []int{0}
	for i, b := range src {
		if b == '\n' {
			lineStarts = append(lineStarts, i+1)
		}
	}
	lineOf := func(offset int) int {
		// Index of the last line start <= offset, 1-based.
		return sort.Search(len(lineStarts), func(i int) bool { return lineStarts[i] > offset })
	}

	root := goldmark.New().Parser().Parse(text.NewReader(src))
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok {
			continue
		}
		lines := h.Lines()
		if lines.Len() == 0 {
			continue
		}
		var title strings.Builder
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			if i > 0 {
				title.WriteByte(' ')
			}
			title.Write(bytes.TrimSpace(seg.Value(src)))
		}
		t := strings.TrimSpace(title.String())
		if t == "" {
			continue
		}
		doc.Headings = append(doc.Headings, Heading{
			Level: h.Level,
			Title: t,
			Line:  lineOf(lines.At(0).Start),
		})
	}
	return doc
}

// splitLines drops the empty element produced by a trailing newline.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
