package parser

import (
	"bufio"
	"io"
	"strings"
)

// TextExtractor handles plain text files. Text has no headings; the builder
// covers it with a single node or line groups.
type TextExtractor struct{}

func (p *TextExtractor) Extract(r io.Reader, filename string) (*Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), " \t\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	// Trailing blank lines carry no content.
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	return &Document{
		Name:   filename,
		Title:  trimExt(filename),
		Format: FormatText,
		Lines:  lines,
	}, nil
}
