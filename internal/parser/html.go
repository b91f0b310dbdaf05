package parser

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
)

// HTMLExtractor converts the page body to Markdown and takes the document
// title from <title> when present.
type HTMLExtractor struct{}

func (p *HTMLExtractor) Extract(r io.Reader, filename string) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	root, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	stripElements(root, "script", "style", "nav", "footer")

	var body bytes.Buffer
	if err := html.Render(&body, root); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	md, err := htmltomarkdown.ConvertString(body.String())
	if err != nil {
		return nil, fmt.Errorf("convert html: %w", err)
	}

	doc := parseMarkdown([]byte(md), FormatHTML)
	doc.Name = filename
	doc.Title = trimExt(filename)
	if title := findTitle(root); title != "" {
		doc.Title = title
	}
	return doc, nil
}

// stripElements removes non-content elements before conversion.
func stripElements(n *html.Node, tags ...string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && contains(tags, c.Data) {
			n.RemoveChild(c)
		} else {
			stripElements(c, tags...)
		}
		c = next
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.Join(strings.Fields(buf.String()), " ")
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		return textContent(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}
