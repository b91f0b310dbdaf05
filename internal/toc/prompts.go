package toc

import (
	"fmt"
	"strings"

	"github.com/dgallion1/pageindex/internal/parser"
)

const maxPromptPageChars = 4000

const detectPrompt = `You are an expert in analyzing document structure. You are given the first pages of a PDF document, each wrapped in <page_N> tags where N is the physical page number.

Decide whether these pages contain a Table of Contents. If they do, transcribe every entry of it.

For each entry extract:
- structure: the hierarchical index ("1", "1.1", "1.2.3"); use "" for unnumbered entries
- title: the entry title exactly as printed
- page: the page number printed next to the entry as an integer, or null if none is printed

Pages:
%s

Respond in JSON format:
{
  "thinking": "<your reasoning>",
  "toc_detected": "<yes or no>",
  "entries": [
    {"structure": "1", "title": "Introduction", "page": 5}
  ]
}

Directly return the JSON structure. Do not output anything else.`

const locatePrompt = `You are an expert in analyzing document structure. A section titled %q should start somewhere in the pages below, each wrapped in <page_N> tags where N is the physical page number.

Find the physical page on which this section starts. If the section does not start on any of these pages, answer null.

Pages:
%s

Respond in JSON format:
{
  "thinking": "<your reasoning>",
  "start_page": <page number or null>
}

Directly return the JSON structure. Do not output anything else.`

func buildDetectPrompt(pages []parser.Page) string {
	return fmt.Sprintf(detectPrompt, taggedPages(pages))
}

func buildLocatePrompt(title string, pages []parser.Page) string {
	return fmt.Sprintf(locatePrompt, title, taggedPages(pages))
}

func taggedPages(pages []parser.Page) string {
	var sb strings.Builder
	for _, p := range pages {
		text := p.Text
		if len(text) > maxPromptPageChars {
			text = text[:maxPromptPageChars] + "\n...[truncated]"
		}
		fmt.Fprintf(&sb, "<page_%d>\n%s\n</page_%d>\n", p.Number, text, p.Number)
	}
	return sb.String()
}
