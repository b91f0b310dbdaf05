// Package describe writes the one-sentence document descriptions that the
// directory index uses to tell documents apart.
package describe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgallion1/pageindex/internal/doctree"
	"github.com/dgallion1/pageindex/internal/llm"
	"github.com/dgallion1/pageindex/internal/tokens"
)

const prompt = `You are an expert in generating descriptions for a document.
You are given the structure of a document. Your task is to generate a one-sentence description for the document, which makes it easy to distinguish the document from other documents.

Document Structure:
%s
%s
Directly return the description, do not include any other text.`

// Generator produces document descriptions with one model call each.
type Generator struct {
	caller *llm.Caller
	log    *slog.Logger
}

func New(caller *llm.Caller, log *slog.Logger) *Generator {
	return &Generator{caller: caller, log: log}
}

// maxOutlineTokens bounds the outline sent for one description. Deeper
// levels are dropped until the outline fits.
const maxOutlineTokens = 16000

// encodeOutline encodes the text-free structure, keeping as many levels as fit
// in maxOutlineTokens. The top level is always kept.
func encodeOutline(structure []*doctree.Node) ([]byte, int, error) {
	var out []byte
	for _, depth := range []int{0, 4, 3, 2, 1} {
		b, err := json.MarshalIndent(doctree.Outline(structure, depth), "", "  ")
		if err != nil {
			return nil, 0, err
		}
		out = b
		if tokens.Estimate(string(b)) <= maxOutlineTokens {
			return b, depth, nil
		}
	}
	return out, 1, nil
}

// Generate describes the document from its titles and summaries. It never
// fails: any error yields Placeholder.
func (g *Generator) Generate(ctx context.Context, docName string, structure []*doctree.Node, requirements string) string {
	outline, depth, err := encodeOutline(structure)
	if err != nil {
		g.log.Warn("description outline encode failed", "doc_name", docName, "error", err)
		return Placeholder(docName, len(structure))
	}
	if depth > 0 {
		g.log.Debug("description outline shortened", "doc_name", docName, "depth", depth)
	}

	var extra string
	if r := strings.TrimSpace(requirements); r != "" {
		extra = "\nAdditional requirements for the description:\n" + r + "\n"
	}
	reply, err := g.caller.Call(ctx, "describe", llm.UserPrompt(fmt.Sprintf(prompt, outline, extra)))
	if err != nil {
		g.log.Warn("description generation failed, using placeholder", "doc_name", docName, "error", err)
		return Placeholder(docName, len(structure))
	}
	desc := clean(reply)
	if desc == "" {
		return Placeholder(docName, len(structure))
	}
	return desc
}

// Placeholder is used when no description could be generated.
func Placeholder(docName string, sections int) string {
	return fmt.Sprintf("Document titled '%s' covering %d main sections", docName, sections)
}

func clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "Description:")
	s = strings.TrimSpace(s)
	for _, q := range [][2]string{{`"`, `"`}, {"'", "'"}, {"“", "”"}, {"`", "`"}} {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			s = strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
		}
	}
	return s
}
