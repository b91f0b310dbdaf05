// Package answer writes the final reply to a question from the node text
// gathered by the tree search.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgallion1/pageindex/internal/llm"
	"github.com/dgallion1/pageindex/internal/tokens"
)

// NoAnswer is returned when retrieval found nothing to answer from.
const NoAnswer = "Sorry, the indexed documents do not contain enough information to answer this question yet."

const prompt = `You are a question answering assistant. Answer the question using only the context below. Each context block names its source document; cite the source names you rely on. If the context does not contain enough information, say so plainly.

Question: %s

Context:
%s

Directly return the answer, do not include any other text.`

// Generator answers questions with one model call.
type Generator struct {
	caller           *llm.Caller
	maxContextTokens int
	log              *slog.Logger
}

// New returns a Generator that truncates context beyond maxContextTokens
// (0 means no limit).
func New(caller *llm.Caller, maxContextTokens int, log *slog.Logger) *Generator {
	return &Generator{caller: caller, maxContextTokens: maxContextTokens, log: log}
}

// fit truncates sources to the context budget.
func (g *Generator) fit(sources string) string {
	if g.maxContextTokens > 0 && tokens.Estimate(sources) > g.maxContextTokens {
		g.log.Warn("answer context truncated", "tokens", tokens.Estimate(sources), "limit", g.maxContextTokens)
		return tokens.Truncate(sources, g.maxContextTokens)
	}
	return sources
}

// Generate answers query from the formatted search context. Blank
// sources yield NoAnswer without a model call.
func (g *Generator) Generate(ctx context.Context, query, sources string) (string, error) {
	if strings.TrimSpace(sources) == "" {
		return NoAnswer, nil
	}
	reply, err := g.caller.Call(ctx, "answer", llm.UserPrompt(fmt.Sprintf(prompt, query, g.fit(sources))))
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return NoAnswer, nil
	}
	return reply, nil
}

// Stream is Generate with the reply passed to emit as it is produced.
// NoAnswer is emitted whole.
func (g *Generator) Stream(ctx context.Context, query, sources string, emit func(delta string) error) (string, error) {
	if strings.TrimSpace(sources) == "" {
		return NoAnswer, emit(NoAnswer)
	}
	reply, err := g.caller.Stream(ctx, "answer", llm.UserPrompt(fmt.Sprintf(prompt, query, g.fit(sources))), emit)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}
