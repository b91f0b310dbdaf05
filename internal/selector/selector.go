// Package selector picks the documents worth searching for a query from
// the directory index, rewriting the query for retrieval on the way.
package selector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/pageindex/internal/directory"
	"github.com/dgallion1/pageindex/internal/llm"
)

const DefaultMaxDocuments = 3

const prompt = `You are given a question and a list of documents, each with an id, a file name and a description. Your tasks:
1. Rewrite the question into a precise, self-contained search query. Resolve relative time expressions such as "last year" or "this month" against the current date. Keep the language of the question.
2. Select the documents that may contain information needed to answer it, most relevant first.

Current date: %s

Question: %s

Documents:
%s

Reply in the following JSON format:
{
    "thinking": "<your reasoning about which documents are relevant>",
    "rewritten_query": "<the rewritten query>",
    "answer": ["doc_id1", "doc_id2"]
}
Use an empty list for "answer" when no document is relevant. Directly return the final JSON structure. Do not output anything else.`

// Directory lists the candidate documents.
type Directory interface {
	Entries() []directory.Entry
}

// Selection is the outcome of Select.
type Selection struct {
	Query          string   `json:"query"`
	RewrittenQuery string   `json:"rewritten_query"`
	DocIDs         []string `json:"doc_ids"`
}

type selectResponse struct {
	Thinking       string   `json:"thinking"`
	RewrittenQuery string   `json:"rewritten_query"`
	Answer         []string `json:"answer"`
}

func (r *selectResponse) Validate() error {
	if r.Answer == nil {
		return fmt.Errorf("missing answer list")
	}
	return nil
}

// Selector chooses documents with one model call per query.
type Selector struct {
	caller *llm.Caller
	dir    Directory
	log    *slog.Logger
	now    func() time.Time
}

func New(caller *llm.Caller, dir Directory, log *slog.Logger) *Selector {
	return &Selector{caller: caller, dir: dir, log: log, now: time.Now}
}

// Select returns at most k known doc ids in model order. Unusable model
// output yields an empty selection; only an exhausted or permanent model
// failure is returned as an error.
func (s *Selector) Select(ctx context.Context, query string, k int) (*Selection, error) {
	if k <= 0 {
		k = DefaultMaxDocuments
	}
	sel := &Selection{Query: query, RewrittenQuery: query, DocIDs: []string{}}
	entries := s.dir.Entries()
	if len(entries) == 0 {
		s.log.Info("directory is empty, nothing to select")
		return sel, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return nil, fmt.Errorf("encode directory: %w", err)
	}
	req := llm.UserPrompt(fmt.Sprintf(prompt, s.now().Format("2006-01-02"), query, buf.String()))

	resp, err := llm.CallJSON[selectResponse](ctx, s.caller, "select_documents", req)
	if llm.IsInvalidResponse(err) {
		s.log.Warn("unusable document selection, returning none", "error", err)
		return sel, nil
	}
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		known[e.DocID] = true
	}
	seen := make(map[string]bool)
	for _, id := range resp.Answer {
		if len(sel.DocIDs) == k {
			break
		}
		if !known[id] {
			s.log.Warn("model selected unknown document", "doc_id", id)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		sel.DocIDs = append(sel.DocIDs, id)
	}
	if resp.RewrittenQuery != "" {
		sel.RewrittenQuery = resp.RewrittenQuery
	}
	s.log.Info("documents selected", "candidates", len(entries), "selected", len(sel.DocIDs))
	return sel, nil
}
