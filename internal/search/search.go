// Package search asks the model which nodes of each selected document tree
// can answer a query and resolves them into text for answer generation.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dgallion1/pageindex/internal/doctree"
	"github.com/dgallion1/pageindex/internal/llm"
)

const (
	DefaultBatchSize  = 3
	DefaultMaxResults = 5
)

const prompt = `You are given a question and the tree structure of a document. Each node has a title, a node_id, a start_index/end_index range and, when available, a summary of its content. Find all nodes that are likely to contain the answer to the question.

Question: %s

Document: %s

Document tree structure:
%s

Reply in the following JSON format:
{
    "thinking": "<your reasoning about which nodes are relevant>",
    "node_list": ["0001", "0002"]
}
Use an empty list when no node is relevant. Directly return the final JSON structure. Do not output anything else.`

// Loader returns the tree for a doc id.
type Loader interface {
	Load(ctx context.Context, docID string) (*doctree.Tree, error)
}

// Hit is one node chosen for a query.
type Hit struct {
	NodeID     string   `json:"node_id"`
	Title      string   `json:"title"`
	Path       []string `json:"path"`
	StartIndex int      `json:"start_index"`
	EndIndex   int      `json:"end_index"`
	Summary    string   `json:"summary,omitempty"`
	Text       string   `json:"text,omitempty"`
}

// DocResult holds the hits of one document.
type DocResult struct {
	DocID   string `json:"doc_id"`
	DocName string `json:"doc_name"`
	Hits    []Hit  `json:"hits"`
}

// DocError records a document that could not be searched.
type DocError struct {
	DocID   string `json:"doc_id"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

// Result is the outcome of one Search call. Documents and Errors follow the
// order of the requested doc ids.
type Result struct {
	Query     string      `json:"query"`
	Documents []DocResult `json:"documents"`
	Errors    []DocError  `json:"errors,omitempty"`
}

// Empty reports whether no document produced a hit.
func (r *Result) Empty() bool {
	for _, d := range r.Documents {
		if len(d.Hits) > 0 {
			return false
		}
	}
	return true
}

// Options tunes Search.
type Options struct {
	BatchSize  int
	MaxResults int
}

type nodeListResponse struct {
	Thinking string   `json:"thinking"`
	NodeList []string `json:"node_list"`
}

func (r *nodeListResponse) Validate() error {
	if r.NodeList == nil {
		return fmt.Errorf("missing node_list")
	}
	return nil
}

// Searcher runs the per-document node search.
type Searcher struct {
	caller *llm.Caller
	trees  Loader
	opts   Options
	log    *slog.Logger
}

func New(caller *llm.Caller, trees Loader, opts Options, log *slog.Logger) *Searcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	return &Searcher{caller: caller, trees: trees, opts: opts, log: log}
}

type slot struct {
	doc DocResult
	err error
}

// Search queries each document, BatchSize at a time. A failing document is
// reported in Result.Errors and does not affect the others.
func (s *Searcher) Search(ctx context.Context, query string, docIDs []string) *Result {
	slots := make([]slot, len(docIDs))
	for start := 0; start < len(docIDs); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(docIDs))
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				doc, err := s.searchDoc(ctx, query, docIDs[i])
				slots[i] = slot{doc: doc, err: err}
			}(i)
		}
		wg.Wait()
	}

	res := &Result{Query: query, Documents: []DocResult{}}
	for i, sl := range slots {
		if sl.err != nil {
			s.log.Warn("document search failed", "doc_id", docIDs[i], "error", sl.err)
			res.Errors = append(res.Errors, DocError{DocID: docIDs[i], Message: sl.err.Error(), Err: sl.err})
			continue
		}
		res.Documents = append(res.Documents, sl.doc)
	}
	return res
}

func (s *Searcher) searchDoc(ctx context.Context, query, docID string) (DocResult, error) {
	out := DocResult{DocID: docID, Hits: []Hit{}}
	tree, err := s.trees.Load(ctx, docID)
	if err != nil {
		return out, err
	}
	out.DocName = tree.DocName
	if len(tree.Structure) == 0 {
		return out, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doctree.Simplify(tree.Structure)); err != nil {
		return out, fmt.Errorf("encode tree: %w", err)
	}
	req := llm.UserPrompt(fmt.Sprintf(prompt, query, tree.DocName, buf.String()))
	resp, err := llm.CallJSON[nodeListResponse](ctx, s.caller, "tree_search", req)
	if err != nil {
		return out, err
	}

	arena := doctree.NewArena(tree.Structure)
	seen := make(map[string]bool)
	for _, id := range resp.NodeList {
		if len(out.Hits) == s.opts.MaxResults {
			break
		}
		id = strings.TrimSpace(id)
		n, ok := arena.Lookup(id)
		if !ok {
			s.log.Debug("ignoring unknown node id", "doc_id", docID, "node_id", id)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out.Hits = append(out.Hits, Hit{
			NodeID:     n.NodeID,
			Title:      n.Title,
			Path:       arena.Path(id),
			StartIndex: n.StartIndex,
			EndIndex:   n.EndIndex,
			Summary:    n.Summary,
			Text:       n.Text,
		})
	}
	s.log.Debug("document searched", "doc_id", docID, "nodes", arena.Len(), "proposed", len(resp.NodeList), "hits", len(out.Hits))
	return out, nil
}

// FormatContext renders the hits for answer generation, attributing every
// block to its source document.
func FormatContext(r *Result) string {
	var docs []string
	for _, d := range r.Documents {
		if len(d.Hits) == 0 {
			continue
		}
		sections := make([]string, 0, len(d.Hits))
		for _, h := range d.Hits {
			sections = append(sections, formatHit(h))
		}
		docs = append(docs, fmt.Sprintf("[Source: %s]\n\n%s", d.DocName, strings.Join(sections, "\n\n---\n\n")))
	}
	return strings.Join(docs, "\n\n==========\n\n")
}

func formatHit(h Hit) string {
	parts := []string{
		"Title: " + h.Title,
		"Node ID: " + h.NodeID,
		fmt.Sprintf("Range: %d-%d", h.StartIndex, h.EndIndex),
	}
	if h.Summary != "" && h.Summary != h.Text {
		parts = append(parts, "Summary: "+h.Summary)
	}
	if h.Text != "" {
		parts = append(parts, "Content:\n"+h.Text)
	}
	return strings.Join(parts, "\n")
}
