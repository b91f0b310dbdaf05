// Package retrieval chains document selection, tree search and answer
// generation into the query flow shared by the CLI, HTTP and MCP surfaces.
package retrieval

import (
	"context"
	"log/slog"

	"github.com/dgallion1/pageindex/internal/answer"
	"github.com/dgallion1/pageindex/internal/search"
	"github.com/dgallion1/pageindex/internal/selector"
)

// Response carries every intermediate result of a query.
type Response struct {
	Query          string         `json:"query"`
	RewrittenQuery string         `json:"rewritten_query"`
	DocIDs         []string       `json:"doc_ids"`
	Search         *search.Result `json:"search"`
	Context        string         `json:"-"`
	Answer         string         `json:"answer,omitempty"`
}

// Found reports whether the search produced any node to answer from.
func (r *Response) Found() bool {
	return r.Search != nil && !r.Search.Empty()
}

type Engine struct {
	selector *selector.Selector
	searcher *search.Searcher
	answers  *answer.Generator
	maxDocs  int
	log      *slog.Logger
}

// New returns an Engine. answers may be nil when only retrieval is needed.
func New(sel *selector.Selector, searcher *search.Searcher, answers *answer.Generator, maxDocs int, log *slog.Logger) *Engine {
	if maxDocs <= 0 {
		maxDocs = selector.DefaultMaxDocuments
	}
	return &Engine{selector: sel, searcher: searcher, answers: answers, maxDocs: maxDocs, log: log}
}

// SelectDocuments rewrites query and picks at most k documents (the
// configured default when k <= 0).
func (e *Engine) SelectDocuments(ctx context.Context, query string, k int) (*selector.Selection, error) {
	if k <= 0 {
		k = e.maxDocs
	}
	return e.selector.Select(ctx, query, k)
}

// SearchTrees searches the given documents for query.
func (e *Engine) SearchTrees(ctx context.Context, query string, docIDs []string) *search.Result {
	return e.searcher.Search(ctx, query, docIDs)
}

// QueryOption adjusts one query.
type QueryOption func(*queryOptions)

type queryOptions struct {
	noRewrite bool
}

// WithoutRewrite searches the selected trees with the question as asked
// instead of the rewritten query.
func WithoutRewrite() QueryOption {
	return func(o *queryOptions) { o.noRewrite = true }
}

// Retrieve selects documents and searches their trees with the rewritten
// query. No selected document means an empty result, not an error.
func (e *Engine) Retrieve(ctx context.Context, query string, k int, opts ...QueryOption) (*Response, error) {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	sel, err := e.SelectDocuments(ctx, query, k)
	if err != nil {
		return nil, err
	}
	searchQuery := sel.RewrittenQuery
	if o.noRewrite {
		searchQuery = query
	}
	resp := &Response{
		Query:          query,
		RewrittenQuery: searchQuery,
		DocIDs:         sel.DocIDs,
		Search:         &search.Result{Query: searchQuery, Documents: []search.DocResult{}},
	}
	if len(sel.DocIDs) == 0 {
		e.log.Info("no relevant documents", "query", query)
		return resp, nil
	}
	resp.Search = e.searcher.Search(ctx, searchQuery, sel.DocIDs)
	for _, de := range resp.Search.Errors {
		e.log.Warn("document search failed", "doc_id", de.DocID, "error", de.Message)
	}
	resp.Context = search.FormatContext(resp.Search)
	return resp, nil
}

// Answer runs Retrieve and then answers the original question from the
// gathered context, or returns answer.NoAnswer when nothing was found.
func (e *Engine) Answer(ctx context.Context, query string, k int, opts ...QueryOption) (*Response, error) {
	resp, err := e.Retrieve(ctx, query, k, opts...)
	if err != nil {
		return nil, err
	}
	if !resp.Found() || e.answers == nil {
		resp.Answer = answer.NoAnswer
		return resp, nil
	}
	text, err := e.answers.Generate(ctx, query, resp.Context)
	if err != nil {
		return nil, err
	}
	resp.Answer = text
	return resp, nil
}

// AnswerStream is Answer with the reply passed to emit as it is produced.
// Retrieval completes before the first delta.
func (e *Engine) AnswerStream(ctx context.Context, query string, k int, emit func(delta string) error, opts ...QueryOption) (*Response, error) {
	resp, err := e.Retrieve(ctx, query, k, opts...)
	if err != nil {
		return nil, err
	}
	if !resp.Found() || e.answers == nil {
		resp.Answer = answer.NoAnswer
		return resp, emit(answer.NoAnswer)
	}
	text, err := e.answers.Stream(ctx, query, resp.Context, emit)
	if err != nil {
		return nil, err
	}
	resp.Answer = text
	return resp, nil
}
