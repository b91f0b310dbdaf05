// Package builder turns an extracted document into a persisted tree: a
// TOC-guided or page-grouped hierarchy for PDFs and a heading hierarchy for
// Markdown, enriched with text, summaries and node ids.
package builder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgallion1/pageindex/internal/describe"
	"github.com/dgallion1/pageindex/internal/doctree"
	"github.com/dgallion1/pageindex/internal/errs"
	"github.com/dgallion1/pageindex/internal/llm"
	"github.com/dgallion1/pageindex/internal/parser"
	"github.com/dgallion1/pageindex/internal/toc"
)

// Options controls tree construction.
type Options struct {
	TOCCheckPages         int
	TOCSearchWindow       int
	TOCMatchConcurrency   int
	MaxPagesPerNode       int
	MaxTokensPerNode      int
	AddNodeID             bool
	AddNodeSummary        bool
	AddDocDescription     bool
	AddNodeText           bool
	Thinning              bool
	SummaryTokenThreshold int
	SummaryConcurrency    int
	// DescriptionRequirements is free text appended to the description prompt.
	DescriptionRequirements string
}

func DefaultOptions() Options {
	return Options{
		TOCCheckPages:         20,
		TOCSearchWindow:       3,
		TOCMatchConcurrency:   5,
		MaxPagesPerNode:       10,
		MaxTokensPerNode:      20000,
		AddNodeID:             true,
		AddNodeSummary:        true,
		AddDocDescription:     true,
		AddNodeText:           true,
		Thinning:              false,
		SummaryTokenThreshold: 200,
		SummaryConcurrency:    5,
	}
}

// Builder builds document trees. It is safe for concurrent use.
type Builder struct {
	caller    *llm.Caller
	detector  *toc.Detector
	matcher   *toc.Matcher
	describer *describe.Generator
	opts      Options
	log       *slog.Logger
}

func New(caller *llm.Caller, opts Options, log *slog.Logger) *Builder {
	d := DefaultOptions()
	if opts.MaxPagesPerNode <= 0 {
		opts.MaxPagesPerNode = d.MaxPagesPerNode
	}
	if opts.MaxTokensPerNode <= 0 {
		opts.MaxTokensPerNode = d.MaxTokensPerNode
	}
	if opts.SummaryTokenThreshold <= 0 {
		opts.SummaryTokenThreshold = d.SummaryTokenThreshold
	}
	if opts.SummaryConcurrency <= 0 {
		opts.SummaryConcurrency = d.SummaryConcurrency
	}
	return &Builder{
		caller:    caller,
		detector:  toc.NewDetector(caller, opts.TOCCheckPages, log),
		matcher:   toc.NewMatcher(caller, opts.TOCSearchWindow, opts.TOCMatchConcurrency, log),
		describer: describe.New(caller, log),
		opts:      opts,
		log:       log,
	}
}

// Options returns the effective options.
func (b *Builder) Options() Options { return b.opts }

// Build constructs the tree for doc. Failures are reported as
// *errs.DocumentProcessingError.
func (b *Builder) Build(ctx context.Context, doc *parser.Document, docID string) (*doctree.Tree, error) {
	log := b.log.With("doc_id", docID, "doc_name", doc.Name)
	fail := func(err error) error {
		return &errs.DocumentProcessingError{Path: doc.Name, Err: err}
	}
	if doc.Len() == 0 {
		return nil, fail(fmt.Errorf("document has no content"))
	}

	var structure []*doctree.Node
	if doc.Paged() {
		var err error
		structure, err = b.buildPaged(ctx, doc.Pages, log)
		if err != nil {
			return nil, fail(err)
		}
		fillPageText(structure, doc.Pages)
	} else {
		structure = buildLines(doc)
	}

	if b.opts.AddNodeSummary {
		b.summarize(ctx, structure, log)
	}
	if b.opts.Thinning && !doc.Paged() {
		thin(structure, b.opts.SummaryTokenThreshold)
	}
	if !b.opts.AddNodeText {
		doctree.Walk(structure, func(n *doctree.Node, _ int) bool {
			n.Text = ""
			return true
		})
	}
	if b.opts.AddNodeID {
		doctree.AssignIDs(structure)
	}
	if err := doctree.Validate(structure); err != nil {
		return nil, fail(fmt.Errorf("invalid tree: %w", err))
	}

	tree := &doctree.Tree{DocID: docID, DocName: doc.Name, Structure: structure}
	if b.opts.AddDocDescription {
		tree.DocDescription = b.describer.Generate(ctx, doc.Name, structure, b.opts.DescriptionRequirements)
	}
	log.Info("tree built", "nodes", doctree.Count(structure), "format", doc.Format)
	return tree, nil
}
