// Package pipeline indexes documents: it extracts them, builds their trees,
// persists the trees and keeps the directory index in step, either for a
// batch of local files, a watched directory or queued uploads.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/dgallion1/pageindex/internal/builder"
	"github.com/dgallion1/pageindex/internal/directory"
	"github.com/dgallion1/pageindex/internal/doctree"
	"github.com/dgallion1/pageindex/internal/errs"
	"github.com/dgallion1/pageindex/internal/parser"
	"github.com/dgallion1/pageindex/internal/treestore"
)

// Document is the stored record of an indexed file.
type Document struct {
	DocID       string `json:"doc_id"`
	Filename    string `json:"filename"`
	Format      string `json:"format"`
	PageCount   int    `json:"page_count,omitempty"`
	LineCount   int    `json:"line_count,omitempty"`
	Nodes       int    `json:"nodes"`
	Description string `json:"description"`
}

// DocID derives the document id from the normalised absolute path: the
// first 16 hex characters of its SHA-256.
func DocID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return ContentHashHex([]byte(filepath.Clean(abs)))[:16], nil
}

// UploadDocID derives the id of an uploaded document from its bytes.
func UploadDocID(data []byte) string {
	return ContentHashHex(data)[:16]
}

// Failure is one document that could not be indexed.
type Failure struct {
	Path string
	Err  error
}

// BatchResult separates the successes and failures of IndexFiles.
type BatchResult struct {
	Indexed []*Document
	Failed  []Failure
}

// Indexer builds and persists trees. It is safe for concurrent use.
type Indexer struct {
	builder *builder.Builder
	store   treestore.Store
	dir     *directory.Index
	log     *slog.Logger
}

func NewIndexer(b *builder.Builder, store treestore.Store, dir *directory.Index, log *slog.Logger) *Indexer {
	return &Indexer{builder: b, store: store, dir: dir, log: log}
}

// Directory returns the directory index the indexer maintains.
func (x *Indexer) Directory() *directory.Index { return x.dir }

// Store returns the tree store the indexer writes to.
func (x *Indexer) Store() treestore.Store { return x.store }

// IndexFile extracts, builds and stores one local file.
func (x *Indexer) IndexFile(ctx context.Context, path string) (*Document, error) {
	doc, err := x.indexFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := x.dir.Save(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (x *Indexer) indexFile(ctx context.Context, path string) (*Document, error) {
	docID, err := DocID(path)
	if err != nil {
		return nil, &errs.DocumentProcessingError{Path: path, Err: err}
	}
	parsed, err := parser.ExtractFile(path)
	if err != nil {
		return nil, err
	}
	tree, err := x.Build(ctx, parsed, docID)
	if err != nil {
		return nil, err
	}
	return x.Commit(ctx, tree, parsed)
}

// IndexData indexes uploaded bytes under docID and saves the directory.
func (x *Indexer) IndexData(ctx context.Context, filename string, data []byte, docID string) (*Document, error) {
	parsed, err := parser.Extract(bytes.NewReader(data), filename)
	if err != nil {
		return nil, err
	}
	tree, err := x.Build(ctx, parsed, docID)
	if err != nil {
		return nil, err
	}
	doc, err := x.Commit(ctx, tree, parsed)
	if err != nil {
		return nil, err
	}
	return doc, x.dir.Save()
}

// Build runs the tree builder for an extracted document.
func (x *Indexer) Build(ctx context.Context, parsed *parser.Document, docID string) (*doctree.Tree, error) {
	return x.builder.Build(ctx, parsed, docID)
}

// Commit persists tree and records it in the in-memory directory. The
// caller saves the directory.
func (x *Indexer) Commit(ctx context.Context, tree *doctree.Tree, parsed *parser.Document) (*Document, error) {
	if err := x.store.Save(ctx, tree); err != nil {
		return nil, fmt.Errorf("save tree %s: %w", tree.DocID, err)
	}
	x.dir.Upsert(directory.Entry{DocID: tree.DocID, DocName: tree.DocName, DocDescription: tree.DocDescription})
	doc := &Document{
		DocID:       tree.DocID,
		Filename:    parsed.Name,
		Format:      string(parsed.Format),
		Nodes:       doctree.Count(tree.Structure),
		Description: tree.DocDescription,
	}
	if parsed.Paged() {
		doc.PageCount = len(parsed.Pages)
	} else {
		doc.LineCount = len(parsed.Lines)
	}
	x.log.Info("document indexed", "doc_id", doc.DocID, "filename", doc.Filename, "nodes", doc.Nodes)
	return doc, nil
}

// Exists reports whether docID is already in the directory.
func (x *Indexer) Exists(docID string) bool {
	_, ok := x.dir.Get(docID)
	return ok
}

// IndexFiles indexes paths with at most concurrency documents in flight.
// A failing document never stops the others. The directory is saved once
// at the end.
func (x *Indexer) IndexFiles(ctx context.Context, paths []string, concurrency int) (*BatchResult, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	type outcome struct {
		doc *Document
		err error
	}
	results := make([]outcome, len(paths))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, p := range paths {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = outcome{err: ctx.Err()}
			continue
		}
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			defer func() { <-sem }()
			doc, err := x.indexFile(ctx, p)
			results[i] = outcome{doc: doc, err: err}
		}(i, p)
	}
	wg.Wait()

	res := &BatchResult{}
	for i, o := range results {
		if o.err != nil {
			x.log.Error("indexing failed", "path", paths[i], "error", o.err)
			res.Failed = append(res.Failed, Failure{Path: paths[i], Err: o.err})
			continue
		}
		res.Indexed = append(res.Indexed, o.doc)
	}
	if len(res.Indexed) == 0 {
		return res, nil
	}
	return res, x.dir.Save()
}

// Remove deletes the tree and directory entry of docID. It returns
// errs.ErrNotFound when neither existed.
func (x *Indexer) Remove(ctx context.Context, docID string) error {
	err := x.store.Delete(ctx, docID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("delete tree %s: %w", docID, err)
	}
	removed := x.dir.Remove(docID)
	if !removed && err != nil {
		return errs.ErrNotFound
	}
	if err := x.dir.Save(); err != nil {
		return err
	}
	x.log.Info("document removed", "doc_id", docID)
	return nil
}

// Rebuild regenerates the directory from the stored trees and saves it.
func (x *Indexer) Rebuild(ctx context.Context) (int, error) {
	skipped, err := x.dir.Rebuild(ctx, x.store, x.log)
	if err != nil {
		return skipped, err
	}
	return skipped, x.dir.Save()
}
