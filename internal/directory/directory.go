// Package directory maintains the document directory index: one entry per
// indexed document holding its id, name and description, persisted as a
// single JSON file the selector reads at query time.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/dgallion1/pageindex/internal/errs"
	"github.com/dgallion1/pageindex/internal/treestore"
)

// Entry describes one indexed document.
type Entry struct {
	DocID          string `json:"doc_id"`
	DocName        string `json:"doc_name"`
	DocDescription string `json:"doc_description"`
}

type file struct {
	Documents []Entry `json:"documents"`
}

// Index is safe for concurrent use. Entries keep insertion order.
type Index struct {
	mu      sync.Mutex
	path    string
	entries []Entry
	pos     map[string]int
}

// New returns an empty index that saves to path.
func New(path string) *Index {
	return &Index{path: path, pos: make(map[string]int)}
}

// Load reads the index at path. A missing file yields an empty index; a
// corrupt one an *errs.IndexLoadError.
func Load(path string) (*Index, error) {
	idx := New(path)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, &errs.IndexLoadError{Path: path, Err: err}
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &errs.IndexLoadError{Path: path, Err: err}
	}
	for _, e := range f.Documents {
		if e.DocID == "" {
			return nil, &errs.IndexLoadError{Path: path, Err: fmt.Errorf("entry %q has no doc_id", e.DocName)}
		}
		idx.upsertLocked(e)
	}
	return idx, nil
}

func (x *Index) Path() string { return x.path }

// Upsert adds e, replacing any entry with the same doc id in place.
func (x *Index) Upsert(e Entry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.upsertLocked(e)
}

func (x *Index) upsertLocked(e Entry) {
	if i, ok := x.pos[e.DocID]; ok {
		x.entries[i] = e
		return
	}
	x.pos[e.DocID] = len(x.entries)
	x.entries = append(x.entries, e)
}

// Remove deletes the entry for docID and reports whether it existed.
func (x *Index) Remove(docID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	i, ok := x.pos[docID]
	if !ok {
		return false
	}
	x.entries = slices.Delete(x.entries, i, i+1)
	delete(x.pos, docID)
	for j := i; j < len(x.entries); j++ {
		x.pos[x.entries[j].DocID] = j
	}
	return true
}

func (x *Index) Get(docID string) (Entry, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	i, ok := x.pos[docID]
	if !ok {
		return Entry{}, false
	}
	return x.entries[i], true
}

// Entries returns a copy of all entries in insertion order.
func (x *Index) Entries() []Entry {
	x.mu.Lock()
	defer x.mu.Unlock()
	return slices.Clone(x.entries)
}

func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.entries)
}

// Save writes the index atomically.
func (x *Index) Save() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	docs := x.entries
	if docs == nil {
		docs = []Entry{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(file{Documents: docs}); err != nil {
		return fmt.Errorf("marshal directory: %w", err)
	}
	if err := treestore.WriteAtomic(x.path, buf.Bytes()); err != nil {
		return fmt.Errorf("save directory %s: %w", x.path, err)
	}
	return nil
}

// Rebuild replaces the entries with the metadata of every tree in store.
// Unreadable trees are skipped with a warning and counted.
func (x *Index) Rebuild(ctx context.Context, store treestore.Store, log *slog.Logger) (skipped int, err error) {
	ids, err := store.List(ctx)
	if err != nil {
		return 0, err
	}
	var entries []Entry
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return skipped, err
		}
		t, err := store.Load(ctx, id)
		if err != nil {
			log.Warn("skipping unreadable tree", "doc_id", id, "error", err)
			skipped++
			continue
		}
		entries = append(entries, Entry{DocID: t.DocID, DocName: t.DocName, DocDescription: t.DocDescription})
	}

	x.mu.Lock()
	x.entries = nil
	x.pos = make(map[string]int)
	for _, e := range entries {
		x.upsertLocked(e)
	}
	x.mu.Unlock()
	log.Info("directory rebuilt", "documents", len(entries), "skipped", skipped)
	return skipped, nil
}
