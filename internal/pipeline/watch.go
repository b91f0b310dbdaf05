package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dgallion1/pageindex/internal/errs"
)

type changeKind int

const (
	changeNone changeKind = iota
	changeIndex
	changeRemove
	changeWatchDir
)

// Watcher re-indexes files under a directory as they are created or
// changed and removes the trees of deleted files.
type Watcher struct {
	indexer  *Indexer
	root     string
	filter   Filter
	debounce time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

func NewWatcher(indexer *Indexer, root string, filter Filter, log *slog.Logger) *Watcher {
	return &Watcher{
		indexer:  indexer,
		root:     root,
		filter:   filter,
		debounce: 500 * time.Millisecond,
		log:      log,
		pending:  make(map[string]*time.Timer),
	}
}

// Run watches until ctx is cancelled, then waits for in-flight indexing.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	w.log.Info("watching for changes", "root", w.root)

	defer w.wg.Wait()
	defer w.cancelPending()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			switch w.classify(ev) {
			case changeIndex:
				w.schedule(ctx, ev.Name)
			case changeRemove:
				w.remove(ctx, ev.Name)
			case changeWatchDir:
				if err := w.addTree(fw, ev.Name); err != nil {
					w.log.Warn("watch new directory", "path", ev.Name, "error", err)
				}
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// classify maps a filesystem event to the action it requires.
func (w *Watcher) classify(ev fsnotify.Event) changeKind {
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return changeNone
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		if w.matches(ev.Name) {
			return changeRemove
		}
		return changeNone
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return changeNone
	}
	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
		if ev.Has(fsnotify.Create) {
			return changeWatchDir
		}
		return changeNone
	}
	if w.matches(ev.Name) {
		return changeIndex
	}
	return changeNone
}

func (w *Watcher) matches(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	return w.filter.Match(rel)
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}

// schedule indexes path once no further events arrive for it within the
// debounce interval.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok && t.Stop() {
		t.Reset(w.debounce)
		return
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if _, err := w.indexer.IndexFile(ctx, path); err != nil {
			w.log.Error("re-index failed", "path", path, "error", err)
		}
	})
	w.pending[path] = t
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
}

func (w *Watcher) remove(ctx context.Context, path string) {
	w.mu.Lock()
	if t, ok := w.pending[path]; ok && t.Stop() {
		delete(w.pending, path)
		w.wg.Done()
	}
	w.mu.Unlock()

	docID, err := DocID(path)
	if err != nil {
		return
	}
	if err := w.indexer.Remove(ctx, docID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		w.log.Error("remove failed", "path", path, "doc_id", docID, "error", err)
	}
}
