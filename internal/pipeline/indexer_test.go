package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dgallion1/pageindex/internal/builder"
	"github.com/dgallion1/pageindex/internal/directory"
	"github.com/dgallion1/pageindex/internal/errs"
	"github.com/dgallion1/pageindex/internal/llm/llmtest"
	"github.com/dgallion1/pageindex/internal/treestore"
)

type fixture struct {
	indexer *Indexer
	store   *treestore.FileStore
	dirPath string
	docs    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	store, err := treestore.NewFileStore(filepath.Join(root, "trees"))
	if err != nil {
		t.Fatal(err)
	}
	opts := builder.DefaultOptions()
	opts.AddNodeSummary = false
	opts.AddDocDescription = false
	b := builder.New(llmtest.Caller(&llmtest.Fake{}), opts, llmtest.Logger())
	dirPath := filepath.Join(root, "directory.json")
	docs := filepath.Join(root, "docs")
	os.MkdirAll(docs, 0o755)
	return &fixture{
		indexer: NewIndexer(b, store, directory.New(dirPath), llmtest.Logger()),
		store:   store,
		dirPath: dirPath,
		docs:    docs,
	}
}

func (f *fixture) write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(f.docs, name)
	os.MkdirAll(filepath.Dir(p), 0o755)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDocID(t *testing.T) {
	dir := t.TempDir()
	a, _ := DocID(filepath.Join(dir, "x", "..", "a.md"))
	b, _ := DocID(filepath.Join(dir, "a.md"))
	if a != b {
		t.Errorf("normalised paths differ: %s %s", a, b)
	}
	if len(a) != 16 {
		t.Errorf("len = %d", len(a))
	}
	c, _ := DocID(filepath.Join(dir, "b.md"))
	if a == c {
		t.Error("different paths share an id")
	}
}

func TestIndexFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	path := f.write(t, "guide.md", "# Setup\ninstall\n## Linux\napt\n# Usage\nrun\n")

	doc, err := f.indexer.IndexFile(ctx, path)
	if err != nil {
		t.Fatalf("IndexFile: %v", err)
	}
	if doc.Filename != "guide.md" || doc.Format != "markdown" || doc.LineCount != 6 || doc.Nodes != 3 {
		t.Errorf("doc = %+v", doc)
	}
	tree, err := f.store.Load(ctx, doc.DocID)
	if err != nil {
		t.Fatalf("tree not stored: %v", err)
	}
	if tree.DocName != "guide.md" {
		t.Errorf("DocName = %q", tree.DocName)
	}
	idx, err := directory.Load(f.dirPath)
	if err != nil {
		t.Fatal(err)
	}
	if e, ok := idx.Get(doc.DocID); !ok || e.DocName != "guide.md" {
		t.Errorf("directory entry = %+v, %v", e, ok)
	}
}

func TestIndexFilesIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	good := f.write(t, "a.md", "# A\nbody\n")
	empty := f.write(t, "empty.md", "")
	other := f.write(t, "b.txt", "plain text\n")
	missing := filepath.Join(f.docs, "gone.md")

	res, err := f.indexer.IndexFiles(ctx, []string{good, empty, other, missing}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Indexed) != 2 {
		t.Errorf("indexed = %d", len(res.Indexed))
	}
	if len(res.Failed) != 2 || res.Failed[0].Path != empty || res.Failed[1].Path != missing {
		t.Fatalf("failed = %+v", res.Failed)
	}
	var procErr *errs.DocumentProcessingError
	if !errors.As(res.Failed[0].Err, &procErr) {
		t.Errorf("expected DocumentProcessingError, got %v", res.Failed[0].Err)
	}
	idx, _ := directory.Load(f.dirPath)
	if idx.Len() != 2 {
		t.Errorf("directory has %d entries", idx.Len())
	}
}

func TestRemoveAndRebuild(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, _ := f.indexer.IndexFile(ctx, f.write(t, "a.md", "# A\n"))
	b, _ := f.indexer.IndexFile(ctx, f.write(t, "b.md", "# B\n"))

	if err := f.indexer.Remove(ctx, a.DocID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := f.indexer.Remove(ctx, a.DocID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("second Remove: %v", err)
	}
	if _, err := f.store.Load(ctx, a.DocID); !errs.IsNotFound(err) {
		t.Errorf("tree still present: %v", err)
	}

	f.indexer.Directory().Remove(b.DocID)
	if _, err := f.indexer.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}
	idx, _ := directory.Load(f.dirPath)
	if entries := idx.Entries(); len(entries) != 1 || entries[0].DocID != b.DocID {
		t.Errorf("rebuilt entries = %+v", entries)
	}
}

func TestOrchestratorProcessesUploads(t *testing.T) {
	f := newFixture(t)
	o := NewOrchestrator(OrchestratorOptions{WorkerCount: 1, MaxQueueSize: 4}, f.indexer, llmtest.Logger())
	o.Start(context.Background())
	defer o.Stop()

	first := NewJob("notes.md", []byte("# Notes\nhello\n"))
	bad := NewJob("slides.pptx", []byte("binary"))
	dup := NewJob("copy.md", []byte("# Notes\nhello\n"))
	for _, j := range []*Job{first, bad} {
		if err := o.Submit(j); err != nil {
			t.Fatal(err)
		}
	}
	waitDone(t, first, bad)
	if err := o.Submit(dup); err != nil {
		t.Fatal(err)
	}
	waitDone(t, dup)

	if s := first.Snapshot(); s.Status != StatusCompleted || s.Document == nil || s.Document.Filename != "notes.md" {
		t.Errorf("first = %+v", s)
	}
	if s := bad.Snapshot(); s.Status != StatusFailed || s.Phase != "extracting" || len(s.Errors) == 0 {
		t.Errorf("bad = %+v", s)
	}
	if s := dup.Snapshot(); s.Status != StatusDupSkipped {
		t.Errorf("dup = %+v", s)
	}
	if o.GetJob(first.ID) != first {
		t.Error("GetJob did not return the submitted job")
	}
}

func waitDone(t *testing.T, jobs ...*Job) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for _, j := range jobs {
		for !j.Snapshot().Status.Done() {
			if time.Now().After(deadline) {
				t.Fatalf("job %s stuck in %s", j.ID, j.Snapshot().Status)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestSubmitQueueFull(t *testing.T) {
	f := newFixture(t)
	o := NewOrchestrator(OrchestratorOptions{WorkerCount: 1, MaxQueueSize: 1}, f.indexer, llmtest.Logger())
	if err := o.Submit(NewJob("a.md", []byte("a"))); err != nil {
		t.Fatal(err)
	}
	job := NewJob("b.md", []byte("b"))
	if err := o.Submit(job); err == nil || !strings.Contains(err.Error(), "full") {
		t.Errorf("expected queue full, got %v", err)
	}
	if job.Snapshot().Status != StatusFailed {
		t.Error("rejected job should be failed")
	}
	o.Stop()
	if err := o.Submit(NewJob("c.md", []byte("c"))); err == nil {
		t.Error("submit after stop should fail")
	}
}

func TestCollectFiles(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.md", "docs/b.pdf", "docs/draft/c.md", "docs/d.png", ".git/e.md", "notes.txt"} {
		p := filepath.Join(root, name)
		os.MkdirAll(filepath.Dir(p), 0o755)
		os.WriteFile(p, []byte("x"), 0o644)
	}
	rel := func(paths []string) string {
		var out []string
		for _, p := range paths {
			r, _ := filepath.Rel(root, p)
			out = append(out, filepath.ToSlash(r))
		}
		return strings.Join(out, ",")
	}

	tests := []struct {
		name   string
		args   []string
		filter Filter
		want   string
	}{
		{"walk all", []string{root}, Filter{}, "a.md,docs/b.pdf,docs/draft/c.md,notes.txt"},
		{"include", []string{root}, Filter{Include: []string{"docs/**"}}, "docs/b.pdf,docs/draft/c.md"},
		{"exclude", []string{root}, Filter{Exclude: []string{"**/draft/**", "*.txt"}}, "a.md,docs/b.pdf"},
		{"single file", []string{filepath.Join(root, "a.md"), filepath.Join(root, "a.md")}, Filter{}, "a.md"},
		{"glob", []string{filepath.Join(root, "docs", "**", "*.md")}, Filter{}, "docs/draft/c.md"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CollectFiles(tt.args, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if rel(got) != tt.want {
				t.Errorf("got %s, want %s", rel(got), tt.want)
			}
		})
	}

	if _, err := CollectFiles([]string{filepath.Join(root, "nope.md")}, Filter{}); err == nil {
		t.Error("expected error for missing path")
	}
	if _, err := CollectFiles([]string{root}, Filter{Include: []string{"[oops"}}); err == nil {
		t.Error("expected error for bad pattern")
	}
}

func TestWatcherClassify(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "a.md"), []byte("# A"), 0o644)
	os.WriteFile(filepath.Join(root, "a.png"), []byte("x"), 0o644)
	os.Mkdir(filepath.Join(root, "sub"), 0o755)
	w := NewWatcher(nil, root, Filter{}, llmtest.Logger())

	tests := []struct {
		name string
		path string
		op   fsnotify.Op
		want changeKind
	}{
		{"create doc", "a.md", fsnotify.Create, changeIndex},
		{"write doc", "a.md", fsnotify.Write | fsnotify.Chmod, changeIndex},
		{"chmod only", "a.md", fsnotify.Chmod, changeNone},
		{"unsupported", "a.png", fsnotify.Write, changeNone},
		{"removed doc", "gone.md", fsnotify.Remove, changeRemove},
		{"renamed doc", "a.md", fsnotify.Rename, changeRemove},
		{"new dir", "sub", fsnotify.Create, changeWatchDir},
		{"hidden", ".a.md.swp", fsnotify.Create, changeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := fsnotify.Event{Name: filepath.Join(root, tt.path), Op: tt.op}
			if got := w.classify(ev); got != tt.want {
				t.Errorf("classify = %v, want %v", got, tt.want)
			}
		})
	}
}
