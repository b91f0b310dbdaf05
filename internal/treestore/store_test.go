package treestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgallion1/pageindex/internal/doctree"
	"github.com/dgallion1/pageindex/internal/errs"
	"github.com/dgallion1/pageindex/internal/llm/llmtest"
)

func sampleTree(id string) *doctree.Tree {
	return &doctree.Tree{
		DocID:          id,
		DocName:        id + ".pdf",
		DocDescription: "A sample <document>.",
		Structure: []*doctree.Node{
			{Title: "Intro", NodeID: "0001", StartIndex: 1, EndIndex: 3, Summary: "s", Text: "t", Nodes: []*doctree.Node{
				{Title: "Scope", NodeID: "0002", StartIndex: 2, EndIndex: 3},
			}},
			{Title: "End", NodeID: "0003", StartIndex: 4, EndIndex: 4},
		},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "trees"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, sampleTree("abc")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, err := os.ReadFile(s.Path("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(s.Path("abc")) != "abc_structure.json" {
		t.Errorf("unexpected file name %s", s.Path("abc"))
	}

	got, err := s.Load(ctx, "abc")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	again, err := doctree.Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != string(raw) {
		t.Errorf("round trip changed bytes:\n%s\nvs\n%s", again, raw)
	}

	entries, _ := os.ReadDir(filepath.Dir(s.Path("abc")))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}

func TestFileStoreErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, _ := NewFileStore(dir)

	_, err := s.Load(ctx, "missing")
	var loadErr *errs.IndexLoadError
	if !errors.As(err, &loadErr) || !errs.IsNotFound(err) {
		t.Errorf("missing tree: got %v", err)
	}

	os.WriteFile(filepath.Join(dir, "bad_structure.json"), []byte("{not json"), 0o644)
	_, err = s.Load(ctx, "bad")
	if !errors.As(err, &loadErr) || errs.IsNotFound(err) {
		t.Errorf("corrupt tree: got %v", err)
	}

	if _, err := s.Load(ctx, "../escape"); !errors.As(err, &loadErr) {
		t.Errorf("path traversal id: got %v", err)
	}
	if err := s.Delete(ctx, "missing"); !errs.IsNotFound(err) {
		t.Errorf("delete missing: got %v", err)
	}
}

func TestFileStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, _ := NewFileStore(dir)
	for _, id := range []string{"b2", "a1", "c3"} {
		if err := s.Save(ctx, sampleTree(id)); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)

	ids, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != "a1" || ids[2] != "c3" {
		t.Errorf("List = %v", ids)
	}
	if err := s.Delete(ctx, "b2"); err != nil {
		t.Fatal(err)
	}
	if ids, _ := s.List(ctx); len(ids) != 2 {
		t.Errorf("after delete List = %v", ids)
	}
}

func TestLRUEviction(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(2, 0)
	c.Put(ctx, sampleTree("a"))
	c.Put(ctx, sampleTree("b"))
	c.Get(ctx, "a")
	c.Put(ctx, sampleTree("c"))

	if _, ok := c.Get(ctx, "b"); ok {
		t.Error("b should have been evicted")
	}
	for _, id := range []string{"a", "c"} {
		if _, ok := c.Get(ctx, id); !ok {
			t.Errorf("%s should be cached", id)
		}
	}
	c.Remove(ctx, "a")
	if c.lru.Len() != 1 {
		t.Errorf("Len = %d", c.lru.Len())
	}
}

func TestLRUExpires(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(2, 20*time.Millisecond)
	c.Put(ctx, sampleTree("a"))
	if _, ok := c.Get(ctx, "a"); !ok {
		t.Fatal("a should be cached")
	}
	time.Sleep(50 * time.Millisecond)
	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("a should have expired")
	}
}

type countingStore struct {
	Store
	loads int
}

func (s *countingStore) Load(ctx context.Context, id string) (*doctree.Tree, error) {
	s.loads++
	return s.Store.Load(ctx, id)
}

func TestCachedStore(t *testing.T) {
	ctx := context.Background()
	files, _ := NewFileStore(t.TempDir())
	inner := &countingStore{Store: files}
	s := NewCachedStore(inner, NewLRU(4, time.Hour), llmtest.Logger())

	if err := s.Save(ctx, sampleTree("x")); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if _, err := s.Load(ctx, "x"); err != nil {
			t.Fatal(err)
		}
	}
	if inner.loads != 1 {
		t.Errorf("store loads = %d, want 1", inner.loads)
	}

	updated := sampleTree("x")
	updated.DocDescription = "changed"
	s.Save(ctx, updated)
	got, _ := s.Load(ctx, "x")
	if got.DocDescription != "changed" {
		t.Error("save did not invalidate the cache")
	}

	s.Delete(ctx, "x")
	if _, err := s.Load(ctx, "x"); !errs.IsNotFound(err) {
		t.Errorf("load after delete: %v", err)
	}
}

// hookStore runs test hooks around the wrapped store's Save and Load.
type hookStore struct {
	Store
	beforeSave func()
	afterLoad  func()
}

func (s *hookStore) Save(ctx context.Context, t *doctree.Tree) error {
	if s.beforeSave != nil {
		s.beforeSave()
	}
	return s.Store.Save(ctx, t)
}

func (s *hookStore) Load(ctx context.Context, id string) (*doctree.Tree, error) {
	t, err := s.Store.Load(ctx, id)
	if s.afterLoad != nil {
		s.afterLoad()
	}
	return t, err
}

func namedTree(name string) *doctree.Tree {
	t := sampleTree("x")
	t.DocName = name
	return t
}

func TestCachedStoreConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	files, _ := NewFileStore(t.TempDir())
	hooks := &hookStore{Store: files}
	s := NewCachedStore(hooks, NewLRU(4, 0), llmtest.Logger())

	if err := s.Save(ctx, namedTree("old")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(ctx, "x"); err != nil {
		t.Fatal(err)
	}

	t.Run("load during a write", func(t *testing.T) {
		entered, release := make(chan struct{}), make(chan struct{})
		hooks.beforeSave = func() {
			close(entered)
			<-release
		}
		done := make(chan error, 1)
		go func() { done <- s.Save(ctx, namedTree("new")) }()

		<-entered
		if _, err := s.Load(ctx, "x"); err != nil {
			t.Fatal(err)
		}
		close(release)
		if err := <-done; err != nil {
			t.Fatal(err)
		}
		hooks.beforeSave = nil

		got, err := s.Load(ctx, "x")
		if err != nil {
			t.Fatal(err)
		}
		if got.DocName != "new" {
			t.Errorf("doc_name = %q after save, want new", got.DocName)
		}
	})

	t.Run("write during a load", func(t *testing.T) {
		s.cache.Remove(ctx, "x")
		loaded, resume := make(chan struct{}), make(chan struct{})
		hooks.afterLoad = func() {
			close(loaded)
			<-resume
		}
		done := make(chan error, 1)
		go func() {
			_, err := s.Load(ctx, "x")
			done <- err
		}()

		<-loaded
		hooks.afterLoad = nil
		if err := s.Save(ctx, namedTree("newer")); err != nil {
			t.Fatal(err)
		}
		close(resume)
		if err := <-done; err != nil {
			t.Fatal(err)
		}

		got, err := s.Load(ctx, "x")
		if err != nil {
			t.Fatal(err)
		}
		if got.DocName != "newer" {
			t.Errorf("doc_name = %q after save, want newer", got.DocName)
		}
	})
}

func TestTieredBackfill(t *testing.T) {
	ctx := context.Background()
	fast, slow := NewLRU(2, 0), NewLRU(2, 0)
	slow.Put(ctx, sampleTree("d"))
	tiers := Tiered{fast, slow}
	if _, ok := tiers.Get(ctx, "d"); !ok {
		t.Fatal("expected hit in slow tier")
	}
	if _, ok := fast.Get(ctx, "d"); !ok {
		t.Error("fast tier not back-filled")
	}
}

func TestObjectKeys(t *testing.T) {
	if got := objectKey("trees", "abc"); got != "trees/abc_structure.json" {
		t.Errorf("objectKey = %q", got)
	}
	if got := objectKey("", "abc"); got != "abc_structure.json" {
		t.Errorf("objectKey = %q", got)
	}
	tests := []struct {
		prefix, key, want string
	}{
		{"trees", "trees/abc_structure.json", "abc"},
		{"trees", "other/abc_structure.json", ""},
		{"trees", "trees/nested/abc_structure.json", ""},
		{"", "abc_structure.json", "abc"},
		{"", "readme.md", ""},
	}
	for _, tt := range tests {
		if got := docIDFromKey(tt.prefix, tt.key); got != tt.want {
			t.Errorf("docIDFromKey(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
		}
	}
	if redisKey("abc") != "pageindex:tree:abc" {
		t.Errorf("redisKey = %q", redisKey("abc"))
	}
}
