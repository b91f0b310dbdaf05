// Package treestore persists document trees as {doc_id}_structure.json
// objects on the local filesystem or in an S3-compatible bucket, with an
// optional cache tier in front.
package treestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/dgallion1/pageindex/internal/doctree"
	"github.com/dgallion1/pageindex/internal/errs"
)

const fileSuffix = "_structure.json"

var validDocID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Store persists trees keyed by doc id. Load returns an
// *errs.IndexLoadError wrapping errs.ErrNotFound for a missing tree.
type Store interface {
	Save(ctx context.Context, t *doctree.Tree) error
	Load(ctx context.Context, docID string) (*doctree.Tree, error)
	Delete(ctx context.Context, docID string) error
	// List returns the stored doc ids in ascending order.
	List(ctx context.Context) ([]string, error)
}

// FileName is the tree file name for docID.
func FileName(docID string) string { return docID + fileSuffix }

func checkDocID(docID string) error {
	if !validDocID.MatchString(docID) {
		return fmt.Errorf("invalid doc id %q", docID)
	}
	return nil
}

// FileStore keeps one JSON file per tree in a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trees dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file path for docID.
func (s *FileStore) Path(docID string) string {
	return filepath.Join(s.dir, FileName(docID))
}

func (s *FileStore) Save(_ context.Context, t *doctree.Tree) error {
	if err := checkDocID(t.DocID); err != nil {
		return err
	}
	data, err := doctree.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal tree %s: %w", t.DocID, err)
	}
	return WriteAtomic(s.Path(t.DocID), data)
}

func (s *FileStore) Load(_ context.Context, docID string) (*doctree.Tree, error) {
	path := s.Path(docID)
	if err := checkDocID(docID); err != nil {
		return nil, &errs.IndexLoadError{Path: path, Err: err}
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &errs.IndexLoadError{Path: path, Err: errs.ErrNotFound}
	}
	if err != nil {
		return nil, &errs.IndexLoadError{Path: path, Err: err}
	}
	t, err := doctree.Unmarshal(data)
	if err != nil {
		return nil, &errs.IndexLoadError{Path: path, Err: err}
	}
	if t.DocID == "" {
		t.DocID = docID
	}
	return t, nil
}

func (s *FileStore) Delete(_ context.Context, docID string) error {
	if err := checkDocID(docID); err != nil {
		return err
	}
	err := os.Remove(s.Path(docID))
	if errors.Is(err, fs.ErrNotExist) {
		return errs.ErrNotFound
	}
	return err
}

func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list trees dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

// WriteAtomic replaces path with data through a synced temp file and a
// rename, so readers never observe a partial file.
func WriteAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
