package treestore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dgallion1/pageindex/internal/doctree"
)

// Cache holds loaded trees. Cached trees are shared and must not be mutated.
type Cache interface {
	Get(ctx context.Context, docID string) (*doctree.Tree, bool)
	Put(ctx context.Context, t *doctree.Tree)
	Remove(ctx context.Context, docID string)
}

// LRU is a bounded in-process cache. Trees leave it when they are the
// least recently used or when their TTL runs out.
type LRU struct {
	lru *expirable.LRU[string, *doctree.Tree]
}

// NewLRU holds up to size trees, each for at most ttl. A non-positive ttl
// keeps trees until they are evicted.
func NewLRU(size int, ttl time.Duration) *LRU {
	if size <= 0 {
		size = 1
	}
	return &LRU{lru: expirable.NewLRU[string, *doctree.Tree](size, nil, ttl)}
}

func (c *LRU) Get(_ context.Context, docID string) (*doctree.Tree, bool) {
	return c.lru.Get(docID)
}

func (c *LRU) Put(_ context.Context, t *doctree.Tree) {
	c.lru.Add(t.DocID, t)
}

func (c *LRU) Remove(_ context.Context, docID string) {
	c.lru.Remove(docID)
}

// Tiered checks each cache in order and back-fills the faster tiers on a
// hit in a slower one.
type Tiered []Cache

func (t Tiered) Get(ctx context.Context, docID string) (*doctree.Tree, bool) {
	for i, c := range t {
		if tree, ok := c.Get(ctx, docID); ok {
			for _, faster := range t[:i] {
				faster.Put(ctx, tree)
			}
			return tree, true
		}
	}
	return nil, false
}

func (t Tiered) Put(ctx context.Context, tree *doctree.Tree) {
	for _, c := range t {
		c.Put(ctx, tree)
	}
}

func (t Tiered) Remove(ctx context.Context, docID string) {
	for _, c := range t {
		c.Remove(ctx, docID)
	}
}

// CachedStore reads through cache and keeps it coherent on writes. Each
// write bumps the doc's generation, and a load only fills the cache when no
// write finished while it was reading.
type CachedStore struct {
	Store
	cache Cache
	log   *slog.Logger

	mu  sync.Mutex
	gen map[string]uint64
}

func NewCachedStore(store Store, cache Cache, log *slog.Logger) *CachedStore {
	return &CachedStore{Store: store, cache: cache, log: log, gen: make(map[string]uint64)}
}

func (s *CachedStore) generation(docID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen[docID]
}

func (s *CachedStore) Load(ctx context.Context, docID string) (*doctree.Tree, error) {
	if t, ok := s.cache.Get(ctx, docID); ok {
		return t, nil
	}
	g := s.generation(docID)
	t, err := s.Store.Load(ctx, docID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.gen[docID] == g {
		s.cache.Put(ctx, t)
	}
	s.mu.Unlock()
	s.log.Debug("tree loaded", "doc_id", docID, "nodes", doctree.Count(t.Structure))
	return t, nil
}

// invalidate runs after the store write so a concurrent load cannot cache
// the replaced tree.
func (s *CachedStore) invalidate(ctx context.Context, docID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen[docID]++
	s.cache.Remove(ctx, docID)
}

func (s *CachedStore) Save(ctx context.Context, t *doctree.Tree) error {
	err := s.Store.Save(ctx, t)
	s.invalidate(ctx, t.DocID)
	return err
}

func (s *CachedStore) Delete(ctx context.Context, docID string) error {
	err := s.Store.Delete(ctx, docID)
	s.invalidate(ctx, docID)
	return err
}
