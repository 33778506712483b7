package factstore

import (
	"context"
	"sort"
	"sync"
)

// Store is the fact-base contract: pattern-matched read, insert/delete
// update, and bulk triple load. The external RDF store and the in-memory
// test double both satisfy it.
type Store interface {
	Select(ctx context.Context, pattern Pattern) ([]Triple, error)
	Insert(ctx context.Context, triples []Triple) error
	Delete(ctx context.Context, pattern Pattern) error
	BulkLoad(ctx context.Context, triples []Triple) error
	Ping(ctx context.Context) error
}

// MemoryStore is an in-process triple set. It backs tests and offline runs;
// semantics mirror the remote store (graph as a set, no duplicate triples).
type MemoryStore struct {
	mu      sync.RWMutex
	triples []Triple
	index   map[Triple]struct{}
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[Triple]struct{})}
}

func (m *MemoryStore) Select(_ context.Context, pattern Pattern) ([]Triple, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Triple
	for _, t := range m.triples {
		if pattern.Matches(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Line() < out[j].Line() })
	return out, nil
}

func (m *MemoryStore) Insert(_ context.Context, triples []Triple) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range triples {
		if _, dup := m.index[t]; dup {
			continue
		}
		m.index[t] = struct{}{}
		m.triples = append(m.triples, t)
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, pattern Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.triples[:0]
	for _, t := range m.triples {
		if pattern.Matches(t) {
			delete(m.index, t)
			continue
		}
		kept = append(kept, t)
	}
	m.triples = kept
	return nil
}

func (m *MemoryStore) BulkLoad(ctx context.Context, triples []Triple) error {
	return m.Insert(ctx, triples)
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of stored triples.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.triples)
}
