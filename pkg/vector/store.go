// Package vector provides the vector-similarity capability (per-kb
// collections with cosine nearest-neighbor lookup) and the symbol binder
// that turns raw vectors into stable symbolic tokens.
package vector

import (
	"context"
	"errors"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"gonum.org/v1/gonum/floats"
)

// ErrDimensionMismatch is returned when a query or insert vector does not
// match the collection's dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Neighbor is a single nearest-neighbor result.
type Neighbor struct {
	Symbol     string
	Similarity float64 // cosine similarity (1 - cosine distance)
}

// Store is the vector backend capability: one collection per kb_id, cosine
// similarity, stored payload is the symbol. Implementations must accept
// duplicate inserts of the same symbol idempotently — binding is racy by
// design across sessions.
type Store interface {
	// Nearest returns the single nearest neighbor of v in the kb's
	// collection, or ok=false when the collection is empty. Ties break on
	// lexicographic symbol order.
	Nearest(ctx context.Context, kbID string, v []float64) (Neighbor, bool, error)
	// Insert adds (symbol, v) to the kb's collection.
	Insert(ctx context.Context, kbID, symbol string, v []float64) error
	// DeleteCollection drops the kb's collection entirely.
	DeleteCollection(ctx context.Context, kbID string) error
	// Ping reports backend reachability for health checks.
	Ping(ctx context.Context) error
}

type collection struct {
	dim     int
	symbols []string             // sorted, for deterministic tie-breaks
	vectors map[string][]float64 // symbol → stored vector
	norms   map[string]float64   // precomputed L2 norms
}

// MemoryStore is an exact-scan in-process Store. Indexing is intentionally
// simple: correctness of the engine only needs exact cosine NN, and the
// Store interface leaves room for an ANN-backed adapter.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*collection
	nnCache     *lru.Cache[string, Neighbor]
}

// NewMemoryStore creates an empty in-memory vector store with an LRU over
// nearest-neighbor results.
func NewMemoryStore(cacheSize int) *MemoryStore {
	if cacheSize < 1 {
		cacheSize = 1024
	}
	cache, _ := lru.New[string, Neighbor](cacheSize)
	return &MemoryStore{
		collections: make(map[string]*collection),
		nnCache:     cache,
	}
}

// Nearest implements Store.
func (s *MemoryStore) Nearest(ctx context.Context, kbID string, v []float64) (Neighbor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, ok := s.collections[kbID]
	if !ok || len(coll.symbols) == 0 {
		return Neighbor{}, false, nil
	}
	if len(v) != coll.dim {
		return Neighbor{}, false, ErrDimensionMismatch
	}

	key := kbID + "\x00" + CanonicalDigest(v)
	if cached, ok := s.nnCache.Get(key); ok {
		return cached, true, nil
	}

	qNorm := floats.Norm(v, 2)
	best := Neighbor{Similarity: -2}
	for _, sym := range coll.symbols {
		sim := cosine(v, qNorm, coll.vectors[sym], coll.norms[sym])
		// strict > keeps the lexicographically smallest symbol on ties
		// because symbols are scanned in sorted order
		if sim > best.Similarity {
			best = Neighbor{Symbol: sym, Similarity: sim}
		}
	}
	s.nnCache.Add(key, best)
	return best, true, nil
}

// Insert implements Store. Re-inserting an existing symbol is a no-op.
func (s *MemoryStore) Insert(ctx context.Context, kbID, symbol string, v []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[kbID]
	if !ok {
		coll = &collection{
			dim:     len(v),
			vectors: make(map[string][]float64),
			norms:   make(map[string]float64),
		}
		s.collections[kbID] = coll
	}
	if len(v) != coll.dim {
		return ErrDimensionMismatch
	}
	if _, exists := coll.vectors[symbol]; exists {
		return nil
	}
	stored := make([]float64, len(v))
	copy(stored, v)
	coll.vectors[symbol] = stored
	coll.norms[symbol] = floats.Norm(stored, 2)
	idx := sort.SearchStrings(coll.symbols, symbol)
	coll.symbols = append(coll.symbols, "")
	copy(coll.symbols[idx+1:], coll.symbols[idx:])
	coll.symbols[idx] = symbol

	s.invalidateLocked(kbID)
	return nil
}

// DeleteCollection implements Store.
func (s *MemoryStore) DeleteCollection(ctx context.Context, kbID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, kbID)
	s.invalidateLocked(kbID)
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// invalidateLocked drops cached NN results for the kb. The cache is small
// enough that a full purge on write is cheaper than per-key bookkeeping.
func (s *MemoryStore) invalidateLocked(kbID string) {
	s.nnCache.Purge()
}

func cosine(q []float64, qNorm float64, stored []float64, sNorm float64) float64 {
	if qNorm == 0 || sNorm == 0 {
		return 0
	}
	return floats.Dot(q, stored) / (qNorm * sNorm)
}
