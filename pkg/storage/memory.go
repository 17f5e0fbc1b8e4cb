package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/kato-io/kato/pkg/model"
)

// MemoryStore is an in-process PatternStore used by unit tests and
// single-node deployments without Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	patterns map[string]map[string]*model.Pattern // kb → identity → pattern
	index    map[string]map[string][]string       // kb → symbol → sorted identities
}

// NewMemoryStore creates an empty in-memory pattern store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patterns: make(map[string]map[string]*model.Pattern),
		index:    make(map[string]map[string][]string),
	}
}

// Upsert implements PatternStore.
func (s *MemoryStore) Upsert(ctx context.Context, p *model.Pattern, persistence int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kb := s.patterns[p.KBID]
	if kb == nil {
		kb = make(map[string]*model.Pattern)
		s.patterns[p.KBID] = kb
	}

	existing, ok := kb[p.Identity]
	if !ok {
		stored := clonePattern(p)
		if persistence > 0 && len(stored.EmotiveProfile) > persistence {
			stored.EmotiveProfile = stored.EmotiveProfile[len(stored.EmotiveProfile)-persistence:]
		}
		kb[p.Identity] = stored
		s.indexLocked(stored)
		return nil
	}

	existing.Frequency += p.Frequency
	for _, entry := range p.EmotiveProfile {
		existing.EmotiveProfile = model.AppendEmotives(existing.EmotiveProfile, entry, persistence)
	}
	existing.Metadata = model.MergeMetadataSets(existing.Metadata, p.Metadata)
	return nil
}

// Get implements PatternStore.
func (s *MemoryStore) Get(ctx context.Context, kbID, identity string) (*model.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patterns[kbID][identity]
	if !ok {
		return nil, ErrPatternNotFound
	}
	return clonePattern(p), nil
}

// RetrieveCandidates implements PatternStore. Results are ordered by
// identity for determinism.
func (s *MemoryStore) RetrieveCandidates(ctx context.Context, kbID string, symbols []string) ([]*model.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	if symbols == nil {
		for id := range s.patterns[kbID] {
			seen[id] = true
		}
	} else {
		idx := s.index[kbID]
		for _, sym := range symbols {
			for _, id := range idx[sym] {
				seen[id] = true
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*model.Pattern, 0, len(ids))
	for _, id := range ids {
		out = append(out, clonePattern(s.patterns[kbID][id]))
	}
	return out, nil
}

// DeleteKB implements PatternStore.
func (s *MemoryStore) DeleteKB(ctx context.Context, kbID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.patterns, kbID)
	delete(s.index, kbID)
	return nil
}

// Ping implements PatternStore.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) indexLocked(p *model.Pattern) {
	idx := s.index[p.KBID]
	if idx == nil {
		idx = make(map[string][]string)
		s.index[p.KBID] = idx
	}
	for sym := range model.SymbolBag(p.Events) {
		ids := idx[sym]
		pos := sort.SearchStrings(ids, p.Identity)
		if pos < len(ids) && ids[pos] == p.Identity {
			continue
		}
		ids = append(ids, "")
		copy(ids[pos+1:], ids[pos:])
		ids[pos] = p.Identity
		idx[sym] = ids
	}
}
