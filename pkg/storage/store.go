// Package storage provides the durable pattern-store capability: patterns
// keyed by deterministic identity within a kb partition, with
// symbol-overlap candidate retrieval for the matcher.
package storage

import (
	"context"
	"errors"

	"github.com/kato-io/kato/pkg/model"
)

var (
	// ErrPatternNotFound is returned by Get for an unknown identity.
	ErrPatternNotFound = errors.New("pattern not found")

	// ErrUnavailable wraps transient backend failures; callers retry.
	ErrUnavailable = errors.New("pattern store unavailable")
)

// PatternStore is the durable storage capability for learned patterns.
//
// Upsert inserts the pattern or, when the identity already exists in the
// kb, merges: frequency += pattern.Frequency, the emotive profile entries
// append onto the rolling window bounded by persistence, and metadata
// values union per key. RetrieveCandidates returns a superset of the
// patterns whose symbol set intersects the given symbols; callers filter.
// A nil symbols slice requests the kb's full pattern set — fuzzy matching
// widens the candidate space beyond exact symbol overlap.
type PatternStore interface {
	Upsert(ctx context.Context, p *model.Pattern, persistence int) error
	Get(ctx context.Context, kbID, identity string) (*model.Pattern, error)
	RetrieveCandidates(ctx context.Context, kbID string, symbols []string) ([]*model.Pattern, error)
	DeleteKB(ctx context.Context, kbID string) error
	Ping(ctx context.Context) error
}

// clonePattern deep-copies a pattern so stored state never aliases caller
// memory.
func clonePattern(p *model.Pattern) *model.Pattern {
	out := &model.Pattern{
		Identity:  p.Identity,
		KBID:      p.KBID,
		Events:    model.CloneEvents(p.Events),
		Length:    p.Length,
		Frequency: p.Frequency,
	}
	out.EmotiveProfile = make([]map[string]float64, len(p.EmotiveProfile))
	for i, m := range p.EmotiveProfile {
		cp := make(map[string]float64, len(m))
		for k, v := range m {
			cp[k] = v
		}
		out.EmotiveProfile[i] = cp
	}
	if p.Metadata != nil {
		out.Metadata = model.MergeMetadataSets(nil, p.Metadata)
	}
	return out
}
