// Package cache provides the metadata-cache capability: per-pattern
// frequency counters, rolling emotive windows and metadata accumulators,
// plus serialized session state with a sliding TTL. The pattern store is
// authoritative for pattern data; the cache serves fast reads and session
// durability across engine restarts.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/kato-io/kato/pkg/model"
)

var (
	// ErrSessionNotFound is returned when no serialized session exists for
	// the id (never written, expired, or deleted).
	ErrSessionNotFound = errors.New("session not found in cache")

	// ErrUnavailable wraps transient backend failures; callers retry.
	ErrUnavailable = errors.New("metadata cache unavailable")
)

// PatternCounters is the cached per-pattern rollup.
type PatternCounters struct {
	Frequency      int64                `json:"frequency"`
	EmotiveProfile []map[string]float64 `json:"emotive_profile"`
	Metadata       map[string][]any     `json:"metadata"`
}

// MetadataCache is the cache capability. Pattern entries never expire;
// session entries carry a sliding TTL refreshed on every save.
type MetadataCache interface {
	// IncrementFrequency bumps the learn counter for the pattern and
	// returns the new value.
	IncrementFrequency(ctx context.Context, kbID, identity string) (int64, error)
	// AppendPatternEntries appends one per-learn emotive map and one
	// metadata map onto the pattern's rolling accumulators, trimming the
	// emotive window to persistence entries.
	AppendPatternEntries(ctx context.Context, kbID, identity string, emotives map[string]float64, metadata map[string]any, persistence int) error
	// GetCounters returns the cached rollup for a pattern; zero-valued
	// counters when the pattern has no cache entry.
	GetCounters(ctx context.Context, kbID, identity string) (PatternCounters, error)
	// DeleteKB drops every pattern entry in the kb partition.
	DeleteKB(ctx context.Context, kbID string) error

	// SaveSession serializes the session state with the given TTL,
	// refreshing the sliding expiry window.
	SaveSession(ctx context.Context, state *model.SessionState, ttl time.Duration) error
	// LoadSession returns the serialized session state.
	LoadSession(ctx context.Context, sessionID string) (*model.SessionState, error)
	// DeleteSession removes the serialized session state.
	DeleteSession(ctx context.Context, sessionID string) error

	// Ping reports backend reachability for health checks.
	Ping(ctx context.Context) error
}
