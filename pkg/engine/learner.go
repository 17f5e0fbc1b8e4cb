package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kato-io/kato/pkg/cache"
	"github.com/kato-io/kato/pkg/metrics"
	"github.com/kato-io/kato/pkg/model"
	"github.com/kato-io/kato/pkg/storage"
)

// Learner compresses a session's STM into a durable pattern: it computes
// the deterministic identity, upserts the pattern, updates the metadata
// cache, and returns the session with an emptied window.
type Learner struct {
	store      storage.PatternStore
	cache      cache.MetadataCache
	maxRetries uint64
}

// NewLearner creates a learning engine over the given backends.
func NewLearner(store storage.PatternStore, metadataCache cache.MetadataCache) *Learner {
	return &Learner{store: store, cache: metadataCache, maxRetries: 4}
}

// Learn compresses the session's STM into a pattern. Returns the pattern
// identity and the new session state with STM and accumulators cleared,
// time preserved. The input state is never mutated; a failed learn leaves
// the caller's state intact.
func (l *Learner) Learn(ctx context.Context, state *model.SessionState) (string, *model.SessionState, error) {
	if len(state.STM) == 0 {
		return "", nil, ErrEmptySTM
	}

	events := model.CloneEvents(state.STM)
	identity := model.PatternIdentity(events)

	pattern := &model.Pattern{
		Identity:       identity,
		KBID:           state.NodeID,
		Events:         events,
		Length:         len(events),
		Frequency:      1,
		EmotiveProfile: []map[string]float64{metrics.MeanEmotives(state.EmotiveAccumulator)},
		Metadata:       aggregateMetadata(state.MetadataAccumulator),
	}

	// Durable write first, retried with jittered exponential backoff. The
	// cache update follows; a crash between the two reconciles on the next
	// learn because the upsert is idempotent on identity.
	if err := l.retryStorage(ctx, func() error {
		return l.store.Upsert(ctx, pattern, state.Config.Persistence)
	}); err != nil {
		return "", nil, fmt.Errorf("%w: upsert pattern %s: %v", ErrStorageUnavailable, identity, err)
	}

	if _, err := l.cache.IncrementFrequency(ctx, state.NodeID, identity); err != nil {
		slog.Warn("Metadata cache frequency update failed; will reconcile on next learn",
			"kb_id", state.NodeID, "identity", identity, "error", err)
	} else if err := l.cache.AppendPatternEntries(ctx, state.NodeID, identity,
		pattern.EmotiveProfile[0], flattenMetadata(state.MetadataAccumulator),
		state.Config.Persistence); err != nil {
		slog.Warn("Metadata cache entry update failed; will reconcile on next learn",
			"kb_id", state.NodeID, "identity", identity, "error", err)
	}

	next := state.Clone()
	next.STM = []model.Event{}
	next.EmotiveAccumulator = nil
	next.MetadataAccumulator = nil
	next.Predictions = []model.Prediction{}

	slog.Info("Pattern learned",
		"session_id", state.SessionID, "kb_id", state.NodeID,
		"identity", identity, "length", pattern.Length)
	return identity, next, nil
}

// retryStorage retries transient storage failures with jittered
// exponential backoff, bounded by maxRetries and the context deadline.
func (l *Learner) retryStorage(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newStorageBackoff(), l.maxRetries), ctx)
	return backoff.Retry(op, policy)
}

func newStorageBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// aggregateMetadata unions the per-observation metadata maps accumulated
// over the learned window into the pattern's per-key value sets.
func aggregateMetadata(accumulator []map[string]any) map[string][]any {
	var out map[string][]any
	for _, m := range accumulator {
		out = model.MergeMetadata(out, m)
	}
	if out == nil {
		out = make(map[string][]any)
	}
	return out
}

// flattenMetadata merges the accumulated maps into one map for the cache's
// per-learn entry; later observations win on key collisions.
func flattenMetadata(accumulator []map[string]any) map[string]any {
	out := make(map[string]any)
	for _, m := range accumulator {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
