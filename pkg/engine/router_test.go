package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kato-io/kato/pkg/cache"
	"github.com/kato-io/kato/pkg/model"
	"github.com/kato-io/kato/pkg/session"
	"github.com/kato-io/kato/pkg/storage"
	"github.com/kato-io/kato/pkg/vector"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	metadataCache := cache.NewMemoryCache()
	store := storage.NewMemoryStore()
	vectors := vector.NewMemoryStore(0)
	binder := vector.NewBinder(vectors, 0.95, 0)
	sessions := session.NewManager(metadataCache, time.Hour)
	return NewRouter(sessions, store, metadataCache, vectors, binder)
}

func createSession(t *testing.T, r *Router, overrides map[string]any) string {
	t.Helper()
	state, err := r.CreateSession(context.Background(), "node1", overrides)
	require.NoError(t, err)
	return state.SessionID
}

func observeStrings(t *testing.T, r *Router, sessionID string, symbols ...string) *ObserveResult {
	t.Helper()
	result, err := r.Observe(context.Background(), sessionID, &model.Observation{Strings: symbols})
	require.NoError(t, err)
	return result
}

func TestRouter_ObserveAccumulatesSTM(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r, nil)

	result := observeStrings(t, r, id, "a")
	assert.Equal(t, "okay", result.Status)
	assert.Equal(t, 1, result.STMLength)
	assert.Equal(t, int64(1), result.Time)
	assert.NotEmpty(t, result.UniqueID)

	result = observeStrings(t, r, id, "b")
	assert.Equal(t, 2, result.STMLength)
}

func TestRouter_ObserveUnknownSession(t *testing.T) {
	r := newTestRouter(t)

	_, err := r.Observe(context.Background(), "missing", &model.Observation{Strings: []string{"a"}})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRouter_IdempotentObserveReplay(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r, nil)
	ctx := context.Background()

	first, err := r.Observe(ctx, id, &model.Observation{Strings: []string{"a"}, UniqueID: "obs-1"})
	require.NoError(t, err)

	// Retrying the same unique_id replays the identical response without
	// appending a second event.
	second, err := r.Observe(ctx, id, &model.Observation{Strings: []string{"a"}, UniqueID: "obs-1"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stm, err := r.GetSTM(ctx, id)
	require.NoError(t, err)
	assert.Len(t, stm, 1)
}

func TestRouter_LearnEmptySTM(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r, nil)

	_, err := r.Learn(context.Background(), id)
	assert.ErrorIs(t, err, ErrEmptySTM)
}

func TestRouter_LearnEmptiesSTM(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r, nil)
	ctx := context.Background()

	observeStrings(t, r, id, "a")
	observeStrings(t, r, id, "b")

	name, err := r.Learn(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, name, model.PatternNamePrefix)

	stm, err := r.GetSTM(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, stm)
}

func TestRouter_ClearSTM(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r, nil)
	ctx := context.Background()

	observeStrings(t, r, id, "a")
	require.NoError(t, r.ClearSTM(ctx, id))

	stm, err := r.GetSTM(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, stm)
}

func TestRouter_ClearAllRemovesPatterns(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r, nil)
	ctx := context.Background()

	observeStrings(t, r, id, "a")
	name, err := r.Learn(ctx, id)
	require.NoError(t, err)

	require.NoError(t, r.ClearAll(ctx, id))

	_, err = r.GetPattern(ctx, id, name)
	assert.ErrorIs(t, err, storage.ErrPatternNotFound)

	// Nothing left to predict from.
	observeStrings(t, r, id, "a")
	preds, err := r.GetPredictions(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, preds)
}

func TestRouter_UpdateConfig(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r, nil)
	ctx := context.Background()

	cfg, err := r.UpdateConfig(ctx, id, map[string]any{"recall_threshold": 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.RecallThreshold)

	_, err = r.UpdateConfig(ctx, id, map[string]any{"bogus": 1.0})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	// The failed update did not stick.
	state, err := r.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.5, state.Config.RecallThreshold)
}

func TestRouter_GetPatternMergesCacheCounters(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r, nil)
	ctx := context.Background()

	observeStrings(t, r, id, "a")
	name, err := r.Learn(ctx, id)
	require.NoError(t, err)

	p, err := r.GetPattern(ctx, id, name)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Frequency)
	assert.Equal(t, name, p.Name())
}

func TestRouter_ObserveSequenceLearnAtEnd(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r, nil)
	ctx := context.Background()

	observations := []*model.Observation{
		{Strings: []string{"a"}},
		{Strings: []string{"b"}},
	}
	results, learned, err := r.ObserveSequence(ctx, id, observations, false, true)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	require.Len(t, learned, 1)

	stm, err := r.GetSTM(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, stm)
}

func TestRouter_ObserveSequenceLearnAfterEach(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r, nil)
	ctx := context.Background()

	observations := []*model.Observation{
		{Strings: []string{"a"}},
		{Strings: []string{"b"}},
	}
	_, learned, err := r.ObserveSequence(ctx, id, observations, true, false)
	require.NoError(t, err)
	assert.Len(t, learned, 2)
	assert.NotEqual(t, learned[0], learned[1])
}

func TestRouter_DeferredPredictionsComputedOnGet(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r, nil)
	ctx := context.Background()

	observeStrings(t, r, id, "a")
	observeStrings(t, r, id, "b")
	_, err := r.Learn(ctx, id)
	require.NoError(t, err)

	// Bulk-ingest mode: observe computes no predictions.
	_, err = r.UpdateConfig(ctx, id, map[string]any{"process_predictions": false})
	require.NoError(t, err)
	result := observeStrings(t, r, id, "a")
	assert.Empty(t, result.Predictions)

	// A subsequent GET recomputes over the current STM.
	preds, err := r.GetPredictions(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, preds)
}

func TestRouter_PredictionsReflectPriorLearns(t *testing.T) {
	r := newTestRouter(t)
	id := createSession(t, r, nil)
	ctx := context.Background()

	observeStrings(t, r, id, "a")
	observeStrings(t, r, id, "b")
	_, err := r.Learn(ctx, id)
	require.NoError(t, err)

	result := observeStrings(t, r, id, "a")
	require.Len(t, result.Predictions, 1)
	assert.Equal(t, []model.Event{{"b"}}, result.Predictions[0].Future)
}

func TestRouter_ConcurrentSessionsKeepSerialHistories(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	id1 := createSession(t, r, nil)
	id2 := createSession(t, r, nil)

	var wg sync.WaitGroup
	for _, tc := range []struct{ id, sym string }{{id1, "one"}, {id2, "two"}} {
		wg.Add(1)
		go func(sessionID, sym string) {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				if _, err := r.Observe(ctx, sessionID, &model.Observation{Strings: []string{sym}}); err != nil {
					t.Error(err)
					return
				}
			}
		}(tc.id, tc.sym)
	}
	wg.Wait()

	for _, tc := range []struct{ id, sym string }{{id1, "one"}, {id2, "two"}} {
		stm, err := r.GetSTM(ctx, tc.id)
		require.NoError(t, err)
		require.Len(t, stm, 30)
		for _, e := range stm {
			assert.Equal(t, model.Event{tc.sym}, e)
		}
	}
}
