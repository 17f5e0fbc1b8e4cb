package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kato-io/kato/pkg/model"
)

func newPattern(kbID string, events []model.Event) *model.Pattern {
	return &model.Pattern{
		Identity:       model.PatternIdentity(events),
		KBID:           kbID,
		Events:         events,
		Length:         len(events),
		Frequency:      1,
		EmotiveProfile: []map[string]float64{{"joy": 1}},
		Metadata:       map[string][]any{"source": {"test"}},
	}
}

func TestMemoryStore_UpsertAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	p := newPattern("kb1", []model.Event{{"a"}, {"b"}})
	require.NoError(t, store.Upsert(ctx, p, 5))

	got, err := store.Get(ctx, "kb1", p.Identity)
	require.NoError(t, err)
	assert.Equal(t, p.Identity, got.Identity)
	assert.Equal(t, int64(1), got.Frequency)
	assert.Equal(t, 2, got.Length)
}

func TestMemoryStore_GetUnknown(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "kb1", "deadbeef")
	assert.ErrorIs(t, err, ErrPatternNotFound)
}

func TestMemoryStore_UpsertMergesOnIdentityCollision(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	events := []model.Event{{"x"}, {"y"}}
	p1 := newPattern("kb1", events)
	p2 := newPattern("kb1", events)
	p2.EmotiveProfile = []map[string]float64{{"joy": 3}}
	p2.Metadata = map[string][]any{"source": {"other"}}

	require.NoError(t, store.Upsert(ctx, p1, 5))
	require.NoError(t, store.Upsert(ctx, p2, 5))

	got, err := store.Get(ctx, "kb1", p1.Identity)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Frequency)
	require.Len(t, got.EmotiveProfile, 2)
	assert.Equal(t, []any{"test", "other"}, got.Metadata["source"])
}

func TestMemoryStore_MergeRespectsPersistence(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	events := []model.Event{{"p"}}
	for i := 0; i < 7; i++ {
		p := newPattern("kb1", events)
		p.EmotiveProfile = []map[string]float64{{"joy": float64(i)}}
		require.NoError(t, store.Upsert(ctx, p, 3))
	}

	got, err := store.Get(ctx, "kb1", model.PatternIdentity(events))
	require.NoError(t, err)
	require.Len(t, got.EmotiveProfile, 3)
	assert.Equal(t, 4.0, got.EmotiveProfile[0]["joy"])
	assert.Equal(t, 6.0, got.EmotiveProfile[2]["joy"])
}

func TestMemoryStore_RetrieveCandidates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	p1 := newPattern("kb1", []model.Event{{"a"}, {"b"}})
	p2 := newPattern("kb1", []model.Event{{"c"}})
	p3 := newPattern("kb2", []model.Event{{"a"}})
	require.NoError(t, store.Upsert(ctx, p1, 5))
	require.NoError(t, store.Upsert(ctx, p2, 5))
	require.NoError(t, store.Upsert(ctx, p3, 5))

	got, err := store.RetrieveCandidates(ctx, "kb1", []string{"a"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, p1.Identity, got[0].Identity)

	// No overlap → no candidates.
	got, err = store.RetrieveCandidates(ctx, "kb1", []string{"z"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStore_RetrieveCandidatesDeterministicOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	p1 := newPattern("kb1", []model.Event{{"shared"}, {"one"}})
	p2 := newPattern("kb1", []model.Event{{"shared"}, {"two"}})
	require.NoError(t, store.Upsert(ctx, p1, 5))
	require.NoError(t, store.Upsert(ctx, p2, 5))

	for i := 0; i < 5; i++ {
		got, err := store.RetrieveCandidates(ctx, "kb1", []string{"shared"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Less(t, got[0].Identity, got[1].Identity)
	}
}

func TestMemoryStore_DeleteKB(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	p := newPattern("kb1", []model.Event{{"a"}})
	require.NoError(t, store.Upsert(ctx, p, 5))
	require.NoError(t, store.DeleteKB(ctx, "kb1"))

	_, err := store.Get(ctx, "kb1", p.Identity)
	assert.ErrorIs(t, err, ErrPatternNotFound)

	got, err := store.RetrieveCandidates(ctx, "kb1", []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	p := newPattern("kb1", []model.Event{{"a"}})
	require.NoError(t, store.Upsert(ctx, p, 5))

	got, err := store.Get(ctx, "kb1", p.Identity)
	require.NoError(t, err)
	got.Events[0][0] = "mutated"

	again, err := store.Get(ctx, "kb1", p.Identity)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Events[0][0])
}
