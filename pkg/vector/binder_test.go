package vector

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kato-io/kato/pkg/model"
)

func TestBinder_NovelVectorMintsSymbol(t *testing.T) {
	store := NewMemoryStore(0)
	binder := NewBinder(store, 0.95, 3)
	ctx := context.Background()

	sym, novel, err := binder.Bind(ctx, "kb1", []float64{1, 0, 0})
	require.NoError(t, err)
	assert.True(t, novel)
	assert.True(t, strings.HasPrefix(sym, model.VectorSymbolPrefix))
	assert.Len(t, sym, len(model.VectorSymbolPrefix)+40)
}

func TestBinder_NearbyVectorReusesSymbol(t *testing.T) {
	store := NewMemoryStore(0)
	binder := NewBinder(store, 0.95, 3)
	ctx := context.Background()

	sym1, novel, err := binder.Bind(ctx, "kb1", []float64{1, 0, 0})
	require.NoError(t, err)
	require.True(t, novel)

	// Slightly perturbed copy of the same direction: cosine ≈ 0.99995.
	sym2, novel, err := binder.Bind(ctx, "kb1", []float64{1, 0.01, 0})
	require.NoError(t, err)
	assert.False(t, novel)
	assert.Equal(t, sym1, sym2)
}

func TestBinder_DistantVectorIsNovel(t *testing.T) {
	store := NewMemoryStore(0)
	binder := NewBinder(store, 0.95, 3)
	ctx := context.Background()

	sym1, _, err := binder.Bind(ctx, "kb1", []float64{1, 0, 0})
	require.NoError(t, err)

	sym2, novel, err := binder.Bind(ctx, "kb1", []float64{0, 1, 0})
	require.NoError(t, err)
	assert.True(t, novel)
	assert.NotEqual(t, sym1, sym2)
}

func TestBinder_CollectionsAreIsolatedByKB(t *testing.T) {
	store := NewMemoryStore(0)
	binder := NewBinder(store, 0.95, 2)
	ctx := context.Background()

	_, novel1, err := binder.Bind(ctx, "kb1", []float64{1, 0})
	require.NoError(t, err)
	_, novel2, err := binder.Bind(ctx, "kb2", []float64{1, 0})
	require.NoError(t, err)

	assert.True(t, novel1)
	assert.True(t, novel2)
}

func TestBinder_DimensionMismatch(t *testing.T) {
	binder := NewBinder(NewMemoryStore(0), 0.95, 3)

	_, _, err := binder.Bind(context.Background(), "kb1", []float64{1, 0})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestBinder_IdenticalVectorsDigestIdentically(t *testing.T) {
	v := []float64{0.25, -1.5, 3.25}
	assert.Equal(t, CanonicalDigest(v), CanonicalDigest([]float64{0.25, -1.5, 3.25}))
	assert.NotEqual(t, CanonicalDigest(v), CanonicalDigest([]float64{0.25, -1.5, 3.26}))
}

func TestMemoryStore_NearestTieBreaksOnSymbol(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	// Two identical vectors under different symbols: the nearest lookup
	// must deterministically pick the lexicographically smaller symbol.
	require.NoError(t, store.Insert(ctx, "kb1", "b-sym", []float64{1, 0}))
	require.NoError(t, store.Insert(ctx, "kb1", "a-sym", []float64{1, 0}))

	n, found, err := store.Nearest(ctx, "kb1", []float64{1, 0})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a-sym", n.Symbol)
	assert.InDelta(t, 1.0, n.Similarity, 1e-9)
}

func TestMemoryStore_EmptyCollection(t *testing.T) {
	store := NewMemoryStore(0)

	_, found, err := store.Nearest(context.Background(), "missing", []float64{1})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_DuplicateInsertIsIdempotent(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, "kb1", "sym", []float64{1, 0}))
	require.NoError(t, store.Insert(ctx, "kb1", "sym", []float64{1, 0}))

	n, found, err := store.Nearest(ctx, "kb1", []float64{1, 0})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "sym", n.Symbol)
}

func TestMemoryStore_DeleteCollection(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, "kb1", "sym", []float64{1, 0}))
	require.NoError(t, store.DeleteCollection(ctx, "kb1"))

	_, found, err := store.Nearest(ctx, "kb1", []float64{1, 0})
	require.NoError(t, err)
	assert.False(t, found)
}
