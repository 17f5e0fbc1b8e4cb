package vector

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/kato-io/kato/pkg/model"
)

// Binder maps raw vectors to stable symbolic tokens. A vector within
// similarityRadius (cosine) of an existing collection member reuses that
// member's symbol; a novel vector mints a new content-addressed symbol and
// joins the collection.
type Binder struct {
	store            Store
	similarityRadius float64
	dimension        int
}

// NewBinder creates a binder over the given store. similarityRadius is the
// minimum cosine similarity for reuse; dimension is the required vector
// dimension (0 disables the check here, leaving it to the store).
func NewBinder(store Store, similarityRadius float64, dimension int) *Binder {
	return &Binder{store: store, similarityRadius: similarityRadius, dimension: dimension}
}

// Dimension returns the configured vector dimension.
func (b *Binder) Dimension() int { return b.dimension }

// Bind resolves one vector to its symbol. Returns the symbol and whether a
// novel vector was inserted.
func (b *Binder) Bind(ctx context.Context, kbID string, v []float64) (string, bool, error) {
	if b.dimension > 0 && len(v) != b.dimension {
		return "", false, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), b.dimension)
	}

	neighbor, found, err := b.store.Nearest(ctx, kbID, v)
	if err != nil {
		return "", false, fmt.Errorf("nearest-neighbor lookup: %w", err)
	}
	if found && neighbor.Similarity >= b.similarityRadius {
		return neighbor.Symbol, false, nil
	}

	sym := model.VectorSymbolPrefix + CanonicalDigest(v)
	if err := b.store.Insert(ctx, kbID, sym, v); err != nil {
		return "", false, fmt.Errorf("insert vector: %w", err)
	}
	return sym, true, nil
}

// CanonicalDigest hashes the IEEE-754 little-endian encoding of the vector.
// The encoding is never rounded, so bit-identical vectors digest
// identically on every platform.
func CanonicalDigest(v []float64) string {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	sum := sha1.Sum(buf)
	return hex.EncodeToString(sum[:])
}
