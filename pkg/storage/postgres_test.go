package storage

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kato-io/kato/pkg/model"
)

// newTestStore creates a Postgres-backed store for integration tests.
// In CI (when CI_DATABASE_URL is set): connects to an external PostgreSQL
// service container. In local dev: spins up a testcontainer. Skipped in
// short mode.
func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}
	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		t.Log("Using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)

		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	} else {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
	}

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	require.NoError(t, runMigrations(db, Config{Database: "test"}))

	store := NewPostgresStoreFromDB(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgresStore_UpsertGetMerge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	events := []model.Event{{"apple", "zebra"}, {"test"}}
	p := newPattern("kb1", events)
	require.NoError(t, store.Upsert(ctx, p, 5))

	got, err := store.Get(ctx, "kb1", p.Identity)
	require.NoError(t, err)
	assert.Equal(t, p.Events, got.Events)
	assert.Equal(t, int64(1), got.Frequency)

	// Re-learning merges instead of duplicating.
	p2 := newPattern("kb1", events)
	p2.EmotiveProfile = []map[string]float64{{"joy": 2}}
	require.NoError(t, store.Upsert(ctx, p2, 5))

	got, err = store.Get(ctx, "kb1", p.Identity)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Frequency)
	assert.Len(t, got.EmotiveProfile, 2)
}

func TestPostgresStore_RetrieveCandidates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p1 := newPattern("kb1", []model.Event{{"hello", "world"}})
	p2 := newPattern("kb1", []model.Event{{"other"}})
	require.NoError(t, store.Upsert(ctx, p1, 5))
	require.NoError(t, store.Upsert(ctx, p2, 5))

	got, err := store.RetrieveCandidates(ctx, "kb1", []string{"hello", "nope"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, p1.Identity, got[0].Identity)

	// Other kb partitions stay invisible.
	got, err = store.RetrieveCandidates(ctx, "kb2", []string{"hello"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPostgresStore_DeleteKB(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := newPattern("kb1", []model.Event{{"gone"}})
	require.NoError(t, store.Upsert(ctx, p, 5))
	require.NoError(t, store.DeleteKB(ctx, "kb1"))

	_, err := store.Get(ctx, "kb1", p.Identity)
	assert.ErrorIs(t, err, ErrPatternNotFound)
}
