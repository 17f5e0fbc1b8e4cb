package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql

	"github.com/kato-io/kato/pkg/model"
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds Postgres connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// PostgresStore is the durable PatternStore backed by Postgres. Candidate
// retrieval uses an inverted symbol index table maintained on insert.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a pooled connection, runs embedded migrations, and
// returns the store.
func NewPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, cfg); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection (useful for testing).
// Migrations must already have been applied.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB returns the underlying connection for health checks.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// runMigrations applies the embedded SQL migrations. Files are compiled
// into the binary with go:embed so deployments never need external
// migration assets.
func runMigrations(db *sql.DB, cfg Config) error {
	if err := checkEmbeddedMigrations(); err != nil {
		return err
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, cfg.Database, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver. m.Close() would also close the shared
	// *sql.DB passed via postgres.WithInstance().
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}

func checkEmbeddedMigrations() error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			return nil
		}
	}
	return errors.New("no embedded migration files found — binary may be built incorrectly")
}

// Upsert implements PatternStore. The insert-or-merge runs in a single
// transaction with the pattern row locked, so concurrent learns of the same
// identity serialize on the row rather than losing counts.
func (s *PostgresStore) Upsert(ctx context.Context, p *model.Pattern, persistence int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		frequency  int64
		profileRaw []byte
		metaRaw    []byte
	)
	row := tx.QueryRowContext(ctx,
		`SELECT frequency, emotive_profile, metadata FROM patterns
		 WHERE kb_id = $1 AND identity = $2 FOR UPDATE`,
		p.KBID, p.Identity)
	err = row.Scan(&frequency, &profileRaw, &metaRaw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := s.insertLocked(ctx, tx, p, persistence); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("%w: select: %v", ErrUnavailable, err)
	default:
		if err := s.mergeLocked(ctx, tx, p, persistence, frequency, profileRaw, metaRaw); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) insertLocked(ctx context.Context, tx *sql.Tx, p *model.Pattern, persistence int) error {
	profile := p.EmotiveProfile
	if persistence > 0 && len(profile) > persistence {
		profile = profile[len(profile)-persistence:]
	}
	eventsRaw, err := json.Marshal(p.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	profileRaw, err := json.Marshal(emptySliceIfNil(profile))
	if err != nil {
		return fmt.Errorf("marshal emotive profile: %w", err)
	}
	metaRaw, err := json.Marshal(emptyMapIfNil(p.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO patterns (kb_id, identity, length, events_blob, emotive_profile, metadata, frequency)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.KBID, p.Identity, p.Length, eventsRaw, profileRaw, metaRaw, p.Frequency)
	if err != nil {
		return fmt.Errorf("%w: insert pattern: %v", ErrUnavailable, err)
	}

	for sym := range model.SymbolBag(p.Events) {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO pattern_symbols (kb_id, symbol, identity)
			 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			p.KBID, sym, p.Identity)
		if err != nil {
			return fmt.Errorf("%w: index symbol: %v", ErrUnavailable, err)
		}
	}
	return nil
}

func (s *PostgresStore) mergeLocked(ctx context.Context, tx *sql.Tx, p *model.Pattern, persistence int, frequency int64, profileRaw, metaRaw []byte) error {
	var profile []map[string]float64
	if err := json.Unmarshal(profileRaw, &profile); err != nil {
		return fmt.Errorf("unmarshal emotive profile: %w", err)
	}
	var meta map[string][]any
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return fmt.Errorf("unmarshal metadata: %w", err)
	}

	for _, entry := range p.EmotiveProfile {
		profile = model.AppendEmotives(profile, entry, persistence)
	}
	meta = model.MergeMetadataSets(meta, p.Metadata)

	newProfileRaw, err := json.Marshal(emptySliceIfNil(profile))
	if err != nil {
		return fmt.Errorf("marshal emotive profile: %w", err)
	}
	newMetaRaw, err := json.Marshal(emptyMapIfNil(meta))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE patterns SET frequency = $3, emotive_profile = $4, metadata = $5
		 WHERE kb_id = $1 AND identity = $2`,
		p.KBID, p.Identity, frequency+p.Frequency, newProfileRaw, newMetaRaw)
	if err != nil {
		return fmt.Errorf("%w: update pattern: %v", ErrUnavailable, err)
	}
	return nil
}

// Get implements PatternStore.
func (s *PostgresStore) Get(ctx context.Context, kbID, identity string) (*model.Pattern, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT length, events_blob, emotive_profile, metadata, frequency
		 FROM patterns WHERE kb_id = $1 AND identity = $2`,
		kbID, identity)
	p, err := scanPattern(row, kbID, identity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPatternNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get pattern: %v", ErrUnavailable, err)
	}
	return p, nil
}

// RetrieveCandidates implements PatternStore via the inverted symbol index,
// ordered by identity for determinism. A nil symbols slice scans the whole
// kb partition.
func (s *PostgresStore) RetrieveCandidates(ctx context.Context, kbID string, symbols []string) ([]*model.Pattern, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if symbols == nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT identity, length, events_blob, emotive_profile, metadata, frequency
			 FROM patterns WHERE kb_id = $1
			 ORDER BY identity`,
			kbID)
	} else if len(symbols) == 0 {
		return nil, nil
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT DISTINCT p.identity, p.length, p.events_blob, p.emotive_profile, p.metadata, p.frequency
			 FROM patterns p
			 JOIN pattern_symbols ps ON ps.kb_id = p.kb_id AND ps.identity = p.identity
			 WHERE p.kb_id = $1 AND ps.symbol = ANY($2)
			 ORDER BY p.identity`,
			kbID, symbols)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve candidates: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []*model.Pattern
	for rows.Next() {
		var (
			identity   string
			length     int
			eventsRaw  []byte
			profileRaw []byte
			metaRaw    []byte
			frequency  int64
		)
		if err := rows.Scan(&identity, &length, &eventsRaw, &profileRaw, &metaRaw, &frequency); err != nil {
			return nil, fmt.Errorf("%w: scan candidate: %v", ErrUnavailable, err)
		}
		p, err := decodePattern(kbID, identity, length, eventsRaw, profileRaw, metaRaw, frequency)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate candidates: %v", ErrUnavailable, err)
	}
	return out, nil
}

// DeleteKB implements PatternStore.
func (s *PostgresStore) DeleteKB(ctx context.Context, kbID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pattern_symbols WHERE kb_id = $1`, kbID); err != nil {
		return fmt.Errorf("%w: delete symbol index: %v", ErrUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM patterns WHERE kb_id = $1`, kbID); err != nil {
		return fmt.Errorf("%w: delete patterns: %v", ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return nil
}

// Ping implements PatternStore.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner, kbID, identity string) (*model.Pattern, error) {
	var (
		length     int
		eventsRaw  []byte
		profileRaw []byte
		metaRaw    []byte
		frequency  int64
	)
	if err := row.Scan(&length, &eventsRaw, &profileRaw, &metaRaw, &frequency); err != nil {
		return nil, err
	}
	return decodePattern(kbID, identity, length, eventsRaw, profileRaw, metaRaw, frequency)
}

func decodePattern(kbID, identity string, length int, eventsRaw, profileRaw, metaRaw []byte, frequency int64) (*model.Pattern, error) {
	p := &model.Pattern{
		Identity:  identity,
		KBID:      kbID,
		Length:    length,
		Frequency: frequency,
	}
	if err := json.Unmarshal(eventsRaw, &p.Events); err != nil {
		return nil, fmt.Errorf("unmarshal events for %s: %w", identity, err)
	}
	if err := json.Unmarshal(profileRaw, &p.EmotiveProfile); err != nil {
		return nil, fmt.Errorf("unmarshal emotive profile for %s: %w", identity, err)
	}
	if err := json.Unmarshal(metaRaw, &p.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata for %s: %w", identity, err)
	}
	return p, nil
}

func emptySliceIfNil(profile []map[string]float64) []map[string]float64 {
	if profile == nil {
		return []map[string]float64{}
	}
	return profile
}

func emptyMapIfNil(meta map[string][]any) map[string][]any {
	if meta == nil {
		return map[string][]any{}
	}
	return meta
}
