// Package session owns per-session state: an in-memory registry with
// per-session single-writer locks, versioned writes, a sliding TTL, and
// write-through persistence to the metadata cache so sessions survive a
// process restart.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kato-io/kato/pkg/cache"
	"github.com/kato-io/kato/pkg/model"
)

var (
	// ErrNotFound is returned for unknown or tombstoned session ids.
	ErrNotFound = errors.New("session not found")

	// ErrVersionConflict is returned by Put when the expected version does
	// not match the stored version.
	ErrVersionConflict = errors.New("session version conflict")
)

// Manager manages session state. Each session has exactly one lock; every
// mutating RPC runs load → pure engine function → store under that lock, so
// observations within a session serialize while sessions proceed in
// parallel.
type Manager struct {
	cache cache.MetadataCache
	ttl   time.Duration

	mu        sync.RWMutex
	states    map[string]*model.SessionState
	locks     map[string]*sync.Mutex
	tombstone map[string]bool

	now func() time.Time
}

// NewManager creates a session manager persisting through the given cache
// with the given sliding TTL.
func NewManager(metadataCache cache.MetadataCache, ttl time.Duration) *Manager {
	return &Manager{
		cache:     metadataCache,
		ttl:       ttl,
		states:    make(map[string]*model.SessionState),
		locks:     make(map[string]*sync.Mutex),
		tombstone: make(map[string]bool),
		now:       time.Now,
	}
}

// Create allocates a new session on the given node with the given config.
func (m *Manager) Create(ctx context.Context, nodeID string, cfg model.SessionConfig) (*model.SessionState, error) {
	now := m.now()
	state := &model.SessionState{
		SessionID:    uuid.New().String(),
		NodeID:       nodeID,
		STM:          []model.Event{},
		Predictions:  []model.Prediction{},
		Config:       cfg,
		Version:      1,
		CreatedAt:    now,
		LastAccessed: now,
	}

	if err := m.cache.SaveSession(ctx, state, m.ttl); err != nil {
		return nil, fmt.Errorf("persist new session: %w", err)
	}

	m.mu.Lock()
	m.states[state.SessionID] = state.Clone()
	m.locks[state.SessionID] = &sync.Mutex{}
	m.mu.Unlock()

	slog.Info("Session created", "session_id", state.SessionID, "node_id", nodeID)
	return state, nil
}

// Get returns a deep copy of the session state. Sessions evicted from
// memory are reloaded from the cache; expired or tombstoned sessions
// return ErrNotFound.
func (m *Manager) Get(ctx context.Context, sessionID string) (*model.SessionState, error) {
	m.mu.RLock()
	state, inMemory := m.states[sessionID]
	dead := m.tombstone[sessionID]
	m.mu.RUnlock()

	if dead {
		return nil, ErrNotFound
	}
	if inMemory {
		if m.expired(state) {
			m.expire(ctx, sessionID)
			return nil, ErrNotFound
		}
		return state.Clone(), nil
	}

	loaded, err := m.cache.LoadSession(ctx, sessionID)
	if errors.Is(err, cache.ErrSessionNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	m.mu.Lock()
	if _, ok := m.states[sessionID]; !ok {
		m.states[sessionID] = loaded.Clone()
		if m.locks[sessionID] == nil {
			m.locks[sessionID] = &sync.Mutex{}
		}
	}
	m.mu.Unlock()
	return loaded, nil
}

// Put stores a new session state. expectedVersion must match the stored
// version; the stored version is bumped and the sliding TTL refreshed. The
// in-memory copy is only replaced after the cache write succeeds, so a
// failed mutation leaves the old state intact.
func (m *Manager) Put(ctx context.Context, state *model.SessionState, expectedVersion int64) error {
	m.mu.RLock()
	current, ok := m.states[state.SessionID]
	dead := m.tombstone[state.SessionID]
	m.mu.RUnlock()

	if dead || !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: have %d, expected %d", ErrVersionConflict, current.Version, expectedVersion)
	}

	next := state.Clone()
	next.Version = expectedVersion + 1
	next.LastAccessed = m.now()

	if err := m.cache.SaveSession(ctx, next, m.ttl); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	m.mu.Lock()
	m.states[state.SessionID] = next
	m.mu.Unlock()
	return nil
}

// Lock returns the session's mutex, creating it on first use. The caller
// holds it for the duration of one mutating RPC.
func (m *Manager) Lock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	return lock
}

// Delete removes a session and tombstones its id; further RPCs return
// ErrNotFound.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	_, ok := m.states[sessionID]
	delete(m.states, sessionID)
	delete(m.locks, sessionID)
	m.tombstone[sessionID] = true
	m.mu.Unlock()

	if err := m.cache.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	slog.Info("Session deleted", "session_id", sessionID)
	return nil
}

// List returns copies of all live sessions.
func (m *Manager) List() []*model.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.SessionState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s.Clone())
	}
	return out
}

func (m *Manager) expired(state *model.SessionState) bool {
	return m.ttl > 0 && m.now().Sub(state.LastAccessed) > m.ttl
}

func (m *Manager) expire(ctx context.Context, sessionID string) {
	m.mu.Lock()
	delete(m.states, sessionID)
	delete(m.locks, sessionID)
	m.tombstone[sessionID] = true
	m.mu.Unlock()

	if err := m.cache.DeleteSession(ctx, sessionID); err != nil {
		slog.Warn("Failed to delete expired session from cache",
			"session_id", sessionID, "error", err)
	}
	slog.Info("Session expired", "session_id", sessionID)
}
