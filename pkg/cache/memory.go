package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kato-io/kato/pkg/model"
)

type sessionEntry struct {
	state     *model.SessionState
	expiresAt time.Time
}

// MemoryCache is an in-process MetadataCache used by unit tests and
// single-node deployments without Redis.
type MemoryCache struct {
	mu       sync.RWMutex
	counters map[string]*PatternCounters // kb + "\x00" + identity
	sessions map[string]sessionEntry
	now      func() time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		counters: make(map[string]*PatternCounters),
		sessions: make(map[string]sessionEntry),
		now:      time.Now,
	}
}

func patternKey(kbID, identity string) string {
	return kbID + "\x00" + identity
}

// IncrementFrequency implements MetadataCache.
func (c *MemoryCache) IncrementFrequency(ctx context.Context, kbID, identity string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := patternKey(kbID, identity)
	entry := c.counters[key]
	if entry == nil {
		entry = &PatternCounters{}
		c.counters[key] = entry
	}
	entry.Frequency++
	return entry.Frequency, nil
}

// AppendPatternEntries implements MetadataCache.
func (c *MemoryCache) AppendPatternEntries(ctx context.Context, kbID, identity string, emotives map[string]float64, metadata map[string]any, persistence int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := patternKey(kbID, identity)
	entry := c.counters[key]
	if entry == nil {
		entry = &PatternCounters{}
		c.counters[key] = entry
	}
	entry.EmotiveProfile = model.AppendEmotives(entry.EmotiveProfile, emotives, persistence)
	entry.Metadata = model.MergeMetadata(entry.Metadata, metadata)
	return nil
}

// GetCounters implements MetadataCache.
func (c *MemoryCache) GetCounters(ctx context.Context, kbID, identity string) (PatternCounters, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry := c.counters[patternKey(kbID, identity)]
	if entry == nil {
		return PatternCounters{}, nil
	}
	out := PatternCounters{Frequency: entry.Frequency}
	out.EmotiveProfile = append(out.EmotiveProfile, entry.EmotiveProfile...)
	out.Metadata = model.MergeMetadataSets(nil, entry.Metadata)
	return out, nil
}

// DeleteKB implements MetadataCache.
func (c *MemoryCache) DeleteKB(ctx context.Context, kbID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := kbID + "\x00"
	for key := range c.counters {
		if strings.HasPrefix(key, prefix) {
			delete(c.counters, key)
		}
	}
	return nil
}

// SaveSession implements MetadataCache.
func (c *MemoryCache) SaveSession(ctx context.Context, state *model.SessionState, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions[state.SessionID] = sessionEntry{
		state:     state.Clone(),
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// LoadSession implements MetadataCache.
func (c *MemoryCache) LoadSession(ctx context.Context, sessionID string) (*model.SessionState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.sessions[sessionID]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, ErrSessionNotFound
	}
	return entry.state.Clone(), nil
}

// DeleteSession implements MetadataCache.
func (c *MemoryCache) DeleteSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
	return nil
}

// Ping implements MetadataCache.
func (c *MemoryCache) Ping(ctx context.Context) error { return nil }
