package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kato-io/kato/pkg/model"
)

// Key layout:
//
//	kato:pattern:{kb}:{identity}:freq      INCR counter
//	kato:pattern:{kb}:{identity}:emotives  list of JSON maps, LTRIMmed to persistence
//	kato:pattern:{kb}:{identity}:metadata  JSON map[string][]any
//	kato:pattern:{kb}:index                set of identities in the kb (for DeleteKB)
//	kato:session:{id}                      JSON session state with sliding TTL
//
// Pattern keys never expire; only session keys carry a TTL.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a cache over an existing redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// NewRedisCacheFromAddr dials redis at addr (host:port) and verifies the
// connection.
func NewRedisCacheFromAddr(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return &RedisCache{client: client}, nil
}

// Close closes the underlying client.
func (c *RedisCache) Close() error { return c.client.Close() }

func freqKey(kbID, identity string) string {
	return fmt.Sprintf("kato:pattern:%s:%s:freq", kbID, identity)
}

func emotivesKey(kbID, identity string) string {
	return fmt.Sprintf("kato:pattern:%s:%s:emotives", kbID, identity)
}

func metadataKey(kbID, identity string) string {
	return fmt.Sprintf("kato:pattern:%s:%s:metadata", kbID, identity)
}

func kbIndexKey(kbID string) string {
	return fmt.Sprintf("kato:pattern:%s:index", kbID)
}

func sessionKey(sessionID string) string {
	return "kato:session:" + sessionID
}

// IncrementFrequency implements MetadataCache.
func (c *RedisCache) IncrementFrequency(ctx context.Context, kbID, identity string) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, freqKey(kbID, identity))
	pipe.SAdd(ctx, kbIndexKey(kbID), identity)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: incr frequency: %v", ErrUnavailable, err)
	}
	return incr.Val(), nil
}

// AppendPatternEntries implements MetadataCache. The emotive window is a
// redis list trimmed to the newest persistence entries; metadata merges
// into a JSON document. The pattern store is authoritative, so the
// read-modify-write on metadata does not need cross-process locking.
func (c *RedisCache) AppendPatternEntries(ctx context.Context, kbID, identity string, emotives map[string]float64, metadata map[string]any, persistence int) error {
	emotivesRaw, err := json.Marshal(emotives)
	if err != nil {
		return fmt.Errorf("marshal emotives: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, emotivesKey(kbID, identity), emotivesRaw)
	if persistence > 0 {
		pipe.LTrim(ctx, emotivesKey(kbID, identity), int64(-persistence), -1)
	}
	pipe.SAdd(ctx, kbIndexKey(kbID), identity)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: append emotives: %v", ErrUnavailable, err)
	}

	if len(metadata) == 0 {
		return nil
	}
	merged, err := c.loadMetadata(ctx, kbID, identity)
	if err != nil {
		return err
	}
	merged = model.MergeMetadata(merged, metadata)
	mergedRaw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := c.client.Set(ctx, metadataKey(kbID, identity), mergedRaw, 0).Err(); err != nil {
		return fmt.Errorf("%w: set metadata: %v", ErrUnavailable, err)
	}
	return nil
}

// GetCounters implements MetadataCache.
func (c *RedisCache) GetCounters(ctx context.Context, kbID, identity string) (PatternCounters, error) {
	var out PatternCounters

	freq, err := c.client.Get(ctx, freqKey(kbID, identity)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return out, fmt.Errorf("%w: get frequency: %v", ErrUnavailable, err)
	}
	out.Frequency = freq

	entries, err := c.client.LRange(ctx, emotivesKey(kbID, identity), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return out, fmt.Errorf("%w: get emotives: %v", ErrUnavailable, err)
	}
	for _, raw := range entries {
		var m map[string]float64
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return out, fmt.Errorf("unmarshal emotive entry: %w", err)
		}
		out.EmotiveProfile = append(out.EmotiveProfile, m)
	}

	out.Metadata, err = c.loadMetadata(ctx, kbID, identity)
	if err != nil {
		return out, err
	}
	return out, nil
}

func (c *RedisCache) loadMetadata(ctx context.Context, kbID, identity string) (map[string][]any, error) {
	raw, err := c.client.Get(ctx, metadataKey(kbID, identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get metadata: %v", ErrUnavailable, err)
	}
	var out map[string][]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return out, nil
}

// DeleteKB implements MetadataCache.
func (c *RedisCache) DeleteKB(ctx context.Context, kbID string) error {
	identities, err := c.client.SMembers(ctx, kbIndexKey(kbID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: list kb patterns: %v", ErrUnavailable, err)
	}

	pipe := c.client.TxPipeline()
	for _, identity := range identities {
		pipe.Del(ctx,
			freqKey(kbID, identity),
			emotivesKey(kbID, identity),
			metadataKey(kbID, identity))
	}
	pipe.Del(ctx, kbIndexKey(kbID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: delete kb: %v", ErrUnavailable, err)
	}
	return nil
}

// SaveSession implements MetadataCache. Set with a TTL refreshes the
// sliding expiry window on every mutation.
func (c *RedisCache) SaveSession(ctx context.Context, state *model.SessionState, ttl time.Duration) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	if err := c.client.Set(ctx, sessionKey(state.SessionID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: save session: %v", ErrUnavailable, err)
	}
	return nil
}

// LoadSession implements MetadataCache.
func (c *RedisCache) LoadSession(ctx context.Context, sessionID string) (*model.SessionState, error) {
	raw, err := c.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load session: %v", ErrUnavailable, err)
	}
	var state model.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	return &state, nil
}

// DeleteSession implements MetadataCache.
func (c *RedisCache) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: delete session: %v", ErrUnavailable, err)
	}
	return nil
}

// Ping implements MetadataCache.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
