package engine

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kato-io/kato/pkg/cache"
	"github.com/kato-io/kato/pkg/config"
	"github.com/kato-io/kato/pkg/model"
	"github.com/kato-io/kato/pkg/session"
	"github.com/kato-io/kato/pkg/storage"
	"github.com/kato-io/kato/pkg/vector"
)

const (
	predictionCacheSize  = 1024
	idempotencyCacheSize = 4096
)

// Router is the stateless dispatch layer: every mutating operation loads
// session state under the session lock, runs the pure engine functions,
// and writes the new state back. The router itself holds no per-session
// data — only backends and shared caches.
type Router struct {
	sessions *session.Manager
	store    storage.PatternStore
	cache    cache.MetadataCache
	vectors  vector.Store
	binder   *vector.Binder

	pipeline *Pipeline
	matcher  *Matcher
	scorer   *Scorer
	learner  *Learner

	// predictions keyed by (kb generation, stm+config fingerprint);
	// bumping a kb's generation invalidates all of its entries at once.
	predCache *lru.Cache[string, []model.Prediction]
	genMu     sync.Mutex
	kbGen     map[string]uint64

	// observe responses keyed by (session, unique_id) so a retried
	// observation replays the identical response.
	idemCache *lru.Cache[string, *ObserveResult]
}

// NewRouter wires the engine components over the given backends.
func NewRouter(sessions *session.Manager, store storage.PatternStore, metadataCache cache.MetadataCache, vectors vector.Store, binder *vector.Binder) *Router {
	learner := NewLearner(store, metadataCache)
	predCache, _ := lru.New[string, []model.Prediction](predictionCacheSize)
	idemCache, _ := lru.New[string, *ObserveResult](idempotencyCacheSize)
	return &Router{
		sessions:  sessions,
		store:     store,
		cache:     metadataCache,
		vectors:   vectors,
		binder:    binder,
		pipeline:  NewPipeline(binder, learner),
		matcher:   NewMatcher(),
		scorer:    NewScorer(),
		learner:   learner,
		predCache: predCache,
		kbGen:     make(map[string]uint64),
		idemCache: idemCache,
	}
}

// ObserveResult is the outcome of one observation.
type ObserveResult struct {
	Status             string
	STMLength          int
	Time               int64
	UniqueID           string
	AutoLearnedPattern string // "PTRN|"-prefixed, empty when no auto-learn
	Predictions        []model.Prediction
}

// CreateSession allocates a session on nodeID (the default node when
// empty) with the default config plus overrides.
func (r *Router) CreateSession(ctx context.Context, nodeID string, overrides map[string]any) (*model.SessionState, error) {
	cfg, err := config.ApplySessionOverrides(model.DefaultSessionConfig(), overrides)
	if err != nil {
		return nil, NewValidationError("config", err.Error())
	}
	return r.sessions.Create(ctx, nodeID, cfg)
}

// GetSession returns a copy of the session state.
func (r *Router) GetSession(ctx context.Context, sessionID string) (*model.SessionState, error) {
	state, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, mapSessionError(err)
	}
	return state, nil
}

// DeleteSession removes the session.
func (r *Router) DeleteSession(ctx context.Context, sessionID string) error {
	if err := r.sessions.Delete(ctx, sessionID); err != nil {
		return mapSessionError(err)
	}
	return nil
}

// Observe applies one observation under the session lock. A repeated
// unique_id replays the previous response without re-processing.
func (r *Router) Observe(ctx context.Context, sessionID string, obs *model.Observation) (*ObserveResult, error) {
	lock := r.sessions.Lock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return r.observeLocked(ctx, sessionID, obs)
}

func (r *Router) observeLocked(ctx context.Context, sessionID string, obs *model.Observation) (*ObserveResult, error) {
	if obs.UniqueID == "" {
		obs.UniqueID = uuid.New().String()
	} else if cached, ok := r.idemCache.Get(sessionID + "\x00" + obs.UniqueID); ok {
		return cached, nil
	}

	state, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, mapSessionError(err)
	}

	processed, err := r.pipeline.Process(ctx, state, obs)
	if err != nil {
		return nil, err
	}
	next := processed.State

	if processed.AutoLearnedPattern != "" {
		r.bumpGeneration(state.NodeID)
	}

	if next.Config.ProcessPredictions {
		preds, err := r.predict(ctx, next)
		if err != nil {
			return nil, err
		}
		next.Predictions = preds
	} else {
		next.Predictions = []model.Prediction{}
	}

	if err := r.sessions.Put(ctx, next, state.Version); err != nil {
		return nil, mapSessionError(err)
	}

	result := &ObserveResult{
		Status:      "okay",
		STMLength:   len(next.STM),
		Time:        next.Time,
		UniqueID:    obs.UniqueID,
		Predictions: next.Predictions,
	}
	if processed.AutoLearnedPattern != "" {
		result.AutoLearnedPattern = model.PatternNamePrefix + processed.AutoLearnedPattern
	}
	r.idemCache.Add(sessionID+"\x00"+obs.UniqueID, result)
	return result, nil
}

// ObserveSequence applies a batch of observations in order, optionally
// learning between observations or once at the end.
func (r *Router) ObserveSequence(ctx context.Context, sessionID string, observations []*model.Observation, learnAfterEach, learnAtEnd bool) ([]*ObserveResult, []string, error) {
	lock := r.sessions.Lock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	results := make([]*ObserveResult, 0, len(observations))
	var learned []string
	for _, obs := range observations {
		res, err := r.observeLocked(ctx, sessionID, obs)
		if err != nil {
			return results, learned, err
		}
		results = append(results, res)
		if learnAfterEach {
			name, err := r.learnLocked(ctx, sessionID)
			if err != nil && !errors.Is(err, ErrEmptySTM) {
				return results, learned, err
			}
			if name != "" {
				learned = append(learned, name)
			}
		}
	}
	if learnAtEnd {
		name, err := r.learnLocked(ctx, sessionID)
		if err != nil && !errors.Is(err, ErrEmptySTM) {
			return results, learned, err
		}
		if name != "" {
			learned = append(learned, name)
		}
	}
	return results, learned, nil
}

// Learn compresses the session's STM into a pattern and empties the
// window.
func (r *Router) Learn(ctx context.Context, sessionID string) (string, error) {
	lock := r.sessions.Lock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return r.learnLocked(ctx, sessionID)
}

func (r *Router) learnLocked(ctx context.Context, sessionID string) (string, error) {
	state, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", mapSessionError(err)
	}

	identity, next, err := r.learner.Learn(ctx, state)
	if err != nil {
		return "", err
	}
	if err := r.sessions.Put(ctx, next, state.Version); err != nil {
		return "", mapSessionError(err)
	}
	r.bumpGeneration(state.NodeID)
	return model.PatternNamePrefix + identity, nil
}

// GetPredictions recomputes predictions over the current STM. Sessions
// observing with process_predictions=false get their predictions here;
// recomputation keeps the result consistent with patterns learned since
// the last observe.
func (r *Router) GetPredictions(ctx context.Context, sessionID string) ([]model.Prediction, error) {
	state, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, mapSessionError(err)
	}
	return r.predict(ctx, state)
}

// GetSTM returns the session's current event window.
func (r *Router) GetSTM(ctx context.Context, sessionID string) ([]model.Event, error) {
	state, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, mapSessionError(err)
	}
	return state.STM, nil
}

// GetPerceptData returns the last accepted observation.
func (r *Router) GetPerceptData(ctx context.Context, sessionID string) (*model.Observation, error) {
	state, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, mapSessionError(err)
	}
	return state.PerceptData, nil
}

// ClearSTM empties the session's window and accumulators without touching
// learned patterns.
func (r *Router) ClearSTM(ctx context.Context, sessionID string) error {
	lock := r.sessions.Lock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return mapSessionError(err)
	}
	next := state.Clone()
	next.STM = []model.Event{}
	next.EmotiveAccumulator = nil
	next.MetadataAccumulator = nil
	next.Predictions = []model.Prediction{}
	if err := r.sessions.Put(ctx, next, state.Version); err != nil {
		return mapSessionError(err)
	}
	return nil
}

// ClearAll empties the session and deletes every pattern and vector in its
// kb partition.
func (r *Router) ClearAll(ctx context.Context, sessionID string) error {
	lock := r.sessions.Lock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return mapSessionError(err)
	}

	if err := r.store.DeleteKB(ctx, state.NodeID); err != nil {
		return fmt.Errorf("%w: delete kb patterns: %v", ErrStorageUnavailable, err)
	}
	if err := r.cache.DeleteKB(ctx, state.NodeID); err != nil {
		return fmt.Errorf("%w: delete kb cache: %v", ErrStorageUnavailable, err)
	}
	if err := r.vectors.DeleteCollection(ctx, state.NodeID); err != nil {
		return fmt.Errorf("%w: delete kb vectors: %v", ErrStorageUnavailable, err)
	}
	r.bumpGeneration(state.NodeID)

	next := state.Clone()
	next.STM = []model.Event{}
	next.EmotiveAccumulator = nil
	next.MetadataAccumulator = nil
	next.Predictions = []model.Prediction{}
	if err := r.sessions.Put(ctx, next, state.Version); err != nil {
		return mapSessionError(err)
	}
	slog.Info("Cleared session and kb partition",
		"session_id", sessionID, "kb_id", state.NodeID)
	return nil
}

// UpdateConfig applies per-session overrides and returns the effective
// config.
func (r *Router) UpdateConfig(ctx context.Context, sessionID string, overrides map[string]any) (model.SessionConfig, error) {
	lock := r.sessions.Lock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return model.SessionConfig{}, mapSessionError(err)
	}
	cfg, err := config.ApplySessionOverrides(state.Config, overrides)
	if err != nil {
		return model.SessionConfig{}, NewValidationError("config", err.Error())
	}
	next := state.Clone()
	next.Config = cfg
	if err := r.sessions.Put(ctx, next, state.Version); err != nil {
		return model.SessionConfig{}, mapSessionError(err)
	}
	return cfg, nil
}

// GetPattern fetches a learned pattern by its "PTRN|" name within the
// session's kb partition, overlaying live counters from the cache.
func (r *Router) GetPattern(ctx context.Context, sessionID, name string) (*model.Pattern, error) {
	state, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, mapSessionError(err)
	}

	identity := strings.TrimPrefix(name, model.PatternNamePrefix)
	pattern, err := r.store.Get(ctx, state.NodeID, identity)
	if errors.Is(err, storage.ErrPatternNotFound) {
		return nil, fmt.Errorf("pattern %s: %w", name, storage.ErrPatternNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get pattern: %v", ErrStorageUnavailable, err)
	}

	counters, err := r.cache.GetCounters(ctx, state.NodeID, identity)
	if err != nil {
		slog.Warn("Metadata cache read failed; serving pattern from store only",
			"kb_id", state.NodeID, "identity", identity, "error", err)
		return pattern, nil
	}
	if counters.Frequency > pattern.Frequency {
		pattern.Frequency = counters.Frequency
	}
	return pattern, nil
}

// predict runs the matcher and scorer over the session's STM, serving from
// the prediction cache when the (kb generation, fingerprint) key hits.
func (r *Router) predict(ctx context.Context, state *model.SessionState) ([]model.Prediction, error) {
	if len(state.STM) == 0 {
		return []model.Prediction{}, nil
	}

	key := r.fingerprint(state)
	if cached, ok := r.predCache.Get(key); ok {
		return cached, nil
	}

	// Fuzzy matching admits candidates beyond exact symbol overlap, so the
	// pre-filter widens to the whole kb partition.
	var symbols []string
	if state.Config.FuzzyTokenThreshold <= 0 {
		bag := model.SymbolBag(state.STM)
		symbols = make([]string, 0, len(bag))
		for sym := range bag {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
	}

	candidates, err := r.store.RetrieveCandidates(ctx, state.NodeID, symbols)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve candidates: %v", ErrStorageUnavailable, err)
	}

	matches := r.matcher.MatchCandidates(state.STM, candidates, state.Config.FuzzyTokenThreshold)
	preds := r.scorer.Score(state.STM, matches, state.Config,
		candidateDocFreq(candidates), len(candidates))

	r.predCache.Add(key, preds)
	return preds, nil
}

// fingerprint digests the STM events plus every config field that affects
// prediction output, namespaced by the kb's invalidation generation.
func (r *Router) fingerprint(state *model.SessionState) string {
	h := sha1.New()
	var gen [8]byte
	binary.LittleEndian.PutUint64(gen[:], r.generation(state.NodeID))
	h.Write(gen[:])
	h.Write([]byte(state.NodeID))
	h.Write([]byte{0})
	for _, e := range state.STM {
		h.Write([]byte(strings.Join(e, "\x1f")))
		h.Write([]byte{0x1e})
	}
	cfg := state.Config
	fmt.Fprintf(h, "%v|%v|%v|%v|%v",
		cfg.RecallThreshold, cfg.MaxPredictions, cfg.FuzzyTokenThreshold,
		cfg.RankSortAlgo, cfg.UseTokenMatching)
	return hex.EncodeToString(h.Sum(nil))
}

func (r *Router) generation(kbID string) uint64 {
	r.genMu.Lock()
	defer r.genMu.Unlock()
	return r.kbGen[kbID]
}

func (r *Router) bumpGeneration(kbID string) {
	r.genMu.Lock()
	defer r.genMu.Unlock()
	r.kbGen[kbID]++
}

func mapSessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrVersionConflict):
		return fmt.Errorf("%w: %v", ErrStorageConflict, err)
	case errors.Is(err, cache.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return err
}
