package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/kato-io/kato/pkg/model"
	"github.com/kato-io/kato/pkg/vector"
)

// Pipeline turns accepted observations into STM events: it validates the
// observation, binds vectors to symbols, sorts string tokens, appends the
// event, and fires auto-learn when the STM outgrows the session's bound.
// Pipeline holds no session state; Process takes a state in and returns a
// new one.
type Pipeline struct {
	binder  *vector.Binder
	learner *Learner
}

// NewPipeline creates an observation pipeline.
func NewPipeline(binder *vector.Binder, learner *Learner) *Pipeline {
	return &Pipeline{binder: binder, learner: learner}
}

// ProcessResult reports what one observation did to the session.
type ProcessResult struct {
	State              *model.SessionState
	AutoLearnedPattern string // 40-hex identity, empty when no auto-learn fired
}

// Process validates and applies one observation, returning the new session
// state. The input state is never mutated; on error the caller keeps the
// old state.
func (p *Pipeline) Process(ctx context.Context, state *model.SessionState, obs *model.Observation) (*ProcessResult, error) {
	if err := p.validate(obs); err != nil {
		return nil, err
	}

	next := state.Clone()

	// Bind vectors in arrival order; their symbols lead the event.
	event := make(model.Event, 0, len(obs.Vectors)+len(obs.Strings))
	for i, v := range obs.Vectors {
		sym, _, err := p.binder.Bind(ctx, state.NodeID, v)
		if err != nil {
			return nil, fmt.Errorf("bind vector %d: %w", i, err)
		}
		event = append(event, sym)
	}

	// String tokens follow, in ascending codepoint order.
	strs := append([]string(nil), obs.Strings...)
	sort.Strings(strs)
	event = append(event, strs...)

	next.STM = append(next.STM, event)
	next.EmotiveAccumulator = append(next.EmotiveAccumulator, cloneEmotives(obs.Emotives))
	next.MetadataAccumulator = append(next.MetadataAccumulator, cloneMetadata(obs.Metadata))
	next.Time++
	next.PerceptData = obs

	result := &ProcessResult{State: next}

	// Auto-learn: compress the full window, keep the overflow event as the
	// start of the next one.
	bound := next.Config.MaxPatternLength
	if bound > 0 && len(next.STM) > bound {
		lastEvent := next.STM[len(next.STM)-1]
		lastEmotives := next.EmotiveAccumulator[len(next.EmotiveAccumulator)-1]
		lastMetadata := next.MetadataAccumulator[len(next.MetadataAccumulator)-1]

		window := next.Clone()
		window.STM = window.STM[:len(window.STM)-1]
		window.EmotiveAccumulator = window.EmotiveAccumulator[:len(window.EmotiveAccumulator)-1]
		window.MetadataAccumulator = window.MetadataAccumulator[:len(window.MetadataAccumulator)-1]

		identity, learned, err := p.learner.Learn(ctx, window)
		if err != nil {
			return nil, fmt.Errorf("auto-learn: %w", err)
		}

		learned.STM = []model.Event{lastEvent.Clone()}
		learned.EmotiveAccumulator = []map[string]float64{lastEmotives}
		learned.MetadataAccumulator = []map[string]any{lastMetadata}
		learned.PerceptData = obs
		result.State = learned
		result.AutoLearnedPattern = identity
	}

	return result, nil
}

// validate enforces the observation invariants. Validation failures never
// mutate session state.
func (p *Pipeline) validate(obs *model.Observation) error {
	if obs.IsEmpty() {
		return NewValidationError("observation", "requires at least one string or vector")
	}
	for _, s := range obs.Strings {
		if s == "" {
			return NewValidationError("strings", "symbols must be non-empty")
		}
	}
	if dim := p.binder.Dimension(); dim > 0 {
		for i, v := range obs.Vectors {
			if len(v) != dim {
				return NewValidationError("vectors",
					fmt.Sprintf("vector %d has dimension %d, expected %d", i, len(v), dim))
			}
		}
	}
	return nil
}

func cloneEmotives(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
