package engine

import (
	"strings"

	"github.com/kato-io/kato/pkg/metrics"
	"github.com/kato-io/kato/pkg/model"
)

// Matcher aligns candidate patterns against the STM and segments each match
// into past/present/future with symbol-level accounting.
type Matcher struct{}

// NewMatcher creates a pattern matcher.
func NewMatcher() *Matcher { return &Matcher{} }

// Match is one aligned candidate before scoring.
type Match struct {
	Pattern   *model.Pattern
	Past      []model.Event
	Present   []model.Event
	Future    []model.Event
	Matches   []string
	Missing   []string
	Extras    []string
	Anomalies []model.Anomaly

	// per-present-event accounting, used by the scorer
	EventConfidences []float64
	EventEnergies    []float64
}

// MatchCandidates aligns every candidate against the STM. Candidates with
// no alignable window are dropped; the rest come back in candidate order
// (the store returns them identity-ordered, keeping the result
// deterministic).
func (m *Matcher) MatchCandidates(stm []model.Event, candidates []*model.Pattern, fuzzyThreshold float64) []*Match {
	out := make([]*Match, 0, len(candidates))
	for _, p := range candidates {
		if match := m.align(stm, p, fuzzyThreshold); match != nil {
			out = append(out, match)
		}
	}
	return out
}

// window is one maximal contiguous run of pattern events alignable to the
// STM in order.
type window struct {
	start, end   int   // pattern event indices, inclusive
	aligned      []int // STM event index per pattern event
	tokenMatches int
}

// align finds the best window for one pattern: longest run first, then most
// token matches, then smallest start index.
func (m *Matcher) align(stm []model.Event, p *model.Pattern, fuzzyThreshold float64) *Match {
	var best *window
	for i := range p.Events {
		w := m.extendFrom(stm, p.Events, i, fuzzyThreshold)
		if w == nil {
			continue
		}
		if best == nil || betterWindow(w, best) {
			best = w
		}
	}
	if best == nil {
		return nil
	}
	return m.segment(stm, p, best, fuzzyThreshold)
}

// extendFrom greedily extends a window starting at pattern index i,
// assigning each pattern event the earliest matching STM event after the
// previous assignment. Earliest assignment maximizes how far the window can
// extend.
func (m *Matcher) extendFrom(stm []model.Event, events []model.Event, i int, fuzzyThreshold float64) *window {
	w := &window{start: i, end: i - 1}
	next := 0
	for k := i; k < len(events); k++ {
		found := -1
		count := 0
		for t := next; t < len(stm); t++ {
			if c := tokenMatchCount(events[k], stm[t], fuzzyThreshold); c > 0 {
				found, count = t, c
				break
			}
		}
		if found < 0 {
			break
		}
		w.aligned = append(w.aligned, found)
		w.tokenMatches += count
		w.end = k
		next = found + 1
	}
	if w.end < w.start {
		return nil
	}
	return w
}

func betterWindow(a, b *window) bool {
	la, lb := a.end-a.start+1, b.end-b.start+1
	if la != lb {
		return la > lb
	}
	if a.tokenMatches != b.tokenMatches {
		return a.tokenMatches > b.tokenMatches
	}
	return a.start < b.start
}

// segment splits the pattern around the window and accounts for every
// present symbol against the observed STM span. Symbol order follows the
// pattern (matches/missing) and the STM (extras) — never sorted.
func (m *Matcher) segment(stm []model.Event, p *model.Pattern, w *window, fuzzyThreshold float64) *Match {
	match := &Match{
		Pattern:   p,
		Past:      model.CloneEvents(p.Events[:w.start]),
		Present:   model.CloneEvents(p.Events[w.start : w.end+1]),
		Future:    model.CloneEvents(p.Events[w.end+1:]),
		Matches:   []string{},
		Missing:   []string{},
		Extras:    []string{},
		Anomalies: []model.Anomaly{},
	}

	// Observed symbols: the STM span aligned to the present window,
	// including any interleaved events the alignment skipped.
	spanStart, spanEnd := w.aligned[0], w.aligned[len(w.aligned)-1]
	observed := model.FlattenSymbols(stm[spanStart : spanEnd+1])
	consumed := make([]bool, len(observed))

	for _, event := range match.Present {
		matched := 0
		for _, expected := range event {
			if idx := consumeExact(observed, consumed, expected); idx >= 0 {
				match.Matches = append(match.Matches, expected)
				matched++
				continue
			}
			if idx, ratio := consumeFuzzy(observed, consumed, expected, fuzzyThreshold); idx >= 0 {
				match.Matches = append(match.Matches, expected)
				match.Anomalies = append(match.Anomalies, model.Anomaly{
					Expected:   expected,
					Observed:   observed[idx],
					Similarity: ratio,
				})
				matched++
				continue
			}
			match.Missing = append(match.Missing, expected)
		}
		match.EventConfidences = append(match.EventConfidences,
			metrics.Confidence(matched, len(event)-matched))
		match.EventEnergies = append(match.EventEnergies,
			metrics.EventHamiltonian(matched, len(event)))
	}

	for i, sym := range observed {
		if !consumed[i] {
			match.Extras = append(match.Extras, sym)
		}
	}
	return match
}

// tokenMatchCount counts pattern-event symbols with at least one token
// match (exact, or fuzzy when enabled) in the STM event.
func tokenMatchCount(patternEvent, stmEvent model.Event, fuzzyThreshold float64) int {
	count := 0
	for _, ps := range patternEvent {
		if tokenMatches(ps, stmEvent, fuzzyThreshold) {
			count++
		}
	}
	return count
}

func tokenMatches(sym string, event model.Event, fuzzyThreshold float64) bool {
	for _, os := range event {
		if sym == os {
			return true
		}
		if _, ok := metrics.IsFuzzyMatch(sym, os, fuzzyThreshold); ok {
			return true
		}
	}
	return false
}

// consumeExact claims the first unconsumed observed symbol equal to
// expected, returning its index or -1.
func consumeExact(observed []string, consumed []bool, expected string) int {
	for i, sym := range observed {
		if !consumed[i] && sym == expected {
			consumed[i] = true
			return i
		}
	}
	return -1
}

// consumeFuzzy claims the best unconsumed fuzzy match for expected
// (highest ratio, earliest on ties), returning its index and ratio, or -1.
// Vector symbols never fuzzy-match: their digests are opaque.
func consumeFuzzy(observed []string, consumed []bool, expected string, threshold float64) (int, float64) {
	if threshold <= 0 || strings.HasPrefix(expected, model.VectorSymbolPrefix) {
		return -1, 0
	}
	bestIdx, bestRatio := -1, 0.0
	for i, sym := range observed {
		if consumed[i] || strings.HasPrefix(sym, model.VectorSymbolPrefix) {
			continue
		}
		if ratio, ok := metrics.IsFuzzyMatch(expected, sym, threshold); ok && ratio > bestRatio {
			bestIdx, bestRatio = i, ratio
		}
	}
	if bestIdx >= 0 {
		consumed[bestIdx] = true
	}
	return bestIdx, bestRatio
}
