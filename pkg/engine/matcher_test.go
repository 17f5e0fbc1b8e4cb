package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kato-io/kato/pkg/model"
)

func pattern(events ...model.Event) *model.Pattern {
	return &model.Pattern{
		Identity:  model.PatternIdentity(events),
		KBID:      "kb1",
		Events:    events,
		Length:    len(events),
		Frequency: 1,
	}
}

func TestMatcher_PastPresentFuture(t *testing.T) {
	m := NewMatcher()
	p := pattern(model.Event{"a"}, model.Event{"b"}, model.Event{"c"})

	matches := m.MatchCandidates([]model.Event{{"b"}}, []*model.Pattern{p}, 0)
	require.Len(t, matches, 1)

	match := matches[0]
	assert.Equal(t, []model.Event{{"a"}}, match.Past)
	assert.Equal(t, []model.Event{{"b"}}, match.Present)
	assert.Equal(t, []model.Event{{"c"}}, match.Future)
	assert.Equal(t, []string{"b"}, match.Matches)
	assert.Empty(t, match.Missing)
	assert.Empty(t, match.Extras)
	assert.Empty(t, match.Anomalies)
}

func TestMatcher_MissingAndExtras(t *testing.T) {
	m := NewMatcher()
	p := pattern(model.Event{"hello", "world"}, model.Event{"test"})

	// The observed event arrives sorted: ["foo", "hello"].
	matches := m.MatchCandidates([]model.Event{{"foo", "hello"}}, []*model.Pattern{p}, 0)
	require.Len(t, matches, 1)

	match := matches[0]
	assert.Empty(t, match.Past)
	assert.Equal(t, []model.Event{{"hello", "world"}}, match.Present)
	assert.Equal(t, []model.Event{{"test"}}, match.Future)
	assert.Equal(t, []string{"hello"}, match.Matches)
	// Original order preserved — never sorted.
	assert.Equal(t, []string{"world"}, match.Missing)
	assert.Equal(t, []string{"foo"}, match.Extras)
}

func TestMatcher_FuzzyAnomaly(t *testing.T) {
	m := NewMatcher()
	p := pattern(model.Event{"helloworld"})

	matches := m.MatchCandidates([]model.Event{{"helloworld1"}}, []*model.Pattern{p}, 0.85)
	require.Len(t, matches, 1)

	match := matches[0]
	assert.Equal(t, []string{"helloworld"}, match.Matches)
	assert.Empty(t, match.Missing)
	assert.Empty(t, match.Extras)
	require.Len(t, match.Anomalies, 1)
	assert.Equal(t, "helloworld", match.Anomalies[0].Expected)
	assert.Equal(t, "helloworld1", match.Anomalies[0].Observed)
	assert.InDelta(t, 1-1.0/11, match.Anomalies[0].Similarity, 1e-9)
}

func TestMatcher_FuzzyDisabledByDefault(t *testing.T) {
	m := NewMatcher()
	p := pattern(model.Event{"helloworld"})

	matches := m.MatchCandidates([]model.Event{{"helloworld1"}}, []*model.Pattern{p}, 0)
	assert.Empty(t, matches)
}

func TestMatcher_MultiEventAlignment(t *testing.T) {
	m := NewMatcher()
	p := pattern(model.Event{"a"}, model.Event{"b"}, model.Event{"c"}, model.Event{"d"})

	// STM matches the middle run [b, c].
	matches := m.MatchCandidates([]model.Event{{"b"}, {"c"}}, []*model.Pattern{p}, 0)
	require.Len(t, matches, 1)

	match := matches[0]
	assert.Equal(t, []model.Event{{"a"}}, match.Past)
	assert.Equal(t, []model.Event{{"b"}, {"c"}}, match.Present)
	assert.Equal(t, []model.Event{{"d"}}, match.Future)
	assert.Equal(t, []string{"b", "c"}, match.Matches)
}

func TestMatcher_PrefersLongestWindow(t *testing.T) {
	m := NewMatcher()
	// "x" appears early alone; the run [a, b] is longer and must win even
	// though "x" comes first.
	p := pattern(model.Event{"x"}, model.Event{"q"}, model.Event{"a"}, model.Event{"b"})

	matches := m.MatchCandidates([]model.Event{{"x"}, {"a"}, {"b"}}, []*model.Pattern{p}, 0)
	require.Len(t, matches, 1)
	assert.Equal(t, []model.Event{{"a"}, {"b"}}, matches[0].Present)
	assert.Equal(t, []model.Event{{"x"}, {"q"}}, matches[0].Past)
}

func TestMatcher_TieBreaksOnSmallestStart(t *testing.T) {
	m := NewMatcher()
	// Two equally long, equally matching windows: the earlier one wins.
	p := pattern(model.Event{"a"}, model.Event{"z"}, model.Event{"a"})

	matches := m.MatchCandidates([]model.Event{{"a"}}, []*model.Pattern{p}, 0)
	require.Len(t, matches, 1)
	assert.Empty(t, matches[0].Past)
	assert.Equal(t, []model.Event{{"z"}, {"a"}}, matches[0].Future)
}

func TestMatcher_InterleavedSTMEventsBecomeExtras(t *testing.T) {
	m := NewMatcher()
	p := pattern(model.Event{"a"}, model.Event{"b"})

	// The noise event sits inside the aligned span, so its symbols are
	// extras.
	matches := m.MatchCandidates([]model.Event{{"a"}, {"noise"}, {"b"}}, []*model.Pattern{p}, 0)
	require.Len(t, matches, 1)
	assert.Equal(t, []string{"a", "b"}, matches[0].Matches)
	assert.Equal(t, []string{"noise"}, matches[0].Extras)
}

func TestMatcher_NoAlignableWindowDropsCandidate(t *testing.T) {
	m := NewMatcher()
	p := pattern(model.Event{"a"})

	matches := m.MatchCandidates([]model.Event{{"z"}}, []*model.Pattern{p}, 0)
	assert.Empty(t, matches)
}

func TestMatcher_DuplicateSymbolsAccountedAsMultiset(t *testing.T) {
	m := NewMatcher()
	p := pattern(model.Event{"a", "a"})

	// Only one observed "a": one match, one missing.
	matches := m.MatchCandidates([]model.Event{{"a"}}, []*model.Pattern{p}, 0)
	require.Len(t, matches, 1)
	assert.Equal(t, []string{"a"}, matches[0].Matches)
	assert.Equal(t, []string{"a"}, matches[0].Missing)

	// matches ∪ missing must equal the multiset of present symbols.
	union := append(append([]string{}, matches[0].Matches...), matches[0].Missing...)
	assert.ElementsMatch(t, []string{"a", "a"}, union)
}
