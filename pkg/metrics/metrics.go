// Package metrics is the pure numeric kernel: every function is
// deterministic and side-effect free. Map inputs are iterated in sorted key
// order and float accumulation is strictly left-to-right so identical inputs
// produce identical outputs across platforms.
package metrics

import (
	"math"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// energyEpsilon guards the logarithms in the Hamiltonian energies against
// zero arguments.
const energyEpsilon = 1e-9

// FuzzyRatio returns the case-insensitive normalized edit-distance ratio
// between two tokens, in [0,1]. Equal tokens (ignoring case) score 1.
func FuzzyRatio(a, b string) float64 {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la == lb {
		return 1
	}
	maxLen := len([]rune(la))
	if n := len([]rune(lb)); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(la, lb)
	return 1 - float64(dist)/float64(maxLen)
}

// IsFuzzyMatch reports whether a and b fuzzy-match at the given threshold:
// ratio ≥ threshold and ratio < 1. Exact equality is not a fuzzy match, and
// a zero threshold disables fuzzy matching entirely.
func IsFuzzyMatch(a, b string, threshold float64) (float64, bool) {
	if threshold <= 0 {
		return 0, false
	}
	ratio := FuzzyRatio(a, b)
	if ratio >= threshold && ratio < 1 {
		return ratio, true
	}
	return ratio, false
}

// NormalizedEntropy computes Shannon entropy over the symbol frequency
// distribution of the region, normalized by the maximum entropy for the
// number of distinct symbols. Empty or single-symbol regions score 0.
func NormalizedEntropy(symbols []string) float64 {
	if len(symbols) == 0 {
		return 0
	}
	freq := make(map[string]int)
	for _, s := range symbols {
		freq[s]++
	}
	if len(freq) < 2 {
		return 0
	}
	keys := sortedKeys(freq)
	total := float64(len(symbols))
	var h float64
	for _, k := range keys {
		p := float64(freq[k]) / total
		h -= p * math.Log2(p)
	}
	return h / math.Log2(float64(len(freq)))
}

// ITFDFSimilarity weighs the bag intersection between a pattern and the STM
// by inverse document frequency over the candidate set: rare symbols count
// for more than ubiquitous ones. docFreq maps each symbol to the number of
// candidate patterns containing it and totalDocs is the candidate count.
// The result is the weighted intersection mass over the pattern's weighted
// mass, in [0,1].
func ITFDFSimilarity(patternBag, stmBag map[string]int, docFreq map[string]int, totalDocs int) float64 {
	if len(patternBag) == 0 {
		return 0
	}
	if totalDocs < 1 {
		totalDocs = 1
	}
	weight := func(sym string) float64 {
		df := docFreq[sym]
		if df < 1 {
			df = 1
		}
		return math.Log1p(float64(totalDocs) / float64(df))
	}
	var num, den float64
	for _, sym := range sortedKeys(patternBag) {
		w := weight(sym)
		den += float64(patternBag[sym]) * w
		if c := stmBag[sym]; c > 0 {
			shared := c
			if patternBag[sym] < shared {
				shared = patternBag[sym]
			}
			num += float64(shared) * w
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// Confidence is the matched fraction of expected symbols:
// |matches| / (|matches| + |missing|), or 0 when nothing was expected.
func Confidence(matches, missing int) float64 {
	if matches+missing <= 0 {
		return 0
	}
	return float64(matches) / float64(matches+missing)
}

// Evidence relates matched symbols to the present window size:
// |matches| / max(|present events|, 1).
func Evidence(matches, presentEvents int) float64 {
	if presentEvents < 1 {
		presentEvents = 1
	}
	return float64(matches) / float64(presentEvents)
}

// Hamiltonian is the per-prediction energy combining negative-log
// similarity and confidence. Perfect similarity and confidence give zero
// energy; energy grows as either degrades.
func Hamiltonian(similarity, confidence float64) float64 {
	return -(math.Log(similarity+energyEpsilon) + math.Log(confidence+energyEpsilon)) / 2
}

// EventHamiltonian is the energy contribution of a single present event
// given how many of its symbols matched.
func EventHamiltonian(matched, total int) float64 {
	if total <= 0 {
		return 0
	}
	frac := float64(matched) / float64(total)
	return -math.Log(frac + energyEpsilon)
}

// GrandHamiltonian sums the per-event energies over the present window.
// Used only as a ranking key / tie-breaker.
func GrandHamiltonian(eventEnergies []float64) float64 {
	var sum float64
	for _, e := range eventEnergies {
		sum += e
	}
	return sum
}

// Confluence is the product of per-event confidences, a probability proxy
// for the whole present window matching.
func Confluence(eventConfidences []float64) float64 {
	if len(eventConfidences) == 0 {
		return 0
	}
	prod := 1.0
	for _, c := range eventConfidences {
		prod *= c
	}
	return prod
}

// MeanEmotives averages a rolling window of per-learn emotive maps per key.
func MeanEmotives(profile []map[string]float64) map[string]float64 {
	counts := make(map[string]int)
	sums := make(map[string]float64)
	for _, entry := range profile {
		for _, k := range sortedFloatKeys(entry) {
			sums[k] += entry[k]
			counts[k]++
		}
	}
	out := make(map[string]float64, len(sums))
	for k, sum := range sums {
		out[k] = sum / float64(counts[k])
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFloatKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
