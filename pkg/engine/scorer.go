package engine

import (
	"sort"

	"github.com/kato-io/kato/pkg/metrics"
	"github.com/kato-io/kato/pkg/model"
)

// Scorer attaches similarity, confidence, entropy, evidence, energies and
// aggregated emotives/metadata to matches, filters by recall threshold,
// and ranks the survivors.
type Scorer struct{}

// NewScorer creates a prediction scorer.
func NewScorer() *Scorer { return &Scorer{} }

// Score turns aligned matches into ranked predictions. docFreq and
// totalDocs describe the candidate set for ITFDF weighting.
func (s *Scorer) Score(stm []model.Event, matches []*Match, cfg model.SessionConfig, docFreq map[string]int, totalDocs int) []model.Prediction {
	stmBag := model.SymbolBag(stm)

	predictions := make([]model.Prediction, 0, len(matches))
	for _, m := range matches {
		similarity := metrics.ITFDFSimilarity(model.SymbolBag(m.Pattern.Events),
			effectiveBag(stmBag, m.Anomalies), docFreq, totalDocs)
		if similarity < cfg.RecallThreshold {
			continue
		}

		confidence := metrics.Confidence(len(m.Matches), len(m.Missing))
		pred := model.Prediction{
			Name:             m.Pattern.Name(),
			Past:             m.Past,
			Present:          m.Present,
			Future:           m.Future,
			Matches:          m.Matches,
			Missing:          m.Missing,
			Extras:           m.Extras,
			Anomalies:        m.Anomalies,
			Similarity:       similarity,
			Confidence:       confidence,
			Evidence:         metrics.Evidence(len(m.Matches), len(m.Present)),
			Entropy:          metrics.NormalizedEntropy(model.FlattenSymbols(m.Present)),
			Frequency:        m.Pattern.Frequency,
			Emotives:         metrics.MeanEmotives(m.Pattern.EmotiveProfile),
			Metadata:         model.MergeMetadataSets(nil, m.Pattern.Metadata),
			Hamiltonian:      metrics.Hamiltonian(similarity, confidence),
			GrandHamiltonian: metrics.GrandHamiltonian(m.EventEnergies),
			Confluence:       metrics.Confluence(m.EventConfidences),
		}
		predictions = append(predictions, pred)
	}

	rankPredictions(predictions, cfg.RankSortAlgo)

	if cfg.MaxPredictions > 0 && len(predictions) > cfg.MaxPredictions {
		predictions = predictions[:cfg.MaxPredictions]
	}
	return predictions
}

// rankPredictions orders by the selected key (descending; ascending for
// energy), breaking ties on pattern name so equal scores stay
// deterministic.
func rankPredictions(preds []model.Prediction, algo model.RankSortAlgo) {
	key := func(p *model.Prediction) float64 {
		switch algo {
		case model.RankByConfidence:
			return p.Confidence
		case model.RankByEvidence:
			return p.Evidence
		case model.RankByGrandHamiltonian:
			return -p.GrandHamiltonian
		default:
			return p.Similarity
		}
	}
	sort.SliceStable(preds, func(i, j int) bool {
		ki, kj := key(&preds[i]), key(&preds[j])
		if ki != kj {
			return ki > kj
		}
		return preds[i].Name < preds[j].Name
	})
}

// effectiveBag extends the STM bag with the expected side of every fuzzy
// pair, so a fuzzy-matched symbol contributes intersection mass under the
// pattern's own token.
func effectiveBag(stmBag map[string]int, anomalies []model.Anomaly) map[string]int {
	if len(anomalies) == 0 {
		return stmBag
	}
	out := make(map[string]int, len(stmBag)+len(anomalies))
	for k, v := range stmBag {
		out[k] = v
	}
	for _, a := range anomalies {
		out[a.Expected]++
	}
	return out
}

// candidateDocFreq counts, per symbol, how many candidates contain it.
func candidateDocFreq(candidates []*model.Pattern) map[string]int {
	df := make(map[string]int)
	for _, p := range candidates {
		for sym := range model.SymbolBag(p.Events) {
			df[sym]++
		}
	}
	return df
}
