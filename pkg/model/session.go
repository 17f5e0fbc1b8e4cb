package model

import "time"

// RankSortAlgo selects the key predictions are ordered by.
type RankSortAlgo string

const (
	RankBySimilarity       RankSortAlgo = "similarity"
	RankByConfidence       RankSortAlgo = "confidence"
	RankByEvidence         RankSortAlgo = "evidence"
	RankByGrandHamiltonian RankSortAlgo = "grand_hamiltonian"
)

// Valid reports whether the algorithm is one of the recognized values.
func (a RankSortAlgo) Valid() bool {
	switch a {
	case RankBySimilarity, RankByConfidence, RankByEvidence, RankByGrandHamiltonian:
		return true
	}
	return false
}

// SessionConfig holds the per-session tunables. Unknown keys are rejected at
// the API layer; see config.ApplySessionOverrides.
type SessionConfig struct {
	RecallThreshold     float64      `json:"recall_threshold"`
	MaxPredictions      int          `json:"max_predictions"`
	MaxPatternLength    int          `json:"max_pattern_length"`
	Persistence         int          `json:"persistence"`
	UseTokenMatching    bool         `json:"use_token_matching"`
	FuzzyTokenThreshold float64      `json:"fuzzy_token_threshold"`
	RankSortAlgo        RankSortAlgo `json:"rank_sort_algo"`
	ProcessPredictions  bool         `json:"process_predictions"`
}

// DefaultSessionConfig returns the documented defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		RecallThreshold:     0.1,
		MaxPredictions:      100,
		MaxPatternLength:    0,
		Persistence:         5,
		UseTokenMatching:    false,
		FuzzyTokenThreshold: 0,
		RankSortAlgo:        RankBySimilarity,
		ProcessPredictions:  true,
	}
}

// SessionState is the complete per-session state. Engine functions take a
// state in and return a new state; they never retain a reference.
type SessionState struct {
	SessionID           string               `json:"session_id"`
	NodeID              string               `json:"node_id"`
	STM                 []Event              `json:"stm"`
	Time                int64                `json:"time"`
	EmotiveAccumulator  []map[string]float64 `json:"emotive_accumulator"`
	MetadataAccumulator []map[string]any     `json:"metadata_accumulator"`
	PerceptData         *Observation         `json:"percept_data,omitempty"`
	Predictions         []Prediction         `json:"predictions"`
	Config              SessionConfig        `json:"config"`
	Version             int64                `json:"version"`
	CreatedAt           time.Time            `json:"created_at"`
	LastAccessed        time.Time            `json:"last_accessed"`
}

// Clone deep-copies the state so a mutation can fail without touching the
// stored copy.
func (s *SessionState) Clone() *SessionState {
	out := *s
	out.STM = CloneEvents(s.STM)
	out.EmotiveAccumulator = make([]map[string]float64, len(s.EmotiveAccumulator))
	for i, m := range s.EmotiveAccumulator {
		cp := make(map[string]float64, len(m))
		for k, v := range m {
			cp[k] = v
		}
		out.EmotiveAccumulator[i] = cp
	}
	out.MetadataAccumulator = make([]map[string]any, len(s.MetadataAccumulator))
	for i, m := range s.MetadataAccumulator {
		cp := make(map[string]any, len(m))
		for k, v := range m {
			cp[k] = v
		}
		out.MetadataAccumulator[i] = cp
	}
	out.Predictions = append([]Prediction(nil), s.Predictions...)
	return &out
}

// Prediction is one ranked match against a learned pattern, segmented
// relative to the STM alignment window.
type Prediction struct {
	Name             string               `json:"name"`
	Past             []Event              `json:"past"`
	Present          []Event              `json:"present"`
	Future           []Event              `json:"future"`
	Matches          []string             `json:"matches"`
	Missing          []string             `json:"missing"`
	Extras           []string             `json:"extras"`
	Anomalies        []Anomaly            `json:"anomalies"`
	Similarity       float64              `json:"similarity"`
	Confidence       float64              `json:"confidence"`
	Evidence         float64              `json:"evidence"`
	Entropy          float64              `json:"entropy"`
	Frequency        int64                `json:"frequency"`
	Emotives         map[string]float64   `json:"emotives"`
	Metadata         map[string][]any     `json:"metadata"`
	Hamiltonian      float64              `json:"hamiltonian"`
	GrandHamiltonian float64              `json:"grand_hamiltonian"`
	Confluence       float64              `json:"confluence"`
}

// Anomaly records one fuzzy-matched token pair inside the present window.
type Anomaly struct {
	Expected   string  `json:"expected"`
	Observed   string  `json:"observed"`
	Similarity float64 `json:"similarity"`
}
