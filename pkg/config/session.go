// Package config loads service configuration from the environment and
// validates per-session configuration overrides.
package config

import (
	"fmt"
	"math"

	"github.com/kato-io/kato/pkg/model"
)

// ApplySessionOverrides merges recognized override keys onto a session
// config. Unknown keys and out-of-range values are rejected; the input
// config is returned unchanged on error.
func ApplySessionOverrides(cfg model.SessionConfig, overrides map[string]any) (model.SessionConfig, error) {
	out := cfg
	for key, raw := range overrides {
		switch key {
		case "recall_threshold":
			v, err := asFloat(key, raw)
			if err != nil {
				return cfg, err
			}
			if v < 0 || v > 1 {
				return cfg, fmt.Errorf("recall_threshold must be in [0,1], got %v", v)
			}
			out.RecallThreshold = v
		case "max_predictions":
			v, err := asInt(key, raw)
			if err != nil {
				return cfg, err
			}
			if v < 1 || v > 1000 {
				return cfg, fmt.Errorf("max_predictions must be in [1,1000], got %d", v)
			}
			out.MaxPredictions = v
		case "max_pattern_length":
			v, err := asInt(key, raw)
			if err != nil {
				return cfg, err
			}
			if v < 0 {
				return cfg, fmt.Errorf("max_pattern_length must be 0 or positive, got %d", v)
			}
			out.MaxPatternLength = v
		case "persistence":
			v, err := asInt(key, raw)
			if err != nil {
				return cfg, err
			}
			if v < 1 {
				return cfg, fmt.Errorf("persistence must be at least 1, got %d", v)
			}
			out.Persistence = v
		case "use_token_matching":
			v, err := asBool(key, raw)
			if err != nil {
				return cfg, err
			}
			out.UseTokenMatching = v
		case "fuzzy_token_threshold":
			v, err := asFloat(key, raw)
			if err != nil {
				return cfg, err
			}
			if v < 0 || v > 1 {
				return cfg, fmt.Errorf("fuzzy_token_threshold must be in [0,1], got %v", v)
			}
			out.FuzzyTokenThreshold = v
		case "rank_sort_algo":
			s, ok := raw.(string)
			if !ok {
				return cfg, fmt.Errorf("rank_sort_algo must be a string")
			}
			algo := model.RankSortAlgo(s)
			if !algo.Valid() {
				return cfg, fmt.Errorf("rank_sort_algo must be one of similarity, confidence, evidence, grand_hamiltonian")
			}
			out.RankSortAlgo = algo
		case "process_predictions":
			v, err := asBool(key, raw)
			if err != nil {
				return cfg, err
			}
			out.ProcessPredictions = v
		default:
			return cfg, fmt.Errorf("unknown configuration key %q", key)
		}
	}
	return out, nil
}

func asFloat(key string, raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	}
	return 0, fmt.Errorf("%s must be a number", key)
}

func asInt(key string, raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return int(v), nil
	}
	return 0, fmt.Errorf("%s must be an integer", key)
}

func asBool(key string, raw any) (bool, error) {
	if v, ok := raw.(bool); ok {
		return v, nil
	}
	return false, fmt.Errorf("%s must be a boolean", key)
}
