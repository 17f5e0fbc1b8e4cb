package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kato-io/kato/pkg/model"
)

func TestApplySessionOverrides_AllKeys(t *testing.T) {
	cfg, err := ApplySessionOverrides(model.DefaultSessionConfig(), map[string]any{
		"recall_threshold":      0.4,
		"max_predictions":       10.0, // JSON numbers arrive as float64
		"max_pattern_length":    3.0,
		"persistence":           7.0,
		"use_token_matching":    true,
		"fuzzy_token_threshold": 0.85,
		"rank_sort_algo":        "confidence",
		"process_predictions":   false,
	})
	require.NoError(t, err)

	assert.Equal(t, 0.4, cfg.RecallThreshold)
	assert.Equal(t, 10, cfg.MaxPredictions)
	assert.Equal(t, 3, cfg.MaxPatternLength)
	assert.Equal(t, 7, cfg.Persistence)
	assert.True(t, cfg.UseTokenMatching)
	assert.Equal(t, 0.85, cfg.FuzzyTokenThreshold)
	assert.Equal(t, model.RankByConfidence, cfg.RankSortAlgo)
	assert.False(t, cfg.ProcessPredictions)
}

func TestApplySessionOverrides_UnknownKeyRejected(t *testing.T) {
	base := model.DefaultSessionConfig()
	cfg, err := ApplySessionOverrides(base, map[string]any{"recall_treshold": 0.4})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown configuration key")
	// The input config is returned unchanged on error.
	assert.Equal(t, base, cfg)
}

func TestApplySessionOverrides_RangeValidation(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
	}{
		{"recall_threshold above 1", map[string]any{"recall_threshold": 1.5}},
		{"recall_threshold negative", map[string]any{"recall_threshold": -0.1}},
		{"max_predictions zero", map[string]any{"max_predictions": 0.0}},
		{"max_predictions above cap", map[string]any{"max_predictions": 1001.0}},
		{"max_predictions fractional", map[string]any{"max_predictions": 1.5}},
		{"max_pattern_length negative", map[string]any{"max_pattern_length": -1.0}},
		{"persistence zero", map[string]any{"persistence": 0.0}},
		{"bad rank algo", map[string]any{"rank_sort_algo": "frecency"}},
		{"bool for number", map[string]any{"recall_threshold": true}},
		{"string for bool", map[string]any{"process_predictions": "yes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ApplySessionOverrides(model.DefaultSessionConfig(), tt.overrides)
			assert.Error(t, err)
		})
	}
}

func TestApplySessionOverrides_EmptyOverrides(t *testing.T) {
	base := model.DefaultSessionConfig()
	cfg, err := ApplySessionOverrides(base, nil)
	require.NoError(t, err)
	assert.Equal(t, base, cfg)
}
