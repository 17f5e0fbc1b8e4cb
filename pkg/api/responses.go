package api

import "github.com/kato-io/kato/pkg/model"

// SessionResponse is returned by POST /sessions and GET /sessions/:id.
type SessionResponse struct {
	SessionID string              `json:"session_id"`
	NodeID    string              `json:"node_id"`
	STMLength int                 `json:"stm_length"`
	Time      int64               `json:"time"`
	Config    model.SessionConfig `json:"config"`
	CreatedAt string              `json:"created_at"`
}

// ObserveResponse is returned by POST /sessions/:id/observe.
type ObserveResponse struct {
	Status             string             `json:"status"`
	STMLength          int                `json:"stm_length"`
	Time               int64              `json:"time"`
	UniqueID           string             `json:"unique_id"`
	AutoLearnedPattern *string            `json:"auto_learned_pattern"`
	Predictions        []model.Prediction `json:"predictions"`
}

// ObserveSequenceResponse is returned by
// POST /sessions/:id/observe-sequence.
type ObserveSequenceResponse struct {
	Status          string            `json:"status"`
	Results         []ObserveResponse `json:"results"`
	LearnedPatterns []string          `json:"learned_patterns"`
}

// LearnResponse is returned by POST /sessions/:id/learn.
type LearnResponse struct {
	Status      string `json:"status"`
	PatternName string `json:"pattern_name"`
}

// PredictionsResponse is returned by GET /sessions/:id/predictions.
type PredictionsResponse struct {
	Predictions []model.Prediction `json:"predictions"`
}

// STMResponse is returned by GET /sessions/:id/stm.
type STMResponse struct {
	STM []model.Event `json:"stm"`
}

// ConfigResponse is returned by POST /sessions/:id/config.
type ConfigResponse struct {
	Status string              `json:"status"`
	Config model.SessionConfig `json:"config"`
}

// StatusResponse is returned by state-clearing endpoints.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// HealthCheck represents the status of a single health check component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
