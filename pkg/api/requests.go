package api

import "github.com/kato-io/kato/pkg/model"

// CreateSessionRequest is the HTTP request body for POST /sessions.
type CreateSessionRequest struct {
	NodeID string         `json:"node_id,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// ObserveSequenceRequest is the request body for
// POST /sessions/:id/observe-sequence.
type ObserveSequenceRequest struct {
	Observations   []*model.Observation `json:"observations"`
	LearnAfterEach bool                 `json:"learn_after_each,omitempty"`
	LearnAtEnd     bool                 `json:"learn_at_end,omitempty"`
}
