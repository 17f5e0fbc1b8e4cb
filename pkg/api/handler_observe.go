package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/kato-io/kato/pkg/engine"
	"github.com/kato-io/kato/pkg/model"
)

// observeHandler handles POST /sessions/:id/observe.
func (s *Server) observeHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var obs model.Observation
	if err := c.Bind(&obs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.router.Observe(c.Request().Context(), sessionID, &obs)
	if err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, observeResponse(result))
}

// observeSequenceHandler handles POST /sessions/:id/observe-sequence.
func (s *Server) observeSequenceHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req ObserveSequenceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Observations) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "observations must be non-empty")
	}

	results, learned, err := s.router.ObserveSequence(c.Request().Context(),
		sessionID, req.Observations, req.LearnAfterEach, req.LearnAtEnd)
	if err != nil {
		return mapEngineError(err)
	}

	resp := &ObserveSequenceResponse{
		Status:          "okay",
		Results:         make([]ObserveResponse, 0, len(results)),
		LearnedPatterns: learned,
	}
	for _, r := range results {
		resp.Results = append(resp.Results, *observeResponse(r))
	}
	if resp.LearnedPatterns == nil {
		resp.LearnedPatterns = []string{}
	}
	return c.JSON(http.StatusOK, resp)
}

// learnHandler handles POST /sessions/:id/learn.
func (s *Server) learnHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	name, err := s.router.Learn(c.Request().Context(), sessionID)
	if err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, &LearnResponse{Status: "okay", PatternName: name})
}

// clearSTMHandler handles POST /sessions/:id/clear-stm.
func (s *Server) clearSTMHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if err := s.router.ClearSTM(c.Request().Context(), sessionID); err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, &StatusResponse{Status: "okay", Message: "short-term memory cleared"})
}

// clearAllHandler handles POST /sessions/:id/clear-all.
func (s *Server) clearAllHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if err := s.router.ClearAll(c.Request().Context(), sessionID); err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, &StatusResponse{Status: "okay", Message: "session and kb partition cleared"})
}

func observeResponse(result *engine.ObserveResult) *ObserveResponse {
	resp := &ObserveResponse{
		Status:      result.Status,
		STMLength:   result.STMLength,
		Time:        result.Time,
		UniqueID:    result.UniqueID,
		Predictions: result.Predictions,
	}
	if result.AutoLearnedPattern != "" {
		name := result.AutoLearnedPattern
		resp.AutoLearnedPattern = &name
	}
	if resp.Predictions == nil {
		resp.Predictions = []model.Prediction{}
	}
	return resp
}
