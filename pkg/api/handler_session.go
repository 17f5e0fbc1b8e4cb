package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/kato-io/kato/pkg/model"
)

// createSessionHandler handles POST /sessions.
func (s *Server) createSessionHandler(c *echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	nodeID := req.NodeID
	if nodeID == "" {
		nodeID = s.defaultNodeID
	}

	state, err := s.router.CreateSession(c.Request().Context(), nodeID, req.Config)
	if err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusCreated, sessionResponse(state))
}

// getSessionHandler handles GET /sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	state, err := s.router.GetSession(c.Request().Context(), sessionID)
	if err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, sessionResponse(state))
}

// deleteSessionHandler handles DELETE /sessions/:id.
func (s *Server) deleteSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if err := s.router.DeleteSession(c.Request().Context(), sessionID); err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, &StatusResponse{Status: "okay", Message: "session deleted"})
}

// updateConfigHandler handles POST /sessions/:id/config.
func (s *Server) updateConfigHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var overrides map[string]any
	if err := c.Bind(&overrides); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cfg, err := s.router.UpdateConfig(c.Request().Context(), sessionID, overrides)
	if err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, &ConfigResponse{Status: "okay", Config: cfg})
}

func sessionResponse(state *model.SessionState) *SessionResponse {
	return &SessionResponse{
		SessionID: state.SessionID,
		NodeID:    state.NodeID,
		STMLength: len(state.STM),
		Time:      state.Time,
		Config:    state.Config,
		CreatedAt: state.CreatedAt.Format(time.RFC3339),
	}
}
