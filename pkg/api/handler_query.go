package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/kato-io/kato/pkg/model"
)

// predictionsHandler handles GET /sessions/:id/predictions. Predictions
// are recomputed over the current STM so a session observing with
// process_predictions=false still gets current results here.
func (s *Server) predictionsHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	preds, err := s.router.GetPredictions(c.Request().Context(), sessionID)
	if err != nil {
		return mapEngineError(err)
	}
	if preds == nil {
		preds = []model.Prediction{}
	}
	return c.JSON(http.StatusOK, &PredictionsResponse{Predictions: preds})
}

// stmHandler handles GET /sessions/:id/stm.
func (s *Server) stmHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	stm, err := s.router.GetSTM(c.Request().Context(), sessionID)
	if err != nil {
		return mapEngineError(err)
	}
	if stm == nil {
		stm = []model.Event{}
	}
	return c.JSON(http.StatusOK, &STMResponse{STM: stm})
}

// perceptDataHandler handles GET /sessions/:id/percept-data.
func (s *Server) perceptDataHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	percept, err := s.router.GetPerceptData(c.Request().Context(), sessionID)
	if err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, percept)
}

// patternHandler handles GET /sessions/:id/pattern/:name.
func (s *Server) patternHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	name := c.Param("name")
	if sessionID == "" || name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id and pattern name are required")
	}

	pattern, err := s.router.GetPattern(c.Request().Context(), sessionID, name)
	if err != nil {
		return mapEngineError(err)
	}
	return c.JSON(http.StatusOK, pattern)
}
