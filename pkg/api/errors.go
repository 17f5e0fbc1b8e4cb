package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/kato-io/kato/pkg/engine"
	"github.com/kato-io/kato/pkg/storage"
)

// mapEngineError maps engine-layer errors to HTTP error responses.
func mapEngineError(err error) *echo.HTTPError {
	var validErr *engine.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, engine.ErrSessionNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if errors.Is(err, storage.ErrPatternNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "pattern not found")
	}
	if errors.Is(err, engine.ErrEmptySTM) {
		return echo.NewHTTPError(http.StatusBadRequest, "short-term memory is empty")
	}
	if errors.Is(err, engine.ErrStorageUnavailable) || errors.Is(err, engine.ErrStorageConflict) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage unavailable, retry the request")
	}

	// Unexpected error
	slog.Error("Unexpected engine error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
