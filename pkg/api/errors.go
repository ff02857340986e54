package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/mcpcore/pkg/session"
	"github.com/codeready-toolchain/mcpcore/pkg/storage"
)

// mapError maps a domain error to an HTTP response, mirroring the
// teacher's mapServiceError: a chain of errors.Is/errors.As checks
// against package sentinels, falling back to a logged, genericized 500
// so neither a stack trace nor a token ever reaches the caller.
func mapError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrSessionIDEmpty):
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	case errors.Is(err, session.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, storage.ErrConnection):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage unavailable")
	}

	slog.Error("unexpected api error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
