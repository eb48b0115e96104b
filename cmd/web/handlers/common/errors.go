package common

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ErrBadRequest returns a 400 Bad Request error.
func ErrBadRequest(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

// ErrForbidden returns a 403 Forbidden error.
func ErrForbidden(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusForbidden, msg)
}

// ErrUnauthorized returns a 401 Unauthorized error.
func ErrUnauthorized(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusUnauthorized, msg)
}
