package api

import (
	"net/http"

	"github.com/labstack/echo/v5"
)

// APIError is the error body for every non-2xx response.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeUnavailable(c *echo.Context) error {
	return writeError(c, http.StatusServiceUnavailable, "server_error", "no calibration artifact loaded")
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": APIError{Message: msg, Type: errType},
	})
}
