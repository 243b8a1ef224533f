package messages

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/teamdesk/internal/messaging"
)

// Response is the envelope every messaging endpoint returns
type Response struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Cursor  *string     `json:"cursor,omitempty"`
	HasMore *bool       `json:"has_more,omitempty"`
}

func ok(c echo.Context, code int, message string, data interface{}) error {
	return c.JSON(code, Response{Status: true, Message: message, Data: data})
}

func page(c echo.Context, message string, data interface{}, cursor *string, hasMore bool) error {
	return c.JSON(http.StatusOK, Response{Status: true, Message: message, Data: data, Cursor: cursor, HasMore: &hasMore})
}

// toHTTPError maps business errors to their status code. Anything else is an
// internal failure and is logged without leaking details.
func toHTTPError(c echo.Context, logger zerolog.Logger, err error) error {
	var domainErr *messaging.Error
	if errors.As(err, &domainErr) {
		switch {
		case errors.Is(err, messaging.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, domainErr.Message)
		case errors.Is(err, messaging.ErrBadRequest):
			return echo.NewHTTPError(http.StatusBadRequest, domainErr.Message)
		case errors.Is(err, messaging.ErrForbidden):
			return echo.NewHTTPError(http.StatusForbidden, domainErr.Message)
		}
	}
	logger.Error().Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("messaging request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "Something went wrong")
}

// ErrorHandler renders errors in the Response envelope
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		message := http.StatusText(code)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, isString := he.Message.(string); isString {
				message = m
			} else {
				message = http.StatusText(code)
			}
		} else {
			logger.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, Response{Status: false, Message: message})
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("failed to write error response")
		}
	}
}
