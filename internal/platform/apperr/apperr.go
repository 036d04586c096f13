// Package apperr defines the error taxonomy shared by all domain services
// and the echo error handler that maps it onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindForbidden
	KindValidation
	KindNotFound
	KindConflict
)

// FieldIssue describes a single invalid input field.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the error type returned by domain services.
type Error struct {
	Kind    Kind
	Message string
	Issues  []FieldIssue
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Unauthorized means no valid actor is present on the request.
func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

// Forbidden deliberately carries a generic message so callers cannot probe
// whether an entity exists or why access failed.
func Forbidden() *Error {
	return &Error{Kind: KindForbidden, Message: "access denied"}
}

// Validation reports malformed or missing input fields.
func Validation(msg string, issues ...FieldIssue) *Error {
	return &Error{Kind: KindValidation, Message: msg, Issues: issues}
}

// NotFound reports an unresolvable entity id.
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

// Conflict reports an illegal state transition or duplicate key.
func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

// Internal wraps an unexpected failure. The cause is logged server-side and
// never returned to the caller.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", cause: cause}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

func (k Kind) httpStatus() int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type response struct {
	Error  string       `json:"error"`
	Issues []FieldIssue `json:"issues,omitempty"`
}

// HTTPErrorHandler returns an echo error handler that maps *Error values to
// their status codes and hides internal detail. Non-apperr errors pass
// through echo's HTTPError handling unchanged.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var ae *Error
		if errors.As(err, &ae) {
			if ae.Kind == KindInternal {
				logger.Error().Err(ae.cause).
					Str("path", c.Request().URL.Path).
					Msg("internal error")
			}
			_ = c.JSON(ae.Kind.httpStatus(), response{Error: ae.Message, Issues: ae.Issues})
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			_ = c.JSON(he.Code, response{Error: fmt.Sprintf("%v", he.Message)})
			return
		}

		logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("unhandled error")
		_ = c.JSON(http.StatusInternalServerError, response{Error: "internal error"})
	}
}
