package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Error codes surfaced to callers. Details stay generic: internal paths,
// driver errors and stack traces never cross this boundary, only the
// request_id does, and support can join it against server logs.
const (
	codeAuthenticationFailure = "authentication_failure"
	codeValidationFailure     = "validation_failure"
	codeNotFound              = "not_found"
	codeRateLimited           = "rate_limited"
	codeDependencyTimeout     = "dependency_timeout"
	codeInternal              = "internal_error"
)

// ErrorResponse is the wire shape of every error.
type ErrorResponse struct {
	ErrorCode  string `json:"error_code"`
	Detail     string `json:"detail"`
	RequestID  string `json:"request_id"`
	Suggestion string `json:"suggestion,omitempty"`
}

func respondError(c echo.Context, status int, code, detail, suggestion string) error {
	return c.JSON(status, &ErrorResponse{
		ErrorCode:  code,
		Detail:     detail,
		RequestID:  requestID(c),
		Suggestion: suggestion,
	})
}

func unauthorized(c echo.Context) error {
	return respondError(c, http.StatusUnauthorized, codeAuthenticationFailure,
		"missing or invalid credentials", "supply a valid Authorization: Bearer token")
}

func validationFailed(c echo.Context, detail string) error {
	return respondError(c, http.StatusUnprocessableEntity, codeValidationFailure, detail, "")
}

// notFound is the normalized response for both missing chunks and chunks
// owned by another tenant, so deletes cannot be used as an existence oracle.
func notFound(c echo.Context) error {
	return respondError(c, http.StatusNotFound, codeNotFound, "chunk not found", "")
}

func dependencyUnavailable(c echo.Context) error {
	return respondError(c, http.StatusServiceUnavailable, codeDependencyTimeout,
		"a backing service did not respond in time", "retry with backoff")
}

func internalError(c echo.Context) error {
	return respondError(c, http.StatusInternalServerError, codeInternal,
		"internal error", "contact support with the request_id")
}
