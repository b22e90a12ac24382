package v1

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/memvault/crypt"
	"github.com/hrygo/memvault/metrics"
	"github.com/hrygo/memvault/server/auth"
	"github.com/hrygo/memvault/server/ratelimit"
)

// RequestIDMiddleware assigns a correlation identifier to every request and
// echoes it in the X-Request-Id response header.
func RequestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := shortuuid.New()
			c.Set(ctxKeyRequestID, id)
			c.Response().Header().Set("X-Request-Id", id)
			return next(c)
		}
	}
}

// AuthMiddleware verifies the bearer token with the external identity
// provider and derives the tenant handle. Anonymous principals are rejected:
// every memory operation is tenant-scoped.
func AuthMiddleware(verifier auth.IdentityVerifier, deriver *crypt.TenantDeriver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return unauthorized(c)
			}

			identity, err := verifier.Verify(c.Request().Context(), token)
			if err != nil || identity.Anonymous {
				slog.Info("authentication rejected",
					"request_id", requestID(c),
					"remote", c.RealIP(),
				)
				return unauthorized(c)
			}

			handle, err := deriver.Derive(identity.Subject)
			if err != nil {
				slog.Error("tenant derivation failed", "request_id", requestID(c), "error", err)
				return internalError(c)
			}

			c.Set(ctxKeyIdentity, identity)
			c.Set(ctxKeyTenantHandle, handle)
			return next(c)
		}
	}
}

// RateLimitMiddleware enforces the per-caller budget and attaches the
// bookkeeping headers to every response, including rejections.
func RateLimitMiddleware(limiter ratelimit.Limiter, exporter *metrics.Exporter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity := callerIdentity(c)
			if identity == nil {
				return internalError(c)
			}

			decision, err := limiter.Allow(c.Request().Context(), identity.Subject)
			if err != nil {
				slog.Error("rate limiter failed", "request_id", requestID(c), "error", err)
				return internalError(c)
			}

			header := c.Response().Header()
			header.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			header.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			header.Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))

			if !decision.Allowed {
				exporter.IncRateLimited()
				retryAfter := int(decision.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				header.Set("Retry-After", strconv.Itoa(retryAfter))
				return respondError(c, http.StatusTooManyRequests, codeRateLimited,
					"request rate exceeded", "wait for the Retry-After interval")
			}

			return next(c)
		}
	}
}
