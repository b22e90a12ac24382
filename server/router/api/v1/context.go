package v1

import (
	"github.com/labstack/echo/v4"

	"github.com/hrygo/memvault/server/auth"
)

// Echo context keys set by the middleware chain.
const (
	ctxKeyRequestID    = "memvault.request_id"
	ctxKeyIdentity     = "memvault.identity"
	ctxKeyTenantHandle = "memvault.tenant_handle"
)

func requestID(c echo.Context) string {
	if id, ok := c.Get(ctxKeyRequestID).(string); ok {
		return id
	}
	return ""
}

func callerIdentity(c echo.Context) *auth.Identity {
	if identity, ok := c.Get(ctxKeyIdentity).(*auth.Identity); ok {
		return identity
	}
	return nil
}

func tenantHandle(c echo.Context) string {
	if handle, ok := c.Get(ctxKeyTenantHandle).(string); ok {
		return handle
	}
	return ""
}
