package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ActorKey is the context key for the acting user
	ActorKey ContextKey = "actor"
	// TenantKey is the context key for the tenant
	TenantKey ContextKey = "tenant_id"
)

// ExtractActor pulls the X-User-ID header into the request context so
// lifecycle actions can record who performed them.
func ExtractActor() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if actor := c.Request().Header.Get("X-User-ID"); actor != "" {
				c.Set(string(ActorKey), actor)
			}
			return next(c)
		}
	}
}

// RequireTenant pulls the X-Tenant-ID header into the request context and
// rejects requests without one. Every data path in this service is
// tenant-scoped.
func RequireTenant() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := c.Request().Header.Get("X-Tenant-ID")
			if tenantID == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "X-Tenant-ID header is required",
				})
			}
			c.Set(string(TenantKey), tenantID)
			return next(c)
		}
	}
}

// GetActor returns the acting user from the request context, or "unknown"
func GetActor(c echo.Context) string {
	if actor, ok := c.Get(string(ActorKey)).(string); ok && actor != "" {
		return actor
	}
	return "unknown"
}

// GetTenant returns the tenant id from the request context
func GetTenant(c echo.Context) string {
	tenantID, _ := c.Get(string(TenantKey)).(string)
	return tenantID
}
