package tenant

import (
	"context"
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/meridianhq/telemetry-backend/internal/shared"
)

type contextKey string

const tenantKey contextKey = "authorized_tenant"

// Middleware binds requests to the tenant their ingest key belongs to.
type Middleware struct {
	store *Store
}

func NewMiddleware(store *Store) *Middleware {
	return &Middleware{store: store}
}

// Require rejects requests without a valid ingest key.
func (m *Middleware) Require(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret := extractSecret(c)
		if secret == "" {
			return shared.Unauthorized("missing_key", "ingest key required")
		}

		key, err := m.store.Validate(c.Request().Context(), secret)
		if err != nil {
			if errors.Is(err, shared.ErrUnauthorized) {
				return shared.Unauthorized("key_expired", "ingest key has expired")
			}
			return shared.Unauthorized("invalid_key", "unknown ingest key")
		}

		bind(c, key.TenantID)
		return next(c)
	}
}

// Optional binds the tenant when a valid key is presented and lets anonymous
// requests through unbound.
func (m *Middleware) Optional(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret := extractSecret(c)
		if secret == "" {
			return next(c)
		}

		key, err := m.store.Validate(c.Request().Context(), secret)
		if err != nil {
			return next(c)
		}

		bind(c, key.TenantID)
		return next(c)
	}
}

func extractSecret(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Request().Header.Get("X-Ingest-Key")
}

func bind(c echo.Context, tenantID string) {
	ctx := context.WithValue(c.Request().Context(), tenantKey, tenantID)
	c.SetRequest(c.Request().WithContext(ctx))
}

// Authorized returns the tenant bound to the request, or "" when the request
// was not authenticated.
func Authorized(c echo.Context) string {
	tenantID, _ := c.Request().Context().Value(tenantKey).(string)
	return tenantID
}

func BindForTest(c echo.Context, tenantID string) {
	bind(c, tenantID)
}
