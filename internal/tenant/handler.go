package tenant

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/meridianhq/telemetry-backend/internal/shared"
)

// Handler exposes key administration. It lives on the operator surface, not
// the ingest surface.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

func NewHandler(store *Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/tenants/:tenant_id/keys", h.List)
	g.POST("/tenants/:tenant_id/keys", h.Create)
	g.DELETE("/keys/:id", h.Revoke)
}

type createKeyRequest struct {
	Name          string `json:"name"`
	ExpiresInDays *int   `json:"expires_in_days,omitempty"`
}

type keyResponse struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Secret     string     `json:"secret,omitempty"`
}

func keyToResponse(k *IngestKey) keyResponse {
	return keyResponse{
		ID:         k.ID,
		TenantID:   k.TenantID,
		Name:       k.Name,
		Prefix:     k.Prefix,
		CreatedAt:  k.CreatedAt,
		ExpiresAt:  k.ExpiresAt,
		LastUsedAt: k.LastUsedAt,
	}
}

func (h *Handler) List(c echo.Context) error {
	tenantID := c.Param("tenant_id")

	keys, err := h.store.ListByTenant(c.Request().Context(), tenantID)
	if err != nil {
		h.logger.Error("list ingest keys", "tenant", tenantID, "error", err)
		return shared.InternalError("list_failed", "failed to list ingest keys")
	}

	response := make([]keyResponse, len(keys))
	for i, k := range keys {
		response[i] = keyToResponse(k)
	}
	return c.JSON(http.StatusOK, map[string]any{"keys": response})
}

func (h *Handler) Create(c echo.Context) error {
	tenantID := c.Param("tenant_id")

	var req createKeyRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	if req.Name == "" {
		return shared.BadRequest("missing_name", "name is required")
	}

	key := &IngestKey{
		TenantID: tenantID,
		Name:     req.Name,
	}
	if req.ExpiresInDays != nil && *req.ExpiresInDays > 0 {
		expiresAt := time.Now().AddDate(0, 0, *req.ExpiresInDays)
		key.ExpiresAt = &expiresAt
	}

	secret, err := h.store.Create(c.Request().Context(), key)
	if err != nil {
		h.logger.Error("create ingest key", "tenant", tenantID, "error", err)
		return shared.InternalError("create_failed", "failed to create ingest key")
	}

	resp := keyToResponse(key)
	resp.Secret = secret
	return c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Revoke(c echo.Context) error {
	keyID := c.Param("id")

	if err := h.store.Revoke(c.Request().Context(), keyID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("key_not_found", "ingest key not found")
		}
		h.logger.Error("revoke ingest key", "key", keyID, "error", err)
		return shared.InternalError("revoke_failed", "failed to revoke ingest key")
	}
	return c.NoContent(http.StatusNoContent)
}
