package ingest

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/meridianhq/telemetry-backend/internal/event"
	"github.com/meridianhq/telemetry-backend/internal/shared"
	"github.com/meridianhq/telemetry-backend/internal/tenant"
)

const maxBatchSize = 1000

// Handler is the thin HTTP adapter in front of the Ingestor. Auth sits in
// front of this service; the tenant id arrives on the event envelope.
type Handler struct {
	ingestor *Ingestor
	logger   *slog.Logger
}

func NewHandler(ingestor *Ingestor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ingestor: ingestor, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/events", h.SubmitEvent)
	g.POST("/events/batch", h.SubmitBatch)
}

func (h *Handler) SubmitEvent(c echo.Context) error {
	var ev event.MetricsEvent
	if err := c.Bind(&ev); err != nil {
		return shared.BadRequest("invalid_body", "request body must be a metrics event")
	}
	if err := checkTenant(c, &ev); err != nil {
		return err
	}

	res, err := h.ingestor.SubmitEvent(c.Request().Context(), &ev)
	if err != nil {
		if errors.Is(err, shared.ErrLogUnavailable) {
			return shared.ServiceUnavailable("log_unavailable", "event log unavailable, retry later")
		}
		return shared.InternalError("publish_failed", "event could not be published")
	}

	return writeResult(c, res)
}

func (h *Handler) SubmitBatch(c echo.Context) error {
	var events []*event.MetricsEvent
	if err := c.Bind(&events); err != nil {
		return shared.BadRequest("invalid_body", "request body must be an array of metrics events")
	}
	if len(events) == 0 {
		return shared.BadRequest("empty_batch", "batch must contain at least one event")
	}
	if len(events) > maxBatchSize {
		return shared.BadRequest("batch_too_large", "batch exceeds maximum size")
	}
	for _, ev := range events {
		if err := checkTenant(c, ev); err != nil {
			return err
		}
	}

	res, err := h.ingestor.SubmitBatch(c.Request().Context(), events)
	if err != nil {
		if errors.Is(err, shared.ErrLogUnavailable) {
			return shared.ServiceUnavailable("log_unavailable", "event log unavailable, retry later")
		}
		return shared.InternalError("publish_failed", "batch could not be published")
	}

	return c.JSON(http.StatusOK, res)
}

// checkTenant rejects events claiming a tenant other than the one the ingest
// key is bound to. Unauthenticated requests carry no binding and pass.
func checkTenant(c echo.Context, ev *event.MetricsEvent) error {
	authorized := tenant.Authorized(c)
	if authorized != "" && ev.TenantID != authorized {
		return shared.Forbidden("tenant_mismatch", "event tenant does not match ingest key")
	}
	return nil
}

func writeResult(c echo.Context, res Result) error {
	switch res.Rejected {
	case RejectedInvalid:
		return shared.BadRequest("invalid_event", res.Detail)
	case RejectedRateLimited:
		return shared.TooManyRequests("rate_limited", "tenant quota exhausted for this window", map[string]any{
			"retry_after_seconds": res.RetryAfterSeconds,
		})
	default:
		return c.JSON(http.StatusAccepted, res)
	}
}
