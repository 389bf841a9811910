package bootstrap

import (
	"log/slog"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/meridianhq/telemetry-backend/internal/aggregate"
	"github.com/meridianhq/telemetry-backend/internal/health"
	"github.com/meridianhq/telemetry-backend/internal/ingest"
	"github.com/meridianhq/telemetry-backend/internal/metrics"
	"github.com/meridianhq/telemetry-backend/internal/process"
	"github.com/meridianhq/telemetry-backend/internal/record"
	"github.com/meridianhq/telemetry-backend/internal/tenant"
)

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
}

func ProvideIngestHandler(ingestor *ingest.Ingestor, logger *slog.Logger) *ingest.Handler {
	return ingest.NewHandler(ingestor, logger.With("handler", "ingest"))
}

func ProvideHealthHandler(
	db *gorm.DB,
	redisClient *redis.Client,
	processor *process.Processor,
	flusher *aggregate.Flusher,
	store *record.Store,
	m *metrics.Pipeline,
	cfg *Config,
) *health.Handler {
	return health.NewHandler(db, redisClient, processor, flusher, store, m, cfg.Version)
}

func ProvideTenantHandler(store *tenant.Store, logger *slog.Logger) *tenant.Handler {
	return tenant.NewHandler(store, logger.With("handler", "tenant"))
}

func ProvideTenantMiddleware(store *tenant.Store) *tenant.Middleware {
	return tenant.NewMiddleware(store)
}

type HandlerParams struct {
	fx.In

	IngestHandler *ingest.Handler
	HealthHandler *health.Handler
	TenantHandler *tenant.Handler
	TenantAuth    *tenant.Middleware
	Config        *Config
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	keyCheck := params.TenantAuth.Optional
	if params.Config.IngestAuthRequired {
		keyCheck = params.TenantAuth.Require
	}

	api := e.Group("/v1", keyCheck)
	params.IngestHandler.RegisterRoutes(api)

	params.TenantHandler.RegisterRoutes(e.Group("/admin"))
	params.HealthHandler.RegisterRoutes(e)
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideLogger,
		ProvideIngestHandler,
		ProvideHealthHandler,
		ProvideTenantHandler,
		ProvideTenantMiddleware,
	),
	fx.Invoke(RegisterRoutes),
)
