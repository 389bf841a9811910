package health

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/meridianhq/telemetry-backend/internal/aggregate"
	"github.com/meridianhq/telemetry-backend/internal/metrics"
	"github.com/meridianhq/telemetry-backend/internal/process"
	"github.com/meridianhq/telemetry-backend/internal/record"
	"github.com/meridianhq/telemetry-backend/internal/shared"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentStatus struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type RuntimeStats struct {
	Goroutines    int    `json:"goroutines"`
	MemoryAllocMB uint64 `json:"memory_alloc_mb"`
	MemorySysMB   uint64 `json:"memory_sys_mb"`
	NumGC         uint32 `json:"num_gc"`
}

type PipelineStats struct {
	process.StatsSnapshot
	BufferBuckets int        `json:"buffer_buckets"`
	LastFlush     *time.Time `json:"last_flush,omitempty"`
}

type HealthResponse struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Components    map[string]ComponentStatus `json:"components"`
}

type DeadLettersResponse struct {
	Total   int                  `json:"total"`
	Letters []*record.DeadLetter `json:"dead_letters"`
}

type Handler struct {
	db        *gorm.DB
	redis     *redis.Client
	processor *process.Processor
	flusher   *aggregate.Flusher
	store     *record.Store
	metrics   *metrics.Pipeline
	version   string
	startTime time.Time
}

func NewHandler(
	db *gorm.DB,
	redisClient *redis.Client,
	processor *process.Processor,
	flusher *aggregate.Flusher,
	store *record.Store,
	m *metrics.Pipeline,
	version string,
) *Handler {
	return &Handler{
		db:        db,
		redis:     redisClient,
		processor: processor,
		flusher:   flusher,
		store:     store,
		metrics:   m,
		version:   version,
		startTime: time.Now(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Liveness)
	e.GET("/health/ready", h.Readiness)
	e.GET("/health/pipeline", h.Pipeline)
	e.GET("/health/deadletters", h.DeadLetters)
	e.GET("/metrics", echo.WrapHandler(h.metrics.Handler()))
}

func (h *Handler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *Handler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	components := make(map[string]ComponentStatus)
	var mu sync.Mutex
	var wg sync.WaitGroup

	checks := []struct {
		name  string
		check func(context.Context) ComponentStatus
	}{
		{"database", h.checkDatabase},
		{"redis", h.checkRedis},
	}

	wg.Add(len(checks))
	for _, check := range checks {
		go func(name string, fn func(context.Context) ComponentStatus) {
			defer wg.Done()
			status := fn(ctx)
			mu.Lock()
			components[name] = status
			mu.Unlock()
		}(check.name, check.check)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, status := range components {
		if status.Status == StatusUnhealthy {
			overall = StatusUnhealthy
			break
		}
		if status.Status == StatusDegraded {
			overall = StatusDegraded
		}
	}

	resp := HealthResponse{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Components:    components,
	}

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	return c.JSON(statusCode, resp)
}

func (h *Handler) Pipeline(c echo.Context) error {
	stats := PipelineStats{
		StatsSnapshot: h.processor.Stats().Snapshot(),
		BufferBuckets: h.flusher.BufferSize(),
	}
	if last := h.flusher.LastFlush(); !last.IsZero() {
		stats.LastFlush = &last
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return c.JSON(http.StatusOK, map[string]any{
		"pipeline": stats,
		"runtime": RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: memStats.Alloc / 1024 / 1024,
			MemorySysMB:   memStats.Sys / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	})
}

func (h *Handler) DeadLetters(c echo.Context) error {
	limit := 50
	letters, err := h.store.ListDeadLetters(c.Request().Context(), limit, 0)
	if err != nil {
		return shared.InternalError("deadletter_query_failed", "could not list dead letters")
	}
	return c.JSON(http.StatusOK, DeadLettersResponse{
		Total:   len(letters),
		Letters: letters,
	})
}

func (h *Handler) checkDatabase(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.db == nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "database not configured",
		}
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "failed to get underlying db",
		}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "ping failed",
		}
	}

	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (h *Handler) checkRedis(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.redis == nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "redis not configured",
		}
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "ping failed",
		}
	}
	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}
