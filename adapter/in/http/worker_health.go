package http

import (
	"context"
	"time"

	"inbox_worker/adapter/in/worker"
	"inbox_worker/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// HealthChecker is anything that can be pinged, such as a pgxpool.Pool.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// redisPing adapts a redis client to HealthChecker.
type redisPing struct{ client *redis.Client }

func (r redisPing) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

type HealthHandler struct {
	checks map[string]HealthChecker
	stats  map[string]func() any
	sqlDB  *sqlx.DB
	pool   *worker.Pool
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{
		checks: make(map[string]HealthChecker),
		stats:  make(map[string]func() any),
	}
}

// WithStats reports the result of fn under name on /ready.
func (h *HealthHandler) WithStats(name string, fn func() any) *HealthHandler {
	h.stats[name] = fn
	return h
}

// WithCheck adds a named readiness check. A nil checker is reported as not configured.
func (h *HealthHandler) WithCheck(name string, c HealthChecker) *HealthHandler {
	h.checks[name] = c
	return h
}

// WithRedis adds a readiness check for client.
func (h *HealthHandler) WithRedis(client *redis.Client) *HealthHandler {
	if client == nil {
		h.checks["redis"] = nil
		return h
	}
	return h.WithCheck("redis", redisPing{client})
}

// WithDBStats reports database/sql pool statistics on /ready.
func (h *HealthHandler) WithDBStats(db *sqlx.DB) *HealthHandler {
	h.sqlDB = db
	return h
}

// WithWorkerPool reports dispatch pool metrics on /ready.
func (h *HealthHandler) WithWorkerPool(p *worker.Pool) *HealthHandler {
	h.pool = p
	return h
}

func (h *HealthHandler) Register(app fiber.Router) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	allHealthy := true

	for name, checker := range h.checks {
		if checker == nil {
			checks[name] = "not configured"
			continue
		}
		if err := checker.Ping(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks[name] = "healthy"
		}
	}

	body := fiber.Map{
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if h.sqlDB != nil {
		stats := metrics.GetDBPoolStats(h.sqlDB.DB)
		health := metrics.AssessDBPoolHealth(stats)
		body["db_pool"] = fiber.Map{
			"stats":  stats.ToMap(),
			"health": health,
		}
		if health.Status == metrics.PoolUnhealthy {
			allHealthy = false
		}
	}

	for name, fn := range h.stats {
		body[name] = fn()
	}

	if h.pool != nil {
		body["dispatch_pool"] = fiber.Map{
			"metrics": h.pool.GetMetrics(),
			"latency": h.pool.Latency(),
		}
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}
	body["status"] = status

	return c.Status(statusCode).JSON(body)
}
