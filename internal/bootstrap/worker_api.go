package bootstrap

import (
	"strings"

	"inbox_worker/adapter/in/http"
	"inbox_worker/infra/database"
	"inbox_worker/infra/middleware"
	"inbox_worker/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// NewAPI builds the HTTP surface over already-initialized dependencies.
func NewAPI(deps *Dependencies) *fiber.App {
	cfg := deps.Config

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		Prefork:               false,
		StrictRouting:         false,
		CaseSensitive:         false,

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		// go-json instead of encoding/json
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit: 2 * 1024 * 1024, // 2MB, records are text

		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())         // 1. Panic recovery
	app.Use(middleware.RequestID())       // 2. Request ID
	app.Use(middleware.SecurityHeaders()) // 3. Security headers
	app.Use(middleware.RequestLogger())   // 4. Request logging

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,Retry-After",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	healthHandler(deps).Register(app)

	api := app.Group("/api/v1")
	api.Use(middleware.RequireJSON())

	http.NewRecordHandler(deps.RecordService).Register(api, middleware.RateLimit(deps.Limiter, "ingest"))
	http.NewReplyHandler(deps.ReplyService).Register(api)
	http.NewSSEHandler(deps.SSEHub, logger.Zerolog("sse_handler")).Register(api)

	logger.Info("API server initialized (mode %s)", deps.Mode)
	return app
}

func healthHandler(deps *Dependencies) *http.HealthHandler {
	h := http.NewHealthHandler().WithRedis(deps.Redis)

	if deps.DB != nil {
		h.WithCheck("postgres", deps.DB).
			WithStats("pgx_pool", func() any { return database.GetPoolStats(deps.DB) })
	}
	if deps.SQLDB != nil {
		h.WithDBStats(deps.SQLDB)
	}
	if deps.Redis != nil {
		h.WithStats("redis_pool", func() any { return database.GetRedisStats(deps.Redis) })
	}
	if deps.Router != nil {
		h.WithStats("notifications", func() any { return deps.Router.Stats() })
	}
	if deps.Pool != nil {
		h.WithWorkerPool(deps.Pool)
	}
	return h
}
