// Package api assembles the HTTP application: middleware, routes and the
// websocket endpoint.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/docchat/backend/internal/api/handlers"
	"github.com/docchat/backend/internal/metrics"
	"github.com/docchat/backend/internal/middleware/ratelimit"
	"github.com/docchat/backend/internal/middleware/security"
	"github.com/docchat/backend/internal/middleware/validation"
	"github.com/docchat/backend/pkg/logger"
)

type Config struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	BodyLimit         int
	AllowOrigins      []string
	IsDevelopment     bool
	RequestsPerMinute int
	MaxContentLength  int
	MaxUploadBytes    int
	AccessLog         bool
}

type Handlers struct {
	Documents *handlers.DocumentHandler
	Chat      *handlers.ChatHandler
	WebSocket *handlers.WebSocketHandler
	Health    *handlers.HealthHandler
}

// NewApp returns the configured application and the rate limiter, which the
// caller stops on shutdown.
func NewApp(cfg Config, h Handlers) (*fiber.App, *ratelimit.RateLimiter) {
	app := fiber.New(fiber.Config{
		AppName:      "docchat",
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		BodyLimit:    cfg.BodyLimit,
	})

	app.Use(recover.New())
	if cfg.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins(cfg.AllowOrigins),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.AllowOrigins,
		IsDevelopment:  cfg.IsDevelopment,
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Get("/health", h.Health.Health)
	api.Get("/ready", h.Health.Ready)

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RequestsPerMinute,
		Logger:               logger.GetLogger(),
	})
	api.Use(limiter.Middleware())
	api.Use(validation.Middleware(validation.Config{
		MaxContentLength: cfg.MaxContentLength,
		MaxDocumentSize:  cfg.MaxUploadBytes,
		Logger:           logger.GetLogger(),
	}))

	api.Post("/documents", h.Documents.UploadDocument)
	api.Get("/documents", h.Documents.ListDocuments)
	api.Get("/documents/:id", h.Documents.GetDocument)
	api.Delete("/documents/:id", h.Documents.DeleteDocument)
	api.Post("/documents/:id/chat", h.Chat.HandleChat)
	api.Get("/documents/:id/history", h.Chat.GetHistory)

	api.Get("/ws/chat", h.WebSocket.Upgrade, websocket.New(h.WebSocket.HandleConnection))

	return app, limiter
}

func allowOrigins(origins []string) string {
	if len(origins) == 0 {
		return "*"
	}
	return strings.Join(origins, ", ")
}
