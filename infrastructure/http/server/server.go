package server

import (
	"log/slog"
	"time"

	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/errors"
	"chat-relay/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

type Config struct {
	AllowedOrigins      string
	BodyLimit           int
	LiveQueueSize       int
	LiveEventsPerSecond float64
	LiveBurst           int
	LiveReadLimit       int64
	PingInterval        time.Duration
	PongWait            time.Duration
	WriteTimeout        time.Duration
}

// NewApp wires the REST routes and the live endpoint on a single fiber app.
func NewApp(log *slog.Logger, cfg Config, verifier contract.IdentityVerifier,
	chat *ChatHandler, live *LiveHandler, monitoring *observability.MonitoringManager) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "chat-relay",
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(log),
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: "GET,POST,PUT,DELETE",
		AllowHeaders: "Content-Type,Authorization",
	}))
	app.Use(requestLogger(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/debug/stats", func(c *fiber.Ctx) error {
		return c.JSON(monitoring.GetLatest())
	})

	app.Use("/ws", live.Upgrade)
	app.Get("/ws", auth.Middleware(verifier), live.Handler())

	chat.Register(app.Group("/projects", auth.Middleware(verifier)))
	return app
}

// errorHandler is the single place where service errors become HTTP statuses.
func errorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		if fe, ok := err.(*fiber.Error); ok {
			return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
		}
		status := errors.HTTPStatus(err)
		message := err.Error()
		if status == fiber.StatusInternalServerError {
			log.Error("Request failed", "method", c.Method(), "path", c.Path(), "error", err)
			message = "internal server error"
		}
		return c.Status(status).JSON(fiber.Map{"message": message})
	}
}

func requestLogger(log *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Debug("Request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration", time.Since(start),
		)
		return err
	}
}
