package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-bot/internal/api/http/handlers"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health      *handlers.HealthHandler
	Transcripts *handlers.TranscriptsHandler
	// ServeTranscripts gates the public transcript route; it is only
	// registered when a public base URL is configured.
	ServeTranscripts bool
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	if cfg.ServeTranscripts {
		app.Get("/transcripts/:id", cfg.Transcripts.Show)
	}
}
