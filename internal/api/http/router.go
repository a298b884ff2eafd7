package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/ticket-lifecycle/internal/api/http/handlers"
	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Users          *handlers.UsersHandler
	Csat           *handlers.CsatHandler
	AuthMiddleware *auth.AuthMiddleware
	RateLimiter    *RateLimiter
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	app.Post("/csat/:token", cfg.RateLimiter.Handle, cfg.Csat.Submit)

	api := app.Group("/api", cfg.AuthMiddleware.Handle, cfg.RateLimiter.Handle)

	tickets := api.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Post("/bulk", auth.RequireStaff(), cfg.Tickets.BulkUpdate)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id", cfg.Tickets.UpdateTicket)
	tickets.Get("/:id/audit", cfg.Tickets.ListAudit)
	tickets.Post("/:id/first-response", auth.RequireStaff(), cfg.Tickets.RecordFirstResponse)

	me := api.Group("/me")
	me.Get("/notification-preferences", cfg.Users.GetPreferences)
	me.Put("/notification-preferences", cfg.Users.UpdatePreferences)
}
