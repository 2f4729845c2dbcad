package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/upskill-api/internal/config"
	"github.com/noah-isme/upskill-api/internal/handler"
	"github.com/noah-isme/upskill-api/internal/middleware"
	"github.com/noah-isme/upskill-api/internal/models"
	"github.com/noah-isme/upskill-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SubmissionHandler   *handler.SubmissionHandler
	LeaderboardHandler  *handler.LeaderboardHandler
	PointsHandler       *handler.PointsHandler
	NotificationHandler *handler.NotificationHandler
	ActivityHandler     *handler.ActivityHandler
	DependencyChecks        []handler.DependencyCheck
	JWTMiddleware       fiber.Handler
	PrincipalMiddleware fiber.Handler
	WriteLimiter        fiber.Handler
	ExposeMetrics       bool
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.DependencyChecks...))

	if deps.ExposeMetrics {
		app.Get("/metrics", observability.MetricsHandler())
	}

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	principal := deps.PrincipalMiddleware
	if principal == nil {
		principal = func(c *fiber.Ctx) error { return c.Next() }
	}

	protected := api.Group("", jwtMiddleware, principal)

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(protected.Group("/submissions"), deps.WriteLimiter)
	}

	if deps.LeaderboardHandler != nil {
		deps.LeaderboardHandler.Register(protected.Group("/leaderboard"))
	}

	if deps.PointsHandler != nil {
		deps.PointsHandler.Register(protected.Group("/points"), deps.WriteLimiter)
	}

	if deps.NotificationHandler != nil {
		deps.NotificationHandler.Register(protected.Group("/notifications"))
	}

	if deps.ActivityHandler != nil {
		deps.ActivityHandler.Register(protected.Group("/activity", middleware.RequireRole(models.RoleHOD)))
	}
}
