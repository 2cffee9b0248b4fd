package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gradearena/arena-api/internal/config"
	"github.com/gradearena/arena-api/internal/handler"
	"github.com/gradearena/arena-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SubmissionHandler  *handler.SubmissionHandler
	LeaderboardHandler *handler.LeaderboardHandler
	QuestionHandler    *handler.QuestionHandler
	JWTMiddleware      fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.SubmissionHandler != nil {
		submissions := api.Group("/submissions", jwtMiddleware)
		deps.SubmissionHandler.Register(submissions)
	}

	// Leaderboard and questions are public reads.
	if deps.LeaderboardHandler != nil {
		leaderboard := api.Group("/leaderboard")
		deps.LeaderboardHandler.Register(leaderboard)
	}

	if deps.QuestionHandler != nil {
		questions := api.Group("/questions")
		deps.QuestionHandler.Register(questions)
	}
}
