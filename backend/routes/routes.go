package routes

import (
	"lessonsync/backend/buffer"
	"lessonsync/backend/config"
	"lessonsync/backend/controllers"
	"lessonsync/backend/heartbeat"
	"lessonsync/backend/middleware"
	"lessonsync/backend/store"

	"github.com/gofiber/fiber/v2"
)

func SetupRoutes(app *fiber.App, s *store.ProgressStore, q *heartbeat.Queue, b *buffer.Service, cfg *config.Config) {
	app.Get("/api/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	authMiddleware := middleware.AuthMiddleware(cfg)

	// Progress routes. Fixed paths go before the :lessonId parameter.
	progressController := controllers.NewProgressController(s, q, cfg)
	progress := app.Group("/api/progress", authMiddleware)
	progress.Post("/", progressController.UpdateProgress)
	progress.Post("/flush", progressController.FlushProgress)
	progress.Get("/last-access", progressController.GetLastAccess)
	progress.Put("/last-access", progressController.SetLastAccess)
	progress.Get("/:lessonId", progressController.GetProgress)
	progress.Delete("/:lessonId", progressController.ClearProgress)

	// Interaction routes
	interactionController := controllers.NewInteractionController(b, cfg)
	interactions := app.Group("/api/flashcard-interactions", authMiddleware)
	interactions.Post("/", interactionController.RecordInteraction)
	interactions.Post("/flush", interactionController.FlushInteractions)
}
