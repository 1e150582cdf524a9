package middleware

import (
	"lessonsync/backend/config"
	"lessonsync/backend/utils"

	"github.com/gofiber/fiber/v2"
)

// Locals keys set by AuthMiddleware for downstream handlers.
const (
	LocalUserID = "userID"
	LocalToken  = "token"
)

// AuthMiddleware validates the session credential and stashes both the
// user ID and the raw token in locals. Handlers need the raw token
// because flushes replay it to the backend.
func AuthMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := utils.TokenFromRequest(c, cfg)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		userID, err := utils.ParseUserID(token, cfg)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		c.Locals(LocalUserID, userID)
		c.Locals(LocalToken, token)
		return c.Next()
	}
}
