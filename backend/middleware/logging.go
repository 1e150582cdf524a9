package middleware

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
)

// LoggingMiddleware логирует каждый запрос после обработки
func LoggingMiddleware(logger *log.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		latency := time.Since(start)
		logger.Printf("%s %s %s %d %v",
			c.IP(),
			c.Method(),
			c.Path(),
			c.Response().StatusCode(),
			latency,
		)

		// Флаш не должен зависать: медленные запросы отмечаем отдельно
		if latency > 5*time.Second {
			logger.Printf("slow request: %s %s took %v", c.Method(), c.Path(), latency)
		}

		return err
	}
}
