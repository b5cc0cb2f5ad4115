package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cache"
)

func HttpCacheInMemory(ttl int) fiber.Handler {
	if ttl <= 0 {
		ttl = 2
	}
	return cache.New(cache.Config{
		Next: func(c *fiber.Ctx) bool {
			// Only status/health style GETs benefit; the QR image must stay fresh.
			return c.Method() != fiber.MethodGet || c.Path() == "/qr"
		},
		Expiration: time.Duration(ttl) * time.Second,
	})
}
