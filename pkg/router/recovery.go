package router

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/augustorsouza/whatsapp-web-server/pkg/log"
)

// RecoveryMiddleware converts panics into structured JSON responses and logs them.
// It must be registered before application routes.
func RecoveryMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				message := fmt.Sprintf("%v", rec)
				log.Print(c).WithField("request_id", RequestID(c)).Error("panic recovered: " + message)
				_ = ResponseError(c, fiber.StatusInternalServerError, "Internal server error", fmt.Errorf("%v", rec), nil)
			}
		}()
		return c.Next()
	}
}
