package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/augustorsouza/whatsapp-web-server/pkg/env"
	"github.com/augustorsouza/whatsapp-web-server/pkg/log"
	"github.com/augustorsouza/whatsapp-web-server/pkg/router"
)

// BearerToken gates the mutating endpoints. When empty the check is disabled;
// that is an intentional operator-facing posture, announced loudly at startup.
var BearerToken string

func init() {
	BearerToken, _ = env.GetEnvString("RELAY_AUTH_TOKEN")
	if BearerToken == "" {
		log.SessionOp("auth").Warn("RELAY_AUTH_TOKEN not set; send and restart endpoints are UNAUTHENTICATED")
	}
}

// RequireBearer validates "Authorization: Bearer <token>" against the
// configured secret. With no secret configured every request passes.
func RequireBearer() fiber.Handler {
	return RequireBearerToken(func() string { return BearerToken })
}

// RequireBearerToken is the injectable form used by tests.
func RequireBearerToken(token func() string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret := token()
		if secret == "" {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return router.ResponseForbidden(c, "Missing Authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return router.ResponseForbidden(c, "Invalid Authorization header format. Use: Bearer <token>")
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(secret)) != 1 {
			return router.ResponseForbidden(c, "Invalid token")
		}

		return c.Next()
	}
}
