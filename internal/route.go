package internal

import (
	"github.com/gofiber/fiber/v2"

	ctlRelay "github.com/augustorsouza/whatsapp-web-server/internal/relay"
	"github.com/augustorsouza/whatsapp-web-server/pkg/auth"
	"github.com/augustorsouza/whatsapp-web-server/pkg/env"
	"github.com/augustorsouza/whatsapp-web-server/pkg/router"
)

// Routes wires the relay endpoints. Startup must have run first so the
// session controller and dispatcher exist.
func Routes(app *fiber.App) {
	handler := ctlRelay.New(sessionController, messageDispatcher, startedAt)
	bearer := auth.RequireBearer()

	app.Get("/", handler.Index)
	app.Get("/qr", handler.QR)
	app.Get("/status", handler.Status)
	app.Get("/health", handler.Health)

	sendRate := float64(env.GetEnvIntOrDefault("RELAY_SEND_RATE_PER_SECOND", 1))
	sendBurst := env.GetEnvIntOrDefault("RELAY_SEND_BURST", 5)
	app.Post("/send-group-message", bearer, router.HttpRateLimit(sendRate, sendBurst), handler.SendGroupMessage)

	app.Post("/restart", bearer, handler.Restart)
}
