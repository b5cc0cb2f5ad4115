package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/augustorsouza/whatsapp-web-server/pkg/log"
)

// RequestID returns the identifier assigned by HttpRequestID for this request.
func RequestID(c *fiber.Ctx) string {
	if v := c.Locals("request_id"); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

func stamp(c *fiber.Ctx, payload fiber.Map) fiber.Map {
	if payload == nil {
		payload = fiber.Map{}
	}
	payload["requestId"] = RequestID(c)
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return payload
}

func logSuccess(c *fiber.Ctx, code int, message string) {
	log.Print(c).WithField("request_id", RequestID(c)).Info(fmt.Sprintf("%d %v", code, message))
}

func logError(c *fiber.Ctx, code int, message string) {
	log.Print(c).WithField("request_id", RequestID(c)).Error(fmt.Sprintf("%d %v", code, message))
}

// ResponseOK writes a success envelope. Every payload gains success, requestId
// and timestamp fields.
func ResponseOK(c *fiber.Ctx, message string, payload fiber.Map) error {
	payload = stamp(c, payload)
	payload["success"] = true
	logSuccess(c, http.StatusOK, message)
	return c.Status(http.StatusOK).JSON(payload)
}

// ResponseError writes an error envelope. The detail field carries internal
// error text and is included only in a development posture.
func ResponseError(c *fiber.Ctx, code int, message string, detail error, extra fiber.Map) error {
	payload := stamp(c, extra)
	payload["success"] = false
	payload["error"] = message
	if DevMode && detail != nil {
		payload["detail"] = detail.Error()
	}
	logError(c, code, message)
	return c.Status(code).JSON(payload)
}

func ResponseBadRequest(c *fiber.Ctx, message string) error {
	return ResponseError(c, http.StatusBadRequest, message, nil, nil)
}

func ResponseForbidden(c *fiber.Ctx, message string) error {
	return ResponseError(c, http.StatusForbidden, message, nil, nil)
}

func ResponseNotFound(c *fiber.Ctx, message string, extra fiber.Map) error {
	return ResponseError(c, http.StatusNotFound, message, nil, extra)
}

func ResponseInternalError(c *fiber.Ctx, message string, detail error, extra fiber.Map) error {
	return ResponseError(c, http.StatusInternalServerError, message, detail, extra)
}

func ResponseServiceUnavailable(c *fiber.Ctx, message string, detail error, extra fiber.Map) error {
	return ResponseError(c, http.StatusServiceUnavailable, message, detail, extra)
}

func ResponseNoContent(c *fiber.Ctx) error {
	return c.SendStatus(http.StatusNoContent)
}
