package relay

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/augustorsouza/whatsapp-web-server/internal/dispatch"
	"github.com/augustorsouza/whatsapp-web-server/internal/session"
	typRelay "github.com/augustorsouza/whatsapp-web-server/internal/types"
	"github.com/augustorsouza/whatsapp-web-server/pkg/log"
	"github.com/augustorsouza/whatsapp-web-server/pkg/router"
	"github.com/augustorsouza/whatsapp-web-server/pkg/validation"
)

// SessionController is the slice of the lifecycle controller the HTTP facade
// consumes.
type SessionController interface {
	Status() session.Status
	QRPath() (string, bool)
	Restart(manual bool) bool
}

// MessageDispatcher delivers a validated send request.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, req dispatch.SendRequest) (*dispatch.Result, error)
}

type Handler struct {
	session    SessionController
	dispatcher MessageDispatcher
	startedAt  time.Time
}

func New(session SessionController, dispatcher MessageDispatcher, startedAt time.Time) *Handler {
	return &Handler{session: session, dispatcher: dispatcher, startedAt: startedAt}
}

func (h *Handler) Index(c *fiber.Ctx) error {
	return router.ResponseOK(c, "WhatsApp Group Relay", fiber.Map{
		"service": "whatsapp-web-server",
	})
}

// QR serves the pairing flow: a ready notice once paired, the pairing image
// while one is pending, otherwise a still-generating notice.
func (h *Handler) QR(c *fiber.Ctx) error {
	st := h.session.Status()
	if st.Ready {
		return c.SendString("WhatsApp session is ready; no pairing needed")
	}

	path, available := h.session.QRPath()
	if available {
		return c.SendFile(path)
	}

	return c.SendString("QR code is still being generated; try again shortly")
}

func (h *Handler) Status(c *fiber.Ctx) error {
	return c.JSON(h.session.Status())
}

func (h *Handler) Health(c *fiber.Ctx) error {
	st := h.session.Status()
	return c.JSON(fiber.Map{
		"status":        "ok",
		"whatsappReady": st.Ready,
		"uptime":        int64(time.Since(h.startedAt).Seconds()),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) SendGroupMessage(c *fiber.Ctx) error {
	var req typRelay.RequestSendGroupMessage
	if err := c.BodyParser(&req); err != nil {
		log.Print(c).Warn("Failed to parse body request")
		return router.ResponseBadRequest(c, "Failed to parse body request")
	}

	if err := validation.ValidateGroupTarget(req.GroupID, req.GroupName); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}
	if err := validation.ValidateMessage(req.Message); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := h.dispatcher.Dispatch(ctx, dispatch.SendRequest{
		GroupID:   req.GroupID,
		GroupName: req.GroupName,
		Message:   req.Message,
	})
	if err != nil {
		return h.sendError(c, err)
	}

	return router.ResponseOK(c, "Message sent to "+result.GroupID, fiber.Map{
		"groupId":   result.GroupID,
		"groupName": result.GroupName,
		"messageId": result.MessageID,
		"attempts":  result.Attempts,
	})
}

func (h *Handler) sendError(c *fiber.Ctx, err error) error {
	var notFound *dispatch.NotFoundError
	var sessionLost *dispatch.SessionLostError
	var sendFailed *dispatch.SendFailedError

	switch {
	case errors.Is(err, dispatch.ErrNotReady):
		st := h.session.Status()
		return router.ResponseServiceUnavailable(c, "WhatsApp session is not ready", nil, fiber.Map{
			"isRestarting":       st.Restarting,
			"restartAttempts":    st.RestartAttempts,
			"maxRestartAttempts": st.MaxRestartAttempts,
		})
	case errors.As(err, &notFound):
		return router.ResponseNotFound(c, "Group \""+notFound.Name+"\" not found", fiber.Map{
			"availableGroups": notFound.Candidates,
		})
	case errors.As(err, &sessionLost):
		st := h.session.Status()
		return router.ResponseServiceUnavailable(c, "WhatsApp session was lost while sending", sessionLost.Err, fiber.Map{
			"willRetry":       sessionLost.WillRetry,
			"isRestarting":    st.Restarting,
			"restartAttempts": st.RestartAttempts,
		})
	case errors.As(err, &sendFailed):
		return router.ResponseInternalError(c, "Failed to send message after retries", sendFailed.Err, fiber.Map{
			"attempts": sendFailed.Attempts,
		})
	default:
		return router.ResponseInternalError(c, "Failed to send message", err, nil)
	}
}

// Restart acknowledges an in-progress restart or initiates a new one with the
// attempt counter reset.
func (h *Handler) Restart(c *fiber.Ctx) error {
	st := h.session.Status()
	if st.Restarting {
		return router.ResponseOK(c, "Restart already in progress", fiber.Map{
			"message": "Restart already in progress",
		})
	}

	go h.session.Restart(true)
	return router.ResponseOK(c, "Restart initiated", fiber.Map{
		"message": "Restart initiated; attempt counter reset",
	})
}
