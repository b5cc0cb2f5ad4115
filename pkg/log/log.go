package log

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

func init() {
	logger.Formatter = &logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
		DisableColors:   false,
		ForceColors:     true,
	}
}

func Print(c *fiber.Ctx) *logrus.Entry {
	if c == nil {
		return logger.WithFields(logrus.Fields{})
	}

	remoteIP := c.IP()
	if v := c.Locals("remote_ip"); v != nil {
		if ip, ok := v.(string); ok && ip != "" {
			remoteIP = ip
		}
	}
	return logger.WithFields(logrus.Fields{
		"remote_ip": remoteIP,
		"method":    c.Method(),
		"uri":       c.OriginalURL(),
	})
}

// SessionOp returns an entry scoped to a session lifecycle operation.
func SessionOp(op string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"component": "session",
		"op":        op,
	})
}

// DispatchOp returns an entry scoped to a message dispatch operation.
func DispatchOp(op string, target string) *logrus.Entry {
	fields := logrus.Fields{
		"component": "dispatch",
		"op":        op,
	}
	if target != "" {
		fields["target"] = target
	}
	return logger.WithFields(fields)
}
