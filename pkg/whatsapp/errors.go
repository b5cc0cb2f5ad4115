package whatsapp

import (
	"errors"
	"strings"

	"go.mau.fi/whatsmeow"
)

var (
	ErrNotConnected = errors.New("whatsapp client is not connected")
	ErrNotLoggedIn  = errors.New("whatsapp client is not logged in")
	ErrInvalidJID   = errors.New("invalid whatsapp jid")
)

// Message fragments that indicate the underlying session or its transport is
// gone. Matched case-insensitively against the full error chain text.
var sessionFatalFragments = []string{
	"session closed",
	"stream closed",
	"stream replaced",
	"websocket disconnected",
	"websocket is closed",
	"connection closed",
	"client is nil",
	"not connected",
	"not logged in",
}

// IsSessionFatal reports whether err means the current client handle is dead
// and must be replaced rather than retried against.
func IsSessionFatal(err error) bool {
	if err == nil {
		return false
	}

	for _, target := range []error{
		ErrNotConnected,
		ErrNotLoggedIn,
		whatsmeow.ErrNotConnected,
		whatsmeow.ErrNotLoggedIn,
		whatsmeow.ErrClientIsNil,
		whatsmeow.ErrIQDisconnected,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range sessionFatalFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
