package whatsapp

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mau.fi/whatsmeow"
)

func TestIsSessionFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil", nil, false},
		{"session closed text", errors.New("Protocol error: Session closed. Most likely the page has been closed"), true},
		{"stream replaced text", errors.New("got stream replaced by another session"), true},
		{"websocket text", errors.New("websocket disconnected before response"), true},
		{"local not connected sentinel", ErrNotConnected, true},
		{"local not logged in sentinel", ErrNotLoggedIn, true},
		{"whatsmeow not connected", whatsmeow.ErrNotConnected, true},
		{"whatsmeow iq disconnected", whatsmeow.ErrIQDisconnected, true},
		{"wrapped sentinel", fmt.Errorf("send text: %w", whatsmeow.ErrNotLoggedIn), true},
		{"rate limit", errors.New("rate-overlimit"), false},
		{"server error", errors.New("server returned error 500"), false},
		{"context deadline", errors.New("context deadline exceeded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsSessionFatal(tt.err))
		})
	}
}
