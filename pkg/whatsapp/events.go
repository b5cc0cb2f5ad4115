package whatsapp

// Lifecycle events emitted by a Client. Consumers receive them through an
// EventHandler and type-switch, the same way whatsmeow delivers its own events.
type (
	// EventQR carries a fresh pairing code. Emitted repeatedly while the
	// session is unpaired; each code supersedes the previous one.
	EventQR struct {
		Code string
	}

	// EventReady signals an authenticated, connected session.
	EventReady struct{}

	// EventDisconnected signals the session dropped and the handle should be
	// considered unusable until replaced.
	EventDisconnected struct {
		Reason string
	}

	// EventAuthFailure signals pairing or login was rejected. Reconnecting the
	// same handle will not help; the session needs to be re-paired.
	EventAuthFailure struct {
		Reason string
	}
)

type EventHandler func(evt interface{})
