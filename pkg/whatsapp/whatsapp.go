package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/augustorsouza/whatsapp-web-server/pkg/log"
)

// Group is a joined group chat as seen by the relay: stable JID plus the
// human-readable display name used for name-based resolution.
type Group struct {
	JID  string
	Name string
}

// Client is the automation capability the relay drives. It is treated as a
// black box with unpredictable latency; every call can fail session-fatally
// (see IsSessionFatal). Exactly one live Client exists at a time and it is
// replaced, never repaired, after a fatal failure.
type Client interface {
	// Initialize begins asynchronous startup. For an unpaired session this
	// starts the QR pairing flow; progress surfaces only through events.
	Initialize(ctx context.Context) error
	// Groups lists joined group chats.
	Groups(ctx context.Context) ([]Group, error)
	// SendText delivers a text message to the chat JID and returns the
	// message ID.
	SendText(ctx context.Context, chatJID string, text string) (string, error)
	// Destroy tears the session transport down. Idempotent.
	Destroy(ctx context.Context) error
}

var Datastore *sqlstore.Container

const qrChannelWaitTimeout = 2 * time.Minute

// InitDatastore opens the whatsmeow session store described by the profile
// and upgrades its schema. Must be called once before NewClient.
func InitDatastore(ctx context.Context, profile RuntimeProfile) error {
	log.SessionOp("datastore").Info("Initializing WhatsApp datastore with driver=" + profile.DatastoreDriver)

	datastore, err := sqlstore.New(ctx, profile.DatastoreDriver, profile.DatastoreDSN, nil)
	if err != nil {
		return fmt.Errorf("open session datastore: %w", err)
	}
	if err := datastore.Upgrade(ctx); err != nil {
		return fmt.Errorf("upgrade session datastore schema: %w", err)
	}

	Datastore = datastore
	return nil
}

// CloseDatastore closes the session store. Safe to call when never initialized.
func CloseDatastore() error {
	if Datastore == nil {
		return nil
	}
	err := Datastore.Close()
	Datastore = nil
	return err
}

type meowClient struct {
	wa       *whatsmeow.Client
	handler  EventHandler
	cancelQR context.CancelFunc
}

// NewClient builds a client bound to the single stored device (creating one
// when the store is empty) and wires whatsmeow events into relay lifecycle
// events delivered to handler.
func NewClient(ctx context.Context, profile RuntimeProfile, handler EventHandler) (Client, error) {
	if Datastore == nil {
		return nil, errors.New("whatsapp datastore is not initialized")
	}

	device, err := Datastore.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device from datastore: %w", err)
	}

	store.DeviceProps.Os = proto.String(runtime.GOOS)
	store.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()
	store.DeviceProps.RequireFullSync = proto.Bool(false)

	wa := whatsmeow.NewClient(device, nil)
	// Restart policy is owned by the session controller; whatsmeow's own
	// reconnect loop would race it.
	wa.EnableAutoReconnect = false
	wa.AutoTrustIdentity = true

	client := &meowClient{wa: wa, handler: handler}
	wa.AddEventHandler(client.translateEvent)
	return client, nil
}

func (m *meowClient) emit(evt interface{}) {
	if m.handler != nil {
		m.handler(evt)
	}
}

func (m *meowClient) translateEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		m.emit(EventReady{})
	case *events.Disconnected:
		m.emit(EventDisconnected{Reason: "stream disconnected"})
	case *events.StreamReplaced:
		m.emit(EventDisconnected{Reason: "stream replaced by another session"})
	case *events.TemporaryBan:
		m.emit(EventDisconnected{Reason: fmt.Sprintf("temporarily banned: %s (expires %s)", e.Code, e.Expire)})
	case *events.ConnectFailure:
		m.emit(EventDisconnected{Reason: fmt.Sprintf("connect failure: %s", e.Reason)})
	case *events.ClientOutdated:
		m.emit(EventAuthFailure{Reason: "client version is outdated"})
	case *events.LoggedOut:
		m.emit(EventAuthFailure{Reason: fmt.Sprintf("logged out: %s", e.Reason)})
	case *events.KeepAliveTimeout:
		// whatsmeow retries keepalives itself; a real drop follows as Disconnected.
		log.SessionOp("keepalive").WithField("error_count", e.ErrorCount).Warn("Client keepalive timeout")
	}
}

func (m *meowClient) Initialize(ctx context.Context) error {
	if m.wa.Store.ID != nil {
		return m.wa.Connect()
	}

	// Unpaired session: open the QR channel before connecting, then pump
	// pairing codes to the handler until login or timeout.
	qrCtx, cancel := context.WithTimeout(context.Background(), qrChannelWaitTimeout)
	qrChan, err := m.wa.GetQRChannel(qrCtx)
	if err != nil {
		cancel()
		if errors.Is(err, whatsmeow.ErrQRStoreContainsID) {
			return m.wa.Connect()
		}
		return fmt.Errorf("open qr channel: %w", err)
	}
	m.cancelQR = cancel

	if err := m.wa.Connect(); err != nil {
		cancel()
		return fmt.Errorf("connect for pairing: %w", err)
	}

	go m.pumpQR(qrChan)
	return nil
}

func (m *meowClient) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			m.emit(EventQR{Code: evt.Code})
		case whatsmeow.QRChannelSuccess.Event:
			// Readiness is signaled by events.Connected.
			return
		case whatsmeow.QRChannelTimeout.Event:
			m.emit(EventDisconnected{Reason: "qr pairing window timed out"})
			return
		case whatsmeow.QRChannelClientOutdated.Event:
			m.emit(EventAuthFailure{Reason: "client version is outdated for QR pairing"})
			return
		case whatsmeow.QRChannelScannedWithoutMultidevice.Event:
			m.emit(EventAuthFailure{Reason: "qr scanned without multi-device enabled"})
			return
		case whatsmeow.QRChannelErrUnexpectedEvent.Event:
			m.emit(EventDisconnected{Reason: "qr channel entered an unexpected state"})
			return
		case "error":
			reason := "qr channel reported an unspecified error"
			if evt.Error != nil {
				reason = evt.Error.Error()
			}
			m.emit(EventDisconnected{Reason: reason})
			return
		}
	}
}

func (m *meowClient) healthy() error {
	if !m.wa.IsConnected() {
		return ErrNotConnected
	}
	if !m.wa.IsLoggedIn() {
		return ErrNotLoggedIn
	}
	return nil
}

func (m *meowClient) Groups(ctx context.Context) ([]Group, error) {
	if err := m.healthy(); err != nil {
		return nil, err
	}
	joined, err := m.wa.GetJoinedGroups(ctx)
	if err != nil {
		return nil, err
	}
	groups := make([]Group, 0, len(joined))
	for _, info := range joined {
		groups = append(groups, Group{JID: info.JID.String(), Name: info.Name})
	}
	return groups, nil
}

func (m *meowClient) SendText(ctx context.Context, chatJID string, text string) (string, error) {
	if err := m.healthy(); err != nil {
		return "", err
	}
	jid, err := types.ParseJID(chatJID)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidJID, chatJID)
	}
	msgExtra := whatsmeow.SendRequestExtra{ID: m.wa.GenerateMessageID()}
	msgContent := &waE2E.Message{
		Conversation: proto.String(text),
	}
	if _, err := m.wa.SendMessage(ctx, jid, msgContent, msgExtra); err != nil {
		return "", err
	}
	return msgExtra.ID, nil
}

func (m *meowClient) Destroy(ctx context.Context) error {
	if m.cancelQR != nil {
		m.cancelQR()
		m.cancelQR = nil
	}
	m.wa.Disconnect()
	return nil
}
