package session

import (
	"context"
	"os"
	"sync"
	"time"

	qrCode "github.com/skip2/go-qrcode"

	"github.com/augustorsouza/whatsapp-web-server/pkg/env"
	"github.com/augustorsouza/whatsapp-web-server/pkg/log"
	"github.com/augustorsouza/whatsapp-web-server/pkg/whatsapp"
)

const (
	DefaultMaxRestartAttempts = 3
	DefaultRestartDelay       = 5 * time.Second
	DefaultDestroyWait        = 10 * time.Second
	DefaultDisconnectGrace    = 2 * time.Second
)

// Factory builds a fresh automation client wired to the controller's event
// intake. Called once at startup and once per restart.
type Factory func(ctx context.Context, handler whatsapp.EventHandler) (whatsapp.Client, error)

type Config struct {
	MaxRestartAttempts int
	RestartDelay       time.Duration
	DestroyWait        time.Duration
	DisconnectGrace    time.Duration
	QRPath             string
}

// ConfigFromEnv builds the controller configuration. qrPath is where the
// pairing artifact PNG is written while a session is unpaired.
func ConfigFromEnv(qrPath string) Config {
	return Config{
		MaxRestartAttempts: env.GetEnvIntOrDefault("SESSION_MAX_RESTART_ATTEMPTS", DefaultMaxRestartAttempts),
		RestartDelay:       env.GetEnvDurationOrDefault("SESSION_RESTART_DELAY", DefaultRestartDelay),
		DestroyWait:        env.GetEnvDurationOrDefault("SESSION_DESTROY_WAIT", DefaultDestroyWait),
		DisconnectGrace:    env.GetEnvDurationOrDefault("SESSION_DISCONNECT_GRACE", DefaultDisconnectGrace),
		QRPath:             qrPath,
	}
}

// Status is a point-in-time snapshot of the session state, shaped for the
// status endpoint.
type Status struct {
	Ready              bool `json:"ready"`
	Restarting         bool `json:"isRestarting"`
	RestartAttempts    int  `json:"restartAttempts"`
	MaxRestartAttempts int  `json:"maxRestartAttempts"`
	Exhausted          bool `json:"exhausted"`
	QRAvailable        bool `json:"qrAvailable"`
}

// Controller owns the single automation client handle. It is the only place
// that replaces the handle or flips readiness; everything else reads
// snapshots. Recovery is bounded: after MaxRestartAttempts failed automatic
// restarts the controller goes dormant until a manual restart resets it.
type Controller struct {
	cfg     Config
	factory Factory

	mu              sync.Mutex
	client          whatsapp.Client
	clientBorn      time.Time
	ready           bool
	restarting      bool
	restartAttempts int
	exhausted       bool
	qrAvailable     bool
	shuttingDown    bool
}

func New(cfg Config, factory Factory) *Controller {
	if cfg.MaxRestartAttempts <= 0 {
		cfg.MaxRestartAttempts = DefaultMaxRestartAttempts
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.DestroyWait <= 0 {
		cfg.DestroyWait = DefaultDestroyWait
	}
	return &Controller{cfg: cfg, factory: factory}
}

// Initialize builds the first client handle and begins its asynchronous
// startup. Later progress (pairing, readiness, failure) arrives as events.
func (c *Controller) Initialize(ctx context.Context) error {
	client, err := c.factory(ctx, c.HandleEvent)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.client = client
	c.clientBorn = time.Now()
	c.mu.Unlock()

	return client.Initialize(ctx)
}

// HandleEvent is the intake for client lifecycle events.
func (c *Controller) HandleEvent(evt interface{}) {
	switch e := evt.(type) {
	case whatsapp.EventQR:
		c.onQR(e.Code)
	case whatsapp.EventReady:
		c.onReady()
	case whatsapp.EventDisconnected:
		c.onDisconnected(e.Reason)
	case whatsapp.EventAuthFailure:
		c.onAuthFailure(e.Reason)
	}
}

func (c *Controller) onQR(code string) {
	if err := qrCode.WriteFile(code, qrCode.Medium, 512, c.cfg.QRPath); err != nil {
		log.SessionOp("qr").WithError(err).Error("Failed to write pairing artifact")
		return
	}

	c.mu.Lock()
	c.qrAvailable = true
	c.mu.Unlock()

	log.SessionOp("qr").Info("Pairing code received; artifact written to " + c.cfg.QRPath)
}

func (c *Controller) onReady() {
	c.mu.Lock()
	c.ready = true
	c.restartAttempts = 0
	c.exhausted = false
	c.mu.Unlock()

	// Pairing is done once a session is live; drop the artifact.
	c.removeQR()

	log.SessionOp("ready").Info("WhatsApp session is ready")
}

func (c *Controller) onDisconnected(reason string) {
	c.mu.Lock()
	c.ready = false
	schedule := !c.shuttingDown && !c.restarting && !c.exhausted
	if schedule && time.Since(c.clientBorn) < c.cfg.DisconnectGrace {
		// A handle this young is mid-replacement; a restart scheduled now
		// would double up with the one that just produced it.
		schedule = false
	}
	if schedule && c.restartAttempts >= c.cfg.MaxRestartAttempts {
		c.exhausted = true
		schedule = false
	}
	c.mu.Unlock()

	c.removeQR()

	entry := log.SessionOp("disconnected").WithField("reason", reason)
	if !schedule {
		entry.Warn("Session disconnected; no restart scheduled")
		return
	}
	entry.Warn("Session disconnected; scheduling restart")

	// The delay lets the underlying transport fully settle before relaunch.
	go func() {
		time.Sleep(c.cfg.RestartDelay)
		c.Restart(false)
	}()
}

func (c *Controller) onAuthFailure(reason string) {
	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()

	log.SessionOp("auth_failure").WithField("reason", reason).Error("Session authentication failed")
}

// Restart tears down the current handle and builds a replacement. Concurrent
// triggers collapse into one attempt: the first caller wins, every other
// caller gets false ("already in progress"). A manual restart resets the
// attempt counter and clears exhaustion before running.
func (c *Controller) Restart(manual bool) bool {
	c.mu.Lock()
	if c.shuttingDown || c.restarting {
		c.mu.Unlock()
		return false
	}
	if manual {
		c.restartAttempts = 0
		c.exhausted = false
	}
	if c.exhausted {
		c.mu.Unlock()
		return false
	}
	if c.restartAttempts >= c.cfg.MaxRestartAttempts {
		c.exhausted = true
		c.mu.Unlock()
		return false
	}
	c.restarting = true
	c.restartAttempts++
	attempt := c.restartAttempts
	old := c.client
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.restarting = false
		c.mu.Unlock()
	}()

	entry := log.SessionOp("restart").WithField("attempt", attempt).WithField("manual", manual)
	entry.Warn("Restarting WhatsApp client")

	// A half-dead handle must not block replacement; teardown failures are
	// logged and abandoned after a bounded wait.
	if old != nil {
		c.destroyBounded(old)
	}

	if err := c.Initialize(context.Background()); err != nil {
		entry.WithError(err).Error("Client restart attempt failed")

		c.mu.Lock()
		exhausted := c.restartAttempts >= c.cfg.MaxRestartAttempts
		if exhausted {
			c.exhausted = true
		}
		stopping := c.shuttingDown
		c.mu.Unlock()

		if exhausted {
			entry.Error("Restart attempts exhausted; POST /restart to try again")
		} else if !stopping {
			go func() {
				time.Sleep(c.cfg.RestartDelay)
				c.Restart(false)
			}()
		}
		return true
	}

	entry.Info("Replacement client initialized; waiting for ready event")
	return true
}

// TriggerRestart schedules a background restart unless one is already in
// flight, the controller is exhausted, or the process is shutting down.
func (c *Controller) TriggerRestart() bool {
	c.mu.Lock()
	blocked := c.restarting || c.exhausted || c.shuttingDown
	c.mu.Unlock()
	if blocked {
		return false
	}
	go c.Restart(false)
	return true
}

// SessionLost is the dispatcher's signal that a call failed session-fatally:
// readiness drops immediately and a background restart is triggered.
func (c *Controller) SessionLost() {
	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()
	c.TriggerRestart()
}

func (c *Controller) destroyBounded(client whatsapp.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DestroyWait)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- client.Destroy(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			log.SessionOp("destroy").WithError(err).Warn("Old client teardown failed; continuing with replacement")
		}
	case <-ctx.Done():
		log.SessionOp("destroy").Warn("Old client teardown timed out; abandoning handle")
	}
}

func (c *Controller) removeQR() {
	c.mu.Lock()
	had := c.qrAvailable
	c.qrAvailable = false
	c.mu.Unlock()

	if had {
		if err := os.Remove(c.cfg.QRPath); err != nil && !os.IsNotExist(err) {
			log.SessionOp("qr").WithError(err).Warn("Failed to remove pairing artifact")
		}
	}
}

func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Client returns the current handle. May be nil before Initialize or after
// Shutdown.
func (c *Controller) Client() whatsapp.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// QRPath reports the pairing artifact location and whether one is pending.
func (c *Controller) QRPath() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.QRPath, c.qrAvailable
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Ready:              c.ready,
		Restarting:         c.restarting,
		RestartAttempts:    c.restartAttempts,
		MaxRestartAttempts: c.cfg.MaxRestartAttempts,
		Exhausted:          c.exhausted,
		QRAvailable:        c.qrAvailable,
	}
}

// Shutdown stops the controller, removes the pairing artifact and destroys
// the client handle, waiting for teardown to settle within ctx. Idempotent.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		return nil
	}
	c.shuttingDown = true
	c.ready = false
	client := c.client
	c.client = nil
	c.mu.Unlock()

	c.removeQR()

	if client == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- client.Destroy(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
