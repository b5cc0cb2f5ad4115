package internal

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/augustorsouza/whatsapp-web-server/internal/dispatch"
	"github.com/augustorsouza/whatsapp-web-server/internal/session"
	"github.com/augustorsouza/whatsapp-web-server/pkg/env"
	"github.com/augustorsouza/whatsapp-web-server/pkg/log"
	pkgWhatsApp "github.com/augustorsouza/whatsapp-web-server/pkg/whatsapp"
)

var (
	sessionController *session.Controller
	messageDispatcher *dispatch.Dispatcher
	startedAt         time.Time
)

// Startup prepares the data directory, opens the session datastore and brings
// up the lifecycle controller with its first client handle. Must run before
// Routes.
func Startup() {
	log.Print(nil).Info("Running Startup Tasks")

	startedAt = time.Now()
	ctx := context.Background()

	profile := pkgWhatsApp.DetectProfile()
	log.Print(nil).
		WithField("containerized", profile.Containerized).
		WithField("data_dir", profile.DataDir).
		WithField("driver", profile.DatastoreDriver).
		Info("Resolved runtime profile")

	if err := pkgWhatsApp.EnsureDataDir(profile); err != nil {
		log.Print(nil).WithError(err).Fatal("Failed to create data directory")
	}
	pkgWhatsApp.CleanStaleLocks(profile.DataDir)

	qrPath := env.GetEnvStringOrDefault("WHATSAPP_QR_PATH", filepath.Join(profile.DataDir, "qr.png"))
	// A pairing artifact from a previous run is always stale.
	_ = os.Remove(qrPath)

	if err := pkgWhatsApp.InitDatastore(ctx, profile); err != nil {
		log.Print(nil).WithError(err).Fatal("Failed to initialize WhatsApp datastore")
	}

	factory := func(ctx context.Context, handler pkgWhatsApp.EventHandler) (pkgWhatsApp.Client, error) {
		return pkgWhatsApp.NewClient(ctx, profile, handler)
	}

	sessionController = session.New(session.ConfigFromEnv(qrPath), factory)
	messageDispatcher = dispatch.New(sessionController)

	if err := sessionController.Initialize(ctx); err != nil {
		log.Print(nil).WithError(err).Error("Initial client startup failed; scheduling restart")
		sessionController.TriggerRestart()
	}
}

// Shutdown tears down the session and closes the datastore. Idempotent.
func Shutdown(ctx context.Context) {
	if sessionController != nil {
		if err := sessionController.Shutdown(ctx); err != nil {
			log.Print(nil).WithError(err).Warn("Session shutdown did not settle cleanly")
		}
	}
	if err := pkgWhatsApp.CloseDatastore(); err != nil {
		log.Print(nil).WithError(err).Warn("Failed to close WhatsApp datastore")
	}
}
