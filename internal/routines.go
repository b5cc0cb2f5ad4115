package internal

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/augustorsouza/whatsapp-web-server/pkg/env"
	"github.com/augustorsouza/whatsapp-web-server/pkg/log"
	pkgWhatsApp "github.com/augustorsouza/whatsapp-web-server/pkg/whatsapp"
)

// Routines registers the periodic background tasks: a session health
// reconciliation pass and an optional WA Web version refresh.
func Routines(cron *cron.Cron) {
	log.Print(nil).Info("Running Routine Tasks")

	if env.GetEnvBoolOrDefault("SESSION_ENABLE_HEALTH_CHECK_CRON", true) {
		_, err := cron.AddFunc("0 */5 * * * *", func() {
			st := sessionController.Status()
			entry := log.SessionOp("health").
				WithField("ready", st.Ready).
				WithField("restarting", st.Restarting).
				WithField("restart_attempts", st.RestartAttempts)

			if st.Ready || st.Restarting || st.Exhausted {
				entry.Info("Session health snapshot")
				return
			}

			// Not ready, not recovering, not exhausted: a disconnect event was
			// missed somewhere. Re-kick recovery.
			entry.Warn("Session idle and not ready; triggering restart")
			sessionController.TriggerRestart()
		})
		if err != nil {
			log.Print(nil).WithError(err).Error("Failed to add health check cron job")
		}
	} else {
		log.Print(nil).Info("Health check cron disabled; relying on client event handlers")
	}

	if env.GetEnvBoolOrDefault("WHATSAPP_ENABLE_WAVERSION_REFRESH_CRON", false) {
		spec := env.GetEnvStringOrDefault("WHATSAPP_WAVERSION_REFRESH_CRON_SPEC", "0 0 3 * * *")
		_, err := cron.AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			version, refreshed, err := pkgWhatsApp.RefreshWAVersion(ctx, false)
			if err != nil {
				log.Print(nil).WithError(err).Error("WA Web version refresh failed")
				return
			}
			log.Print(nil).
				WithField("version", version.String()).
				WithField("refreshed", refreshed).
				Info("WA Web version refresh completed")
		})
		if err != nil {
			log.Print(nil).WithError(err).Error("Failed to add WA Web version refresh cron job")
		} else {
			log.Print(nil).WithField("spec", spec).Info("WA Web version refresh cron enabled")
		}
	}

	cron.Start()
}
