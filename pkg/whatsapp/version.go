package whatsapp

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"golang.org/x/sync/singleflight"

	"github.com/augustorsouza/whatsapp-web-server/pkg/env"
)

// A stale WA Web version makes QR pairing fail with ClientOutdated, which the
// relay would otherwise only notice as an endless pairing loop. The refresh is
// throttled and collapsed so the cron routine and manual restarts can all
// trigger it safely.

var (
	versionRefreshGroup singleflight.Group

	versionRefreshMu sync.RWMutex
	versionRefreshAt time.Time
)

// RefreshWAVersion fetches the latest WhatsApp Web version and applies it
// globally via store.SetWAVersion. When force is false, calls within
// WHATSAPP_WAVERSION_REFRESH_MIN_INTERVAL (default 10m) of the last refresh
// are no-ops. Returns the active version and whether a fetch was performed.
func RefreshWAVersion(ctx context.Context, force bool) (store.WAVersionContainer, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	minInterval := env.GetEnvDurationOrDefault("WHATSAPP_WAVERSION_REFRESH_MIN_INTERVAL", 10*time.Minute)
	if !force && minInterval > 0 {
		versionRefreshMu.RLock()
		last := versionRefreshAt
		versionRefreshMu.RUnlock()
		if !last.IsZero() && time.Since(last) < minInterval {
			return store.GetWAVersion(), false, nil
		}
	}

	_, err, _ := versionRefreshGroup.Do("refresh", func() (interface{}, error) {
		httpClient := &http.Client{Timeout: 15 * time.Second}
		latest, err := whatsmeow.GetLatestVersion(ctx, httpClient)

		versionRefreshMu.Lock()
		versionRefreshAt = time.Now()
		versionRefreshMu.Unlock()

		if err != nil {
			return nil, err
		}
		if latest == nil {
			return nil, errors.New("latest WhatsApp Web version is nil")
		}
		store.SetWAVersion(*latest)
		return *latest, nil
	})
	if err != nil {
		return store.GetWAVersion(), true, err
	}
	return store.GetWAVersion(), true, nil
}
