package whatsapp

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/augustorsouza/whatsapp-web-server/pkg/env"
	"github.com/augustorsouza/whatsapp-web-server/pkg/log"
)

// RuntimeProfile is the environment-derived launch configuration for the
// client: where session state lives and which datastore driver backs it.
// Containerized deployments get fixed on-disk scratch paths; local runs keep
// state under the user's home directory.
type RuntimeProfile struct {
	Containerized   bool
	DataDir         string
	DatastoreDriver string
	DatastoreDSN    string
}

const (
	containerDataDir = "/data/whatsapp"
	localDataDirName = ".whatsapp-web-server"
)

// Lock artifacts a previous unclean shutdown can leave behind in the data
// directory. They block relaunch and are safe to delete at startup.
var staleLockFiles = []string{
	"SingletonLock",
	"SingletonCookie",
	"SingletonSocket",
	"session.lock",
}

// DetectProfile resolves the runtime profile from the environment.
// WHATSAPP_RUNTIME_ENV=container|local overrides detection; otherwise
// container markers are probed. WHATSAPP_DATA_DIR and WHATSAPP_DATASTORE_URI
// override the derived defaults.
func DetectProfile() RuntimeProfile {
	profile := RuntimeProfile{Containerized: detectContainer()}

	if dir, err := env.GetEnvString("WHATSAPP_DATA_DIR"); err == nil {
		profile.DataDir = dir
	} else if profile.Containerized {
		profile.DataDir = containerDataDir
	} else if home, err := os.UserHomeDir(); err == nil {
		profile.DataDir = filepath.Join(home, localDataDirName)
	} else {
		profile.DataDir = "data"
	}

	dsn := env.GetEnvStringOrDefault("WHATSAPP_DATASTORE_URI", "")
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		profile.DatastoreDriver = "pgx"
		profile.DatastoreDSN = normalizePostgresDSN(dsn)
	case dsn != "":
		profile.DatastoreDriver = "sqlite3"
		profile.DatastoreDSN = dsn
	default:
		profile.DatastoreDriver = "sqlite3"
		profile.DatastoreDSN = "file:" + filepath.Join(profile.DataDir, "session.db") + "?_foreign_keys=on&_busy_timeout=5000"
	}

	return profile
}

func detectContainer() bool {
	if v, err := env.GetEnvString("WHATSAPP_RUNTIME_ENV"); err == nil {
		return strings.EqualFold(v, "container") || strings.EqualFold(v, "containerized")
	}
	for _, marker := range []string{"/.dockerenv", "/run/.containerenv"} {
		if _, err := os.Stat(marker); err == nil {
			return true
		}
	}
	_, inKubernetes := os.LookupEnv("KUBERNETES_SERVICE_HOST")
	return inKubernetes
}

// EnsureDataDir creates the session data directory if missing.
func EnsureDataDir(profile RuntimeProfile) error {
	return os.MkdirAll(profile.DataDir, 0o755)
}

// CleanStaleLocks removes single-instance lock artifacts left in the data
// directory by a previous unclean shutdown. Returns how many were removed.
func CleanStaleLocks(dataDir string) int {
	removed := 0
	for _, name := range staleLockFiles {
		path := filepath.Join(dataDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.SessionOp("startup").WithError(err).Warn("Failed to remove stale lock file " + path)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.SessionOp("startup").WithField("removed", removed).Warn("Cleared stale lock artifacts from data directory")
	}
	return removed
}

func normalizePostgresDSN(dsn string) string {
	appendParam := func(current string, key string, value string) string {
		if strings.Contains(current, key+"=") {
			return current
		}
		separator := "?"
		if strings.Contains(current, "?") {
			if strings.HasSuffix(current, "?") || strings.HasSuffix(current, "&") {
				separator = ""
			} else {
				separator = "&"
			}
		}
		return current + separator + key + "=" + value
	}
	dsn = appendParam(dsn, "prefer_simple_protocol", "true")
	dsn = appendParam(dsn, "statement_cache_capacity", "0")
	dsn = appendParam(dsn, "default_query_exec_mode", "simple_protocol")
	return dsn
}
