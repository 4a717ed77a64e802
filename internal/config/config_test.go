package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"DB_PATH", "STATIONS_FILE", "FETCH_INTERVAL", "HTTP_TIMEOUT", "CYCLE_TIMEOUT",
	"PORT", "LOG_LEVEL", "BACKFILL_DAYS", "DAVIS_MAX_PARALLEL",
}

// clearEnv blanks every key for the test; t.Setenv restores the previous values afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	require.Empty(t, cfg.DBPath)
	require.Equal(t, "stations.yaml", cfg.StationsFile)
	require.Equal(t, 15*time.Minute, cfg.FetchInterval)
	require.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	require.Equal(t, 2*time.Minute, cfg.CycleTimeout)
	require.Equal(t, 30, cfg.BackfillDays)
	require.Equal(t, 3, cfg.DavisMaxParallel)
	require.Equal(t, log.InfoLevel, cfg.LogLevel)
	require.Equal(t, "8080", cfg.Port)
}

func TestLoadFromEnvFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DB_PATH=/var/lib/pws/pws.db\nFETCH_INTERVAL=5m\nLOG_LEVEL=debug\nBACKFILL_DAYS=7\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/pws/pws.db", cfg.DBPath)
	require.Equal(t, 5*time.Minute, cfg.FetchInterval)
	require.Equal(t, log.DebugLevel, cfg.LogLevel)
	require.Equal(t, 7, cfg.BackfillDays)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string][2]string{
		"bad duration": {"HTTP_TIMEOUT", "soon"},
		"negative":     {"CYCLE_TIMEOUT", "-1s"},
		"bad int":      {"BACKFILL_DAYS", "many"},
		"zero int":     {"DAVIS_MAX_PARALLEL", "0"},
		"bad level":    {"LOG_LEVEL", "chatty"},
		"too frequent": {"FETCH_INTERVAL", "10s"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(kv[0], kv[1])

			_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
			require.Error(t, err)
		})
	}
}
