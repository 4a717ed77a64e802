package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type AppConfig struct {
	// DBPath is the SQLite file. Empty selects the in-memory store.
	DBPath string

	// StationsFile is the YAML station registry.
	StationsFile string

	// FetchInterval controls how often each station is polled.
	FetchInterval time.Duration

	HTTPTimeout  time.Duration // per vendor HTTP request
	CycleTimeout time.Duration // per station collection cycle

	BackfillDays     int
	DavisMaxParallel int

	LogLevel log.Level

	Port string
}

// Load reads configuration from the environment, after loading envFiles (default ".env").
func Load(envFiles ...string) (*AppConfig, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		log.WithError(err).Debug("no .env file loaded")
	}
	cfg := &AppConfig{}

	cfg.DBPath = os.Getenv("DB_PATH")
	cfg.StationsFile = getenvDefault("STATIONS_FILE", "stations.yaml")
	cfg.Port = getenvDefault("PORT", "8080")

	var err error
	if cfg.FetchInterval, err = getenvDuration("FETCH_INTERVAL", "15m"); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if cfg.CycleTimeout, err = getenvDuration("CYCLE_TIMEOUT", "2m"); err != nil {
		return nil, err
	}
	if cfg.BackfillDays, err = getenvInt("BACKFILL_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.DavisMaxParallel, err = getenvInt("DAVIS_MAX_PARALLEL", 3); err != nil {
		return nil, err
	}

	level, err := log.ParseLevel(getenvDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	if cfg.FetchInterval < time.Minute {
		return nil, fmt.Errorf("FETCH_INTERVAL must be at least 1m, got %s", cfg.FetchInterval)
	}
	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}
