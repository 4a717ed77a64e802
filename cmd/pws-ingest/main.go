package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	httpapi "github.com/i474232898/pws-ingest/internal/api/http"
	"github.com/i474232898/pws-ingest/internal/config"
	"github.com/i474232898/pws-ingest/internal/scheduler"
	"github.com/i474232898/pws-ingest/internal/stations"
	"github.com/i474232898/pws-ingest/internal/store"
	"github.com/i474232898/pws-ingest/internal/weather"
	"github.com/i474232898/pws-ingest/internal/weather/providers"
)

const dateLayout = "2006-01-02"

type options struct {
	station   string
	mode      string
	start     string
	end       string
	days      int
	overwrite bool
	envFile   string
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.station, "station", "", "Station id or code (default: every configured station)")
	flag.StringVar(&o.mode, "mode", "serve", "One of serve, current, catchup, historic, range")
	flag.StringVar(&o.start, "start", "", "First local date for range mode (YYYY-MM-DD)")
	flag.StringVar(&o.end, "end", "", "Last local date for range mode (YYYY-MM-DD, default: start)")
	flag.IntVar(&o.days, "days", weather.DefaultBackfillDays, "Day limit for historic mode")
	flag.BoolVar(&o.overwrite, "overwrite", false, "Allow historic mode on a station that already has readings")
	flag.StringVar(&o.envFile, "config-env", ".env", "Environment file to load before reading config")
	flag.Parse()
	return o
}

func main() {
	opts := parseFlags()

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	cfg, err := config.Load(opts.envFile)
	if err != nil {
		log.WithError(err).Error("failed to load config")
		os.Exit(2)
	}
	log.SetLevel(cfg.LogLevel)

	if err := run(opts, cfg); err != nil {
		msg, code := describe(err)
		log.WithError(err).Error(msg)
		os.Exit(code)
	}
}

func run(opts options, cfg *config.AppConfig) error {
	st, closeStore, err := openStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer closeStore()

	registry, err := stations.LoadFile(cfg.StationsFile)
	if err != nil {
		return err
	}

	selected := registry.List()
	if opts.station != "" {
		station, err := registry.LoadStationConfig(opts.station)
		if err != nil {
			return err
		}
		selected = []weather.StationConfig{station}
	}

	// Shared HTTP client for outbound vendor calls.
	deps := providers.Deps{
		Client:      &http.Client{Timeout: cfg.HTTPTimeout},
		MaxParallel: cfg.DavisMaxParallel,
	}
	collectors := make([]*weather.Collector, 0, len(selected))
	for _, station := range selected {
		api, err := providers.New(station, deps)
		if err != nil {
			return err
		}
		c, err := weather.NewCollector(station, api, st, weather.WithBackfillDays(cfg.BackfillDays))
		if err != nil {
			return err
		}
		collectors = append(collectors, c)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch opts.mode {
	case "serve":
		return serve(ctx, cfg, registry, st, collectors)
	case "current":
		return each(ctx, collectors, func(ctx context.Context, c *weather.Collector) (weather.Result, error) {
			return c.RequestCurrentWeather(ctx)
		})
	case "catchup":
		return each(ctx, collectors, func(ctx context.Context, c *weather.Collector) (weather.Result, error) {
			return c.CatchUp(ctx)
		})
	case "historic":
		return each(ctx, collectors, func(ctx context.Context, c *weather.Collector) (weather.Result, error) {
			return c.GetHistoricData(ctx, opts.overwrite, opts.days)
		})
	case "range":
		first, last, err := parseDates(opts.start, opts.end)
		if err != nil {
			return err
		}
		return each(ctx, collectors, func(ctx context.Context, c *weather.Collector) (weather.Result, error) {
			iv, err := weather.LocalDateRangeInterval(first, last, c.Station().Timezone)
			if err != nil {
				return weather.Result{}, err
			}
			return c.RequestAndStore(ctx, iv)
		})
	default:
		return usageError{fmt.Errorf("unknown mode %q", opts.mode)}
	}
}

func openStore(path string) (weather.Store, func(), error) {
	if path == "" {
		log.Warn("DB_PATH not set; readings are kept in memory only")
		return store.NewMemoryStore(), func() {}, nil
	}
	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, nil, err
	}
	return db, func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("error closing store")
		}
	}, nil
}

// each runs fn for every collector in turn and returns the first failure after trying them all.
func each(ctx context.Context, collectors []*weather.Collector, fn func(context.Context, *weather.Collector) (weather.Result, error)) error {
	var firstErr error
	for _, c := range collectors {
		entry := log.WithField("station", c.Station().ID)
		res, err := fn(ctx, c)
		if err != nil {
			entry.WithError(err).Error("collection failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		entry.WithFields(log.Fields{
			"responses": len(res.ResponseIDs),
			"readings":  len(res.ReadingIDs),
		}).Info("collection done")
	}
	return firstErr
}

func serve(ctx context.Context, cfg *config.AppConfig, registry weather.StationRegistry, st weather.Store, collectors []*weather.Collector) error {
	jobs := make([]scheduler.Collector, len(collectors))
	for i, c := range collectors {
		jobs[i] = c
	}
	sched := scheduler.New(jobs, cfg.FetchInterval, cfg.CycleTimeout)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "pws-ingest",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"service":  "pws-ingest",
			"stations": len(collectors),
		})
	})
	httpapi.RegisterRoutes(app, registry, st)

	go func() {
		log.WithField("port", cfg.Port).Info("http server listening")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.WithError(err).Warn("fiber server stopped")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Warn("error during shutdown")
	}
	return nil
}

func parseDates(start, end string) (time.Time, time.Time, error) {
	if start == "" {
		return time.Time{}, time.Time{}, usageError{errors.New("range mode needs --start")}
	}
	if end == "" {
		end = start
	}
	first, err := time.Parse(dateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, usageError{fmt.Errorf("invalid --start: %w", err)}
	}
	last, err := time.Parse(dateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, usageError{fmt.Errorf("invalid --end: %w", err)}
	}
	return first, last, nil
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// describe maps an error class to a log message and process exit code.
func describe(err error) (string, int) {
	var (
		usage     usageError
		malformed *weather.MalformedConfigError
		tz        *weather.TimezoneError
		order     *weather.IntervalOrderError
		noData    *weather.NoDataError
		limited   *weather.RateLimitExceededError
		transport *weather.TransportError
		transform *weather.TransformError
		integrity *weather.IntegrityError
	)
	switch {
	case errors.As(err, &usage), errors.As(err, &malformed), errors.As(err, &tz), errors.As(err, &order):
		return "invalid configuration or arguments", 2
	case errors.Is(err, weather.ErrStationNotFound):
		return "station not found", 3
	case errors.Is(err, weather.ErrStationHasReadings):
		return "station already has readings; pass --overwrite to backfill anyway", 3
	case errors.As(err, &noData):
		return "vendor returned no data", 4
	case errors.As(err, &limited):
		return "vendor rate limit exceeded", 5
	case errors.As(err, &transport):
		return "vendor request failed", 6
	case errors.As(err, &transform):
		return "vendor payload could not be transformed", 7
	case errors.As(err, &integrity):
		return "store rejected the write", 8
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "interrupted", 130
	default:
		return "pws-ingest failed", 1
	}
}
