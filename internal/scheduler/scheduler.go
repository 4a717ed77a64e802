package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	log "github.com/sirupsen/logrus"

	"github.com/i474232898/pws-ingest/internal/weather"
)

// Collector is the part of weather.Collector the scheduler drives.
type Collector interface {
	Station() weather.StationConfig
	CatchUp(ctx context.Context) (weather.Result, error)
}

// Scheduler periodically catches every configured station up to now.
type Scheduler struct {
	scheduler    *gocron.Scheduler
	collectors   []Collector
	interval     time.Duration
	cycleTimeout time.Duration
}

// New creates a new Scheduler.
func New(collectors []Collector, interval, cycleTimeout time.Duration) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	if cycleTimeout <= 0 {
		cycleTimeout = 2 * time.Minute
	}
	return &Scheduler{
		scheduler:    s,
		collectors:   collectors,
		interval:     interval,
		cycleTimeout: cycleTimeout,
	}
}

// Start schedules one job per station and starts the underlying scheduler. A station's
// next cycle is skipped while its previous one is still running.
func (s *Scheduler) Start() error {
	if len(s.collectors) == 0 {
		log.Info("scheduler: no stations configured; nothing to schedule")
		return nil
	}

	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 15
	}

	for _, c := range s.collectors {
		_, err := s.scheduler.Every(minutes).Minutes().SingletonMode().Tag(c.Station().ID).Do(func() {
			s.runStation(context.Background(), c)
		})
		if err != nil {
			return err
		}
	}

	s.scheduler.StartAsync()
	return nil
}

// RunOnce runs one cycle for every station in parallel and waits for all of them.
func (s *Scheduler) RunOnce(ctx context.Context) {
	log.Debug("scheduler: running collection cycle")

	var wg sync.WaitGroup
	for _, c := range s.collectors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runStation(ctx, c)
		}()
	}
	wg.Wait()
	log.Debug("scheduler: completed collection cycle")
}

func (s *Scheduler) runStation(parent context.Context, c Collector) {
	ctx, cancel := context.WithTimeout(parent, s.cycleTimeout)
	defer cancel()

	station := c.Station()
	entry := log.WithFields(log.Fields{"station": station.ID, "vendor": station.Type})

	res, err := c.CatchUp(ctx)
	var noData *weather.NoDataError
	switch {
	case errors.As(err, &noData):
		entry.Info("scheduler: vendor has no new data")
	case err != nil:
		entry.WithError(err).Error("scheduler: collection failed")
	default:
		entry.WithFields(log.Fields{
			"responses": len(res.ResponseIDs),
			"readings":  len(res.ReadingIDs),
		}).Info("scheduler: collection done")
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
