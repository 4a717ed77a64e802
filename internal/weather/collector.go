package weather

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// DefaultBackfillDays bounds a catch-up for a station that has never reported.
const DefaultBackfillDays = 30

// Result lists what one collection call persisted.
type Result struct {
	ResponseIDs []string `json:"responseIds"`
	ReadingIDs  []int64  `json:"readingIds"`
}

func (r *Result) add(o Result) {
	r.ResponseIDs = append(r.ResponseIDs, o.ResponseIDs...)
	r.ReadingIDs = append(r.ReadingIDs, o.ReadingIDs...)
}

// Collector drives one station's request -> persist -> transform -> persist cycle.
type Collector struct {
	station      StationConfig
	api          WeatherAPI
	store        Store
	now          func() time.Time
	backfillDays int

	mu   sync.Mutex
	last Result
}

// CollectorOption customizes a Collector.
type CollectorOption func(*Collector)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) { c.now = now }
}

// WithBackfillDays sets the day limit used by CatchUp when the station has no readings.
func WithBackfillDays(days int) CollectorOption {
	return func(c *Collector) {
		if days > 0 {
			c.backfillDays = days
		}
	}
}

// NewCollector wires a station to its adapter and store. The adapter's vendor tag must match
// the station type.
func NewCollector(station StationConfig, api WeatherAPI, store Store, opts ...CollectorOption) (*Collector, error) {
	if api == nil || store == nil {
		return nil, fmt.Errorf("collector for %s needs an adapter and a store", station.ID)
	}
	if api.Type() != station.Type {
		return nil, &MalformedConfigError{
			StationID: station.ID,
			Reason:    fmt.Sprintf("adapter %s does not match station type %s", api.Type(), station.Type),
		}
	}
	c := &Collector{
		station:      station,
		api:          api,
		store:        store,
		now:          time.Now,
		backfillDays: DefaultBackfillDays,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Station returns the station this collector serves.
func (c *Collector) Station() StationConfig {
	return c.station
}

// Last returns a copy of the most recent successful result.
func (c *Collector) Last() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Result{
		ResponseIDs: append([]string(nil), c.last.ResponseIDs...),
		ReadingIDs:  append([]int64(nil), c.last.ReadingIDs...),
	}
}

func (c *Collector) logger(iv TimeInterval) *log.Entry {
	return log.WithFields(log.Fields{
		"station":  c.station.ID,
		"vendor":   c.station.Type,
		"interval": iv.String(),
	})
}

// RequestAndStore fetches iv from the vendor and persists each response with its readings.
//
// A response without data aborts the cycle with a NoDataError; responses committed before it
// stay committed. A response that fails to transform is persisted without readings before its
// TransformError is returned.
func (c *Collector) RequestAndStore(ctx context.Context, iv TimeInterval) (Result, error) {
	return c.requestAndStore(ctx, iv, time.Time{})
}

// requestAndStore drops readings at or before after when after is set. A response left with
// no new readings is still stored.
func (c *Collector) requestAndStore(ctx context.Context, iv TimeInterval, after time.Time) (Result, error) {
	if err := iv.Validate(); err != nil {
		return Result{}, err
	}
	logger := c.logger(iv)

	logger.Debug("requesting")
	resps, err := c.api.FetchRaw(ctx, iv)
	if err != nil {
		logger.WithError(err).Warn("request failed")
		return Result{}, err
	}
	if len(resps) == 0 {
		return Result{}, &TransportError{Vendor: c.station.Type, Interval: iv, Err: errors.New("no response")}
	}

	var res Result
	for _, resp := range resps {
		entry := logger.WithField("response", resp.ID)
		if !c.api.HasData(resp) {
			entry.Info("no data in response")
			return res, &NoDataError{StationID: c.station.ID, ResponseID: resp.ID, Interval: resp.Interval()}
		}

		entry.Debug("transforming")
		readings, err := c.api.Transform([]RawResponse{resp})
		if err == nil && len(readings) == 0 {
			err = &TransformError{StationID: c.station.ID, ResponseID: resp.ID}
		}
		if err != nil {
			var te *TransformError
			if !errors.As(err, &te) {
				err = &TransformError{StationID: c.station.ID, ResponseID: resp.ID, Err: err}
			}
			entry.WithError(err).Warn("transform failed; keeping raw response")
			if perr := c.persist(ctx, &res, resp, nil); perr != nil {
				return res, errors.Join(err, perr)
			}
			return res, err
		}

		if !after.IsZero() {
			readings = lo.Filter(readings, func(r Reading, _ int) bool { return r.DataDatetime.After(after) })
		}

		entry.Debug("persisting")
		if err := c.persist(ctx, &res, resp, readings); err != nil {
			entry.WithError(err).Error("persist failed")
			return res, err
		}
	}

	c.mu.Lock()
	c.last = res
	c.mu.Unlock()

	logger.WithFields(log.Fields{
		"responses": len(res.ResponseIDs),
		"readings":  len(res.ReadingIDs),
	}).Info("collection complete")
	return res, nil
}

// persist appends resp and its readings in one transaction and records the ids in res.
func (c *Collector) persist(ctx context.Context, res *Result, resp RawResponse, readings []Reading) error {
	respID, readingIDs, err := c.store.Append(ctx, resp, readings)
	if err != nil {
		return fmt.Errorf("persist response %s: %w", resp.ID, err)
	}
	res.ResponseIDs = append(res.ResponseIDs, respID)
	res.ReadingIDs = append(res.ReadingIDs, readingIDs...)
	return nil
}

// RequestCurrentWeather stores the standard previous-14-minute interval.
func (c *Collector) RequestCurrentWeather(ctx context.Context) (Result, error) {
	iv, err := PreviousInterval(c.now().UTC(), StandardLookback)
	if err != nil {
		return Result{}, err
	}
	return c.RequestAndStore(ctx, iv)
}

// CatchUp requests everything between the station's watermark and now in one cycle. Readings
// at or before the watermark are already stored and are not written again. A station with no
// readings gets a bounded historic backfill instead.
func (c *Collector) CatchUp(ctx context.Context) (Result, error) {
	watermark, ok, err := c.store.LatestReadingTimestamp(ctx, c.station.ID)
	if err != nil {
		return Result{}, fmt.Errorf("read watermark for %s: %w", c.station.ID, err)
	}
	if !ok {
		log.WithField("station", c.station.ID).Infof("no readings yet; backfilling %d days", c.backfillDays)
		return c.GetHistoricData(ctx, false, c.backfillDays)
	}

	now := c.now().UTC().Truncate(time.Minute)
	if now.Sub(watermark) < c.station.Sampling() {
		log.WithFields(log.Fields{"station": c.station.ID, "watermark": watermark}).Debug("already current")
		return Result{}, nil
	}
	iv, err := NewInterval(watermark.UTC(), now)
	if err != nil {
		return Result{}, err
	}
	return c.requestAndStore(ctx, iv, watermark)
}

// GetHistoricData walks back one day at a time from today, stopping at the first day without
// data or after dayLimit days. It refuses to run on a populated station unless overwrite is set.
func (c *Collector) GetHistoricData(ctx context.Context, overwrite bool, dayLimit int) (Result, error) {
	if !overwrite {
		has, err := c.store.HasAnyReadings(ctx, c.station.ID)
		if err != nil {
			return Result{}, fmt.Errorf("check readings for %s: %w", c.station.ID, err)
		}
		if has {
			return Result{}, ErrStationHasReadings
		}
	}
	if dayLimit <= 0 {
		dayLimit = c.backfillDays
	}

	now := c.now().UTC().Truncate(time.Minute)
	today := OneDayInterval(now)
	first := 0
	if !now.After(today.Start) {
		// Today has not started yet; begin with yesterday.
		first = 1
	}
	var total Result
	for day := first; day < first+dayLimit; day++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		iv := today.DaysBefore(day).ClipEnd(now)
		res, err := c.RequestAndStore(ctx, iv)
		total.add(res)

		var noData *NoDataError
		if errors.As(err, &noData) {
			log.WithFields(log.Fields{"station": c.station.ID, "day": iv.Start.Format(time.DateOnly)}).
				Info("vendor history exhausted")
			break
		}
		if err != nil {
			return total, err
		}
	}

	c.mu.Lock()
	c.last = total
	c.mu.Unlock()
	return total, nil
}
