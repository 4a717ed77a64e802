package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/i474232898/pws-ingest/internal/weather"
)

// Deps are the collaborators injected into every adapter.
type Deps struct {
	Client *http.Client

	// BaseURLs overrides a vendor's default endpoint, keyed by station type.
	BaseURLs map[weather.StationType]string

	// Backoff overrides DefaultBackoff.
	Backoff *BackoffConfig

	// Sleep waits out vendor-mandated lockouts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// MaxParallel caps concurrent sub-requests for vendors that allow them.
	MaxParallel int
}

func (d Deps) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (d Deps) backoff() BackoffConfig {
	if d.Backoff != nil {
		return *d.Backoff
	}
	return DefaultBackoff
}

func (d Deps) baseURL(t weather.StationType, def string) string {
	if u, ok := d.BaseURLs[t]; ok && u != "" {
		return u
	}
	return def
}

func (d Deps) sleep() func(ctx context.Context, dur time.Duration) error {
	if d.Sleep != nil {
		return d.Sleep
	}
	return sleepContext
}

func (d Deps) maxParallel() int {
	if d.MaxParallel > 0 {
		return d.MaxParallel
	}
	return 3
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Constructor builds an adapter for one station.
type Constructor func(station weather.StationConfig, deps Deps) (weather.WeatherAPI, error)

// constructors maps each vendor tag to its adapter.
var constructors = map[weather.StationType]Constructor{
	weather.StationDavis:    func(s weather.StationConfig, d Deps) (weather.WeatherAPI, error) { return NewDavisProvider(s, d) },
	weather.StationOnset:    func(s weather.StationConfig, d Deps) (weather.WeatherAPI, error) { return NewOnsetProvider(s, d) },
	weather.StationZentra:   func(s weather.StationConfig, d Deps) (weather.WeatherAPI, error) { return NewZentraProvider(s, d) },
	weather.StationRainwise: func(s weather.StationConfig, d Deps) (weather.WeatherAPI, error) { return NewRainwiseProvider(s, d) },
	weather.StationSpectrum: func(s weather.StationConfig, d Deps) (weather.WeatherAPI, error) { return NewSpectrumProvider(s, d) },
	weather.StationLocomos:  func(s weather.StationConfig, d Deps) (weather.WeatherAPI, error) { return NewLocomosProvider(s, d) },
}

// New builds the adapter matching the station's vendor tag.
func New(station weather.StationConfig, deps Deps) (weather.WeatherAPI, error) {
	ctor, ok := constructors[station.Type]
	if !ok {
		return nil, &weather.MalformedConfigError{
			StationID: station.ID,
			Reason:    fmt.Sprintf("unsupported station type %q", station.Type),
		}
	}
	return ctor(station, deps)
}

// expectType guards constructors against a station declared for another vendor.
func expectType(station weather.StationConfig, want weather.StationType) error {
	if station.Type != want {
		return &weather.MalformedConfigError{
			StationID: station.ID,
			Reason:    fmt.Sprintf("station type %s cannot use the %s adapter", station.Type, want),
		}
	}
	return nil
}

// requireSecrets checks that every named secret is present.
func requireSecrets(station weather.StationConfig, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if station.Secret(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &weather.MalformedConfigError{
			StationID: station.ID,
			Reason:    fmt.Sprintf("missing secrets %v", missing),
		}
	}
	return nil
}

// stationLocation loads the station zone, reporting a bad zone as malformed config.
func stationLocation(station weather.StationConfig) (*time.Location, error) {
	loc, err := station.Location()
	if err != nil {
		return nil, &weather.MalformedConfigError{StationID: station.ID, Reason: "bad timezone", Err: err}
	}
	return loc, nil
}
