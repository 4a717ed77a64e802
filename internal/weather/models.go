package weather

import (
	"fmt"
	"strings"
	"time"
)

// StationType identifies the vendor cloud API a station reports through.
type StationType string

const (
	StationDavis    StationType = "DAVIS"
	StationOnset    StationType = "ONSET"
	StationZentra   StationType = "ZENTRA"
	StationRainwise StationType = "RAINWISE"
	StationSpectrum StationType = "SPECTRUM"
	StationLocomos  StationType = "LOCOMOS"
)

// StationTypes lists every supported vendor in a stable order.
var StationTypes = []StationType{
	StationDavis,
	StationOnset,
	StationZentra,
	StationRainwise,
	StationSpectrum,
	StationLocomos,
}

// ParseStationType normalizes a vendor tag such as "davis" or "DAVIS".
func ParseStationType(s string) (StationType, error) {
	t := StationType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range StationTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown station type %q", s)
}

// StationConfig is the read-only description of one station, owned by the station registry.
type StationConfig struct {
	ID       string      `json:"id" yaml:"id" validate:"required"`
	Code     string      `json:"code,omitempty" yaml:"code"`
	Type     StationType `json:"type" yaml:"type" validate:"required"`
	Timezone string      `json:"timezone" yaml:"timezone" validate:"required,timezone"`

	// SamplingInterval is the number of minutes between vendor readings.
	SamplingInterval int `json:"samplingInterval" yaml:"sampling_interval" validate:"oneof=5 15 30"`

	// Secrets holds vendor credentials and identifiers (serial numbers, tokens, keys).
	Secrets map[string]string `json:"-" yaml:"secrets"`

	// LeafWetnessThreshold overrides the vendor calibration constant when set.
	LeafWetnessThreshold *float64 `json:"leafWetnessThreshold,omitempty" yaml:"leaf_wetness_threshold"`
}

// Location loads the station's IANA zone.
func (s StationConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, &TimezoneError{Zone: s.Timezone, Err: err}
	}
	return loc, nil
}

// Sampling returns the sampling interval as a duration, defaulting to 15 minutes.
func (s StationConfig) Sampling() time.Duration {
	if s.SamplingInterval <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.SamplingInterval) * time.Minute
}

// Secret returns a vendor secret by key.
func (s StationConfig) Secret(key string) string {
	return strings.TrimSpace(s.Secrets[key])
}

// RawResponse is one vendor HTTP exchange, kept verbatim for audit and replay.
type RawResponse struct {
	ID          string      `json:"id"`
	StationID   string      `json:"stationId"`
	StationType StationType `json:"stationType"`
	DataStart   time.Time   `json:"dataStart"` // always UTC
	DataEnd     time.Time   `json:"dataEnd"`   // always UTC
	RequestTime time.Time   `json:"requestTime"`
	StatusCode  int         `json:"statusCode"`
	Status      string      `json:"status"`
	Body        []byte      `json:"-"`
}

// Interval returns the requested data window.
func (r RawResponse) Interval() TimeInterval {
	return TimeInterval{Start: r.DataStart, End: r.DataEnd}
}

// OK reports a 2xx status.
func (r RawResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Reading is one canonical, harmonized sensor sample.
//
// Units: °C, mm, %, W/m², degrees, m/s. SoilMoisture stays in the vendor's unit.
// LeafWetness is 1.0 (wet) or 0.0 (dry).
// A nil field means the vendor did not report that sensor.
type Reading struct {
	ID           int64     `json:"id,omitempty"`
	ResponseID   string    `json:"responseId"`
	StationID    string    `json:"stationId"`
	DataDatetime time.Time `json:"dataDatetime"` // always UTC

	AirTemp          *float64 `json:"airTemp,omitempty"`
	DewPoint         *float64 `json:"dewPoint,omitempty"`
	Precip           *float64 `json:"precip,omitempty"`
	RelativeHumidity *float64 `json:"relativeHumidity,omitempty"`
	SolarRadiation   *float64 `json:"solarRadiation,omitempty"`
	LeafWetness      *float64 `json:"leafWetness,omitempty"`
	SoilMoisture     *float64 `json:"soilMoisture,omitempty"`
	SoilTemp         *float64 `json:"soilTemp,omitempty"`
	WindDirection    *float64 `json:"windDirection,omitempty"`
	WindSpeed        *float64 `json:"windSpeed,omitempty"`
	WindGust         *float64 `json:"windGust,omitempty"`
}

// Empty reports whether no sensor field is set.
func (r Reading) Empty() bool {
	for _, v := range r.sensors() {
		if *v != nil {
			return false
		}
	}
	return true
}

// SameValues compares sensor content and timestamp, ignoring ids.
func (r Reading) SameValues(o Reading) bool {
	if !r.DataDatetime.Equal(o.DataDatetime) || r.StationID != o.StationID {
		return false
	}
	a, b := r.sensors(), o.sensors()
	for i := range a {
		x, y := *a[i], *b[i]
		if (x == nil) != (y == nil) {
			return false
		}
		if x != nil && *x != *y {
			return false
		}
	}
	return true
}

func (r *Reading) sensors() []**float64 {
	return []**float64{
		&r.AirTemp, &r.DewPoint, &r.Precip, &r.RelativeHumidity, &r.SolarRadiation,
		&r.LeafWetness, &r.SoilMoisture, &r.SoilTemp, &r.WindDirection, &r.WindSpeed, &r.WindGust,
	}
}

// merge copies every set sensor of o into r; values already set on r are overwritten.
func (r *Reading) merge(o Reading) {
	dst, src := r.sensors(), o.sensors()
	for i := range src {
		if *src[i] != nil {
			*dst[i] = *src[i]
		}
	}
}

// Float returns a pointer to v, for building readings.
func Float(v float64) *float64 {
	return &v
}
