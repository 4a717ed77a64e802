package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/buger/jsonparser"

	"github.com/i474232898/pws-ingest/internal/weather"
)

const (
	rainwiseBaseURL  = "https://api.rainwise.net"
	rainwiseDateTime = "2006-01-02 15:04:05"
)

// RainwiseProvider implements weather.WeatherAPI for the RainWise MV API.
//
// The API speaks in the station's local time and imperial units.
type RainwiseProvider struct {
	client   vendorClient
	baseURL  string
	username string
	sid      string
	pid      string
	mac      string
	loc      *time.Location
}

func NewRainwiseProvider(station weather.StationConfig, deps Deps) (*RainwiseProvider, error) {
	if err := expectType(station, weather.StationRainwise); err != nil {
		return nil, err
	}
	if err := requireSecrets(station, "username", "sid", "pid", "mac"); err != nil {
		return nil, err
	}
	loc, err := stationLocation(station)
	if err != nil {
		return nil, err
	}
	return &RainwiseProvider{
		client:   newVendorClient(weather.StationRainwise, station, deps),
		baseURL:  deps.baseURL(weather.StationRainwise, rainwiseBaseURL),
		username: station.Secret("username"),
		sid:      station.Secret("sid"),
		pid:      station.Secret("pid"),
		mac:      station.Secret("mac"),
		loc:      loc,
	}, nil
}

func (p *RainwiseProvider) Type() weather.StationType {
	return weather.StationRainwise
}

func (p *RainwiseProvider) FetchRaw(ctx context.Context, iv weather.TimeInterval) ([]weather.RawResponse, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("username", p.username)
		values.Set("sid", p.sid)
		values.Set("pid", p.pid)
		values.Set("mac", p.mac)
		values.Set("format", "json")
		values.Set("interval", strconv.Itoa(p.client.station.SamplingInterval))
		values.Set("sdate", weather.UTCToLocal(rainwiseDateTime, iv.Start, p.loc))
		values.Set("edate", weather.UTCToLocal(rainwiseDateTime, iv.End, p.loc))

		u := fmt.Sprintf("%s/main/v1.5/get-data.php?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}
	resp, err := p.client.fetch(ctx, iv, buildRequest)
	if err != nil {
		return nil, err
	}
	return []weather.RawResponse{resp}, nil
}

// HasData reports whether the times column holds at least one entry.
func (p *RainwiseProvider) HasData(resp weather.RawResponse) bool {
	body := okBody(resp)
	if body == nil {
		return false
	}
	found := false
	_ = jsonparser.ObjectEach(body, func(_ []byte, _ []byte, dt jsonparser.ValueType, _ int) error {
		if dt == jsonparser.String || dt == jsonparser.Number {
			found = true
		}
		return nil
	}, "times")
	return found
}

// rainwisePayload is columnar: every sensor column is keyed by the same row keys as times.
type rainwisePayload struct {
	Times    map[string]string      `json:"times"`
	Temp     map[string]json.Number `json:"temp"`
	Hum      map[string]json.Number `json:"hum"`
	DewPoint map[string]json.Number `json:"dewpoint"`
	Rain     map[string]json.Number `json:"rain"`
	WindAve  map[string]json.Number `json:"wind_ave"`
	WindDir  map[string]json.Number `json:"wind_dir"`
	WindMax  map[string]json.Number `json:"wind_max"`
	Solar    map[string]json.Number `json:"solar"`
}

// Transform joins the columns on their row key and converts to metric units.
func (p *RainwiseProvider) Transform(resps []weather.RawResponse) ([]weather.Reading, error) {
	set := weather.NewReadingSet(p.client.station.ID, p.client.station.Sampling())
	for _, resp := range resps {
		body := okBody(resp)
		if body == nil {
			continue
		}
		var payload rainwisePayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, &weather.TransformError{StationID: resp.StationID, ResponseID: resp.ID, Err: err}
		}
		for key, stamp := range payload.Times {
			ts, err := weather.LocalToUTC(rainwiseDateTime, stamp, p.loc)
			if err != nil {
				continue
			}
			set.Add(resp, weather.Reading{
				DataDatetime:     ts,
				AirTemp:          convert(column(payload.Temp, key), weather.FahrenheitToCelsius),
				DewPoint:         convert(column(payload.DewPoint, key), weather.FahrenheitToCelsius),
				RelativeHumidity: column(payload.Hum, key),
				Precip:           convert(column(payload.Rain, key), weather.InchesToMM),
				WindSpeed:        convert(column(payload.WindAve, key), weather.MphToMS),
				WindGust:         convert(column(payload.WindMax, key), weather.MphToMS),
				WindDirection:    column(payload.WindDir, key),
				SolarRadiation:   column(payload.Solar, key),
			})
		}
	}
	return set.Readings(), nil
}

// column reads one cell, treating absent or non-numeric cells as missing.
func column(col map[string]json.Number, key string) *float64 {
	n, ok := col[key]
	if !ok {
		return nil
	}
	v, err := n.Float64()
	if err != nil {
		return nil
	}
	return weather.Float(v)
}
