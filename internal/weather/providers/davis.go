package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/buger/jsonparser"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/pws-ingest/internal/weather"
)

const (
	davisBaseURL = "https://api.weatherlink.com"

	// WeatherLink refuses historic requests spanning more than a day.
	davisMaxSpan      = 24 * time.Hour
	davisMinRemainder = 5 * time.Minute

	// DavisLeafWetnessThreshold is the wet/dry cut on the 0-15 leaf wetness scale.
	DavisLeafWetnessThreshold = 8.0
)

// Davis sensor groups, keyed by WeatherLink sensor type id.
const (
	davisSensorWeather = 2
	davisSensorLeaf    = 104
	davisSensorSoil    = 205
)

// DavisProvider implements weather.WeatherAPI for the WeatherLink v2 historic API.
type DavisProvider struct {
	client      vendorClient
	baseURL     string
	apiKey      string
	apiSecret   string
	stationID   string
	leafWet     float64
	maxParallel int
	now         func() time.Time
}

func NewDavisProvider(station weather.StationConfig, deps Deps) (*DavisProvider, error) {
	if err := expectType(station, weather.StationDavis); err != nil {
		return nil, err
	}
	if err := requireSecrets(station, "api_key", "api_secret", "sn"); err != nil {
		return nil, err
	}
	return &DavisProvider{
		client:      newVendorClient(weather.StationDavis, station, deps),
		baseURL:     deps.baseURL(weather.StationDavis, davisBaseURL),
		apiKey:      station.Secret("api_key"),
		apiSecret:   station.Secret("api_secret"),
		stationID:   station.Secret("sn"),
		leafWet:     leafThreshold(station, DavisLeafWetnessThreshold),
		maxParallel: deps.maxParallel(),
		now:         time.Now,
	}, nil
}

func (p *DavisProvider) Type() weather.StationType {
	return weather.StationDavis
}

// DavisSignature is the hex HMAC-SHA256, keyed by the API secret, over the alphabetically
// ordered parameter names and values.
func DavisSignature(apiKey, apiSecret, stationID string, start, end, t int64) string {
	msg := fmt.Sprintf("api-key%send-timestamp%dstart-timestamp%dstation-id%st%d",
		apiKey, end, start, stationID, t)
	mac := hmac.New(sha256.New, []byte(apiSecret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// SubIntervals splits iv into the day-sized requests WeatherLink accepts.
func (p *DavisProvider) SubIntervals(iv weather.TimeInterval) []weather.TimeInterval {
	return iv.Split(davisMaxSpan, davisMinRemainder)
}

// FetchRaw issues one request per sub-interval. Sub-requests are independent, so they run
// in parallel up to maxParallel; responses keep sub-interval order.
func (p *DavisProvider) FetchRaw(ctx context.Context, iv weather.TimeInterval) ([]weather.RawResponse, error) {
	parts := p.SubIntervals(iv)
	out := make([]weather.RawResponse, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxParallel)
	for i, part := range parts {
		g.Go(func() error {
			resp, err := p.fetchOne(gctx, part)
			if err != nil {
				return err
			}
			out[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *DavisProvider) fetchOne(ctx context.Context, iv weather.TimeInterval) (weather.RawResponse, error) {
	buildRequest := func() (*http.Request, error) {
		start, end := iv.Start.Unix(), iv.End.Unix()
		t := p.now().Unix()

		values := url.Values{}
		values.Set("api-key", p.apiKey)
		values.Set("t", strconv.FormatInt(t, 10))
		values.Set("start-timestamp", strconv.FormatInt(start, 10))
		values.Set("end-timestamp", strconv.FormatInt(end, 10))
		values.Set("api-signature", DavisSignature(p.apiKey, p.apiSecret, p.stationID, start, end, t))

		u := fmt.Sprintf("%s/v2/historic/%s?%s", p.baseURL, url.PathEscape(p.stationID), values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}
	return p.client.fetch(ctx, iv, buildRequest)
}

// HasData reports whether any sensor group carries at least one record.
func (p *DavisProvider) HasData(resp weather.RawResponse) bool {
	body := okBody(resp)
	if body == nil {
		return false
	}
	found := false
	_, err := jsonparser.ArrayEach(body, func(sensor []byte, _ jsonparser.ValueType, _ int, _ error) {
		if found {
			return
		}
		_, _ = jsonparser.ArrayEach(sensor, func(_ []byte, dt jsonparser.ValueType, _ int, _ error) {
			if dt == jsonparser.Object {
				found = true
			}
		}, "data")
	}, "sensors")
	return err == nil && found
}

type davisPayload struct {
	StationID int64         `json:"station_id"`
	Sensors   []davisSensor `json:"sensors"`
}

type davisSensor struct {
	LSID       int64         `json:"lsid"`
	SensorType int           `json:"sensor_type"`
	Data       []davisRecord `json:"data"`
}

// davisRecord covers the fields of the three sensor groups; each group fills its own subset.
type davisRecord struct {
	TS int64 `json:"ts"`

	TempOut          *float64 `json:"temp_out"`
	DewPointOut      *float64 `json:"dew_point_out"`
	HumOut           *float64 `json:"hum_out"`
	RainfallIn       *float64 `json:"rainfall_in"`
	SolarRadAvg      *float64 `json:"solar_rad_avg"`
	WindDirOfPrevail *float64 `json:"wind_dir_of_prevail"`
	WindSpeedAvg     *float64 `json:"wind_speed_avg"`
	WindSpeedHi      *float64 `json:"wind_speed_hi"`

	MoistSoil1 *float64 `json:"moist_soil_1"`
	TempSoil1  *float64 `json:"temp_soil_1"`

	WetLeaf1 *float64 `json:"wet_leaf_1"`
}

// Transform merges weather, soil and leaf-wetness groups by timestamp.
func (p *DavisProvider) Transform(resps []weather.RawResponse) ([]weather.Reading, error) {
	set := weather.NewReadingSet(p.client.station.ID, p.client.station.Sampling())
	for _, resp := range resps {
		body := okBody(resp)
		if body == nil {
			continue
		}
		var payload davisPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, &weather.TransformError{StationID: resp.StationID, ResponseID: resp.ID, Err: err}
		}
		for _, sensor := range payload.Sensors {
			for _, rec := range sensor.Data {
				r, ok := p.reading(sensor.SensorType, rec)
				if ok {
					set.Add(resp, r)
				}
			}
		}
	}
	return set.Readings(), nil
}

func (p *DavisProvider) reading(sensorType int, rec davisRecord) (weather.Reading, bool) {
	r := weather.Reading{DataDatetime: weather.EpochToUTC(rec.TS)}
	switch sensorType {
	case davisSensorWeather:
		r.AirTemp = convert(rec.TempOut, weather.FahrenheitToCelsius)
		r.DewPoint = convert(rec.DewPointOut, weather.FahrenheitToCelsius)
		r.RelativeHumidity = rec.HumOut
		r.Precip = convert(rec.RainfallIn, weather.InchesToMM)
		r.SolarRadiation = rec.SolarRadAvg
		r.WindDirection = rec.WindDirOfPrevail
		r.WindSpeed = convert(rec.WindSpeedAvg, weather.MphToMS)
		r.WindGust = convert(rec.WindSpeedHi, weather.MphToMS)
	case davisSensorSoil:
		r.SoilMoisture = rec.MoistSoil1
		r.SoilTemp = convert(rec.TempSoil1, weather.FahrenheitToCelsius)
	case davisSensorLeaf:
		r.LeafWetness = convert(rec.WetLeaf1, func(v float64) float64 { return weather.Wetness(v, p.leafWet) })
	default:
		return weather.Reading{}, false
	}
	return r, true
}

// convert applies f to a reported value, keeping absent values absent.
func convert(v *float64, f func(float64) float64) *float64 {
	if v == nil {
		return nil
	}
	return weather.Float(weather.Round(f(*v), 3))
}
