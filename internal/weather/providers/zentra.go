package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/buger/jsonparser"
	log "github.com/sirupsen/logrus"

	"github.com/i474232898/pws-ingest/internal/weather"
)

const (
	zentraBaseURL  = "https://zentracloud.com"
	zentraDateTime = "2006-01-02 15:04"

	// ZentraPageSize is the per_page value every request asks for.
	ZentraPageSize = 2000

	// zentraMaxAttempts bounds tries per page while the server keeps us locked out.
	zentraMaxAttempts = 3

	// zentraDefaultLockout applies when a 429 body carries no readable wait.
	zentraDefaultLockout = 60 * time.Second
)

var zentraLockoutRe = regexp.MustCompile(`(?i)expires in (\d+) seconds?`)

// ZentraPageCount is ceil(minutes / sampling / pageSize), at least one page.
func ZentraPageCount(iv weather.TimeInterval, samplingMinutes, pageSize int) int {
	if samplingMinutes <= 0 {
		samplingMinutes = 5
	}
	if pageSize <= 0 {
		pageSize = ZentraPageSize
	}
	pages := int(math.Ceil(iv.Minutes() / float64(samplingMinutes) / float64(pageSize)))
	if pages < 1 {
		return 1
	}
	return pages
}

// ZentraLockout extracts the "lock-out expires in N seconds" wait from a 429 body.
func ZentraLockout(body []byte) (time.Duration, bool) {
	m := zentraLockoutRe.FindSubmatch(body)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// ZentraProvider implements weather.WeatherAPI for ZENTRA Cloud.
type ZentraProvider struct {
	client   vendorClient
	baseURL  string
	token    string
	deviceSN string
	loc      *time.Location
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewZentraProvider(station weather.StationConfig, deps Deps) (*ZentraProvider, error) {
	if err := expectType(station, weather.StationZentra); err != nil {
		return nil, err
	}
	if err := requireSecrets(station, "token", "sn"); err != nil {
		return nil, err
	}
	loc, err := stationLocation(station)
	if err != nil {
		return nil, err
	}
	client := newVendorClient(weather.StationZentra, station, deps)
	client.httpCfg.OwnRateLimit = true
	return &ZentraProvider{
		client:   client,
		baseURL:  deps.baseURL(weather.StationZentra, zentraBaseURL),
		token:    station.Secret("token"),
		deviceSN: station.Secret("sn"),
		loc:      loc,
		sleep:    deps.sleep(),
	}, nil
}

func (p *ZentraProvider) Type() weather.StationType {
	return weather.StationZentra
}

// FetchRaw requests every page in order. The server allows one request per minute, so pages
// are never fetched concurrently.
func (p *ZentraProvider) FetchRaw(ctx context.Context, iv weather.TimeInterval) ([]weather.RawResponse, error) {
	pages := ZentraPageCount(iv, p.client.station.SamplingInterval, ZentraPageSize)
	out := make([]weather.RawResponse, 0, pages)
	for page := 1; page <= pages; page++ {
		resp, err := p.fetchPage(ctx, iv, page)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

func (p *ZentraProvider) fetchPage(ctx context.Context, iv weather.TimeInterval, page int) (weather.RawResponse, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("device_sn", p.deviceSN)
		values.Set("start_date", weather.UTCToLocal(zentraDateTime, iv.Start, p.loc))
		values.Set("end_date", weather.UTCToLocal(zentraDateTime, iv.End, p.loc))
		values.Set("output_format", "json")
		values.Set("per_page", strconv.Itoa(ZentraPageSize))
		values.Set("page_num", strconv.Itoa(page))
		values.Set("sort_by", "ascending")

		u := fmt.Sprintf("%s/api/v4/get_readings/?%s", p.baseURL, values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Token "+p.token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	var wait time.Duration
	for attempt := 1; ; attempt++ {
		ex, tries, err := doRequestWithResilience(ctx, p.client.httpCfg, p.client.circuit, buildRequest)
		if err == nil {
			return p.client.rawResponse(iv, ex), nil
		}

		var se *statusError
		if !errors.As(err, &se) || se.code != http.StatusTooManyRequests {
			return weather.RawResponse{}, p.client.classify(iv, tries, err)
		}
		if attempt >= zentraMaxAttempts {
			return weather.RawResponse{}, &weather.RateLimitExceededError{
				Vendor: weather.StationZentra, Interval: iv, Attempts: attempt, Wait: wait,
			}
		}

		var ok bool
		if wait, ok = ZentraLockout(se.body); !ok {
			wait = zentraDefaultLockout
		}
		log.WithFields(log.Fields{
			"station": p.client.station.ID,
			"page":    page,
			"attempt": attempt,
			"wait":    wait,
		}).Warn("zentra lock-out, waiting")
		if err := p.sleep(ctx, wait); err != nil {
			return weather.RawResponse{}, &weather.TransportError{Vendor: weather.StationZentra, Interval: iv, Err: err}
		}
	}
}

// HasData reports whether any measurement group holds a reading.
func (p *ZentraProvider) HasData(resp weather.RawResponse) bool {
	body := okBody(resp)
	if body == nil {
		return false
	}
	found := false
	err := jsonparser.ObjectEach(body, func(_ []byte, group []byte, _ jsonparser.ValueType, _ int) error {
		_, _ = jsonparser.ArrayEach(group, func(series []byte, _ jsonparser.ValueType, _ int, _ error) {
			_, _ = jsonparser.ArrayEach(series, func(_ []byte, dt jsonparser.ValueType, _ int, _ error) {
				if dt == jsonparser.Object {
					found = true
				}
			}, "readings")
		})
		return nil
	}, "data")
	return err == nil && found
}

type zentraPayload struct {
	Pagination map[string]any            `json:"pagination"`
	Data       map[string][]zentraSeries `json:"data"`
}

type zentraSeries struct {
	Metadata struct {
		Units string `json:"units"`
	} `json:"metadata"`
	Readings []zentraReading `json:"readings"`
}

type zentraReading struct {
	Datetime     string   `json:"datetime"`
	TimestampUTC int64    `json:"timestamp_utc"`
	Value        *float64 `json:"value"`
	ErrorFlag    bool     `json:"error_flag"`
}

// zentraFields maps ZENTRA measurement names to reading fields.
var zentraFields = map[string]func(r *weather.Reading) **float64{
	"Air Temperature":   func(r *weather.Reading) **float64 { return &r.AirTemp },
	"Dew Point":         func(r *weather.Reading) **float64 { return &r.DewPoint },
	"Precipitation":     func(r *weather.Reading) **float64 { return &r.Precip },
	"Relative Humidity": func(r *weather.Reading) **float64 { return &r.RelativeHumidity },
	"Solar Radiation":   func(r *weather.Reading) **float64 { return &r.SolarRadiation },
	"Water Content":     func(r *weather.Reading) **float64 { return &r.SoilMoisture },
	"Soil Temperature":  func(r *weather.Reading) **float64 { return &r.SoilTemp },
	"Wind Direction":    func(r *weather.Reading) **float64 { return &r.WindDirection },
	"Wind Speed":        func(r *weather.Reading) **float64 { return &r.WindSpeed },
	"Gust Speed":        func(r *weather.Reading) **float64 { return &r.WindGust },
}

// Transform folds every measurement series into timestamp-keyed readings.
func (p *ZentraProvider) Transform(resps []weather.RawResponse) ([]weather.Reading, error) {
	set := weather.NewReadingSet(p.client.station.ID, p.client.station.Sampling())
	for _, resp := range resps {
		body := okBody(resp)
		if body == nil {
			continue
		}
		var payload zentraPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, &weather.TransformError{StationID: resp.StationID, ResponseID: resp.ID, Err: err}
		}
		for name, series := range payload.Data {
			field, ok := zentraFields[name]
			if !ok {
				continue
			}
			for _, s := range series {
				for _, rd := range s.Readings {
					if rd.Value == nil || rd.ErrorFlag {
						continue
					}
					ts, err := p.readingTime(rd)
					if err != nil {
						continue
					}
					r := weather.Reading{DataDatetime: ts}
					*field(&r) = weather.Float(*rd.Value)
					set.Add(resp, r)
				}
			}
		}
	}
	return set.Readings(), nil
}

func (p *ZentraProvider) readingTime(rd zentraReading) (time.Time, error) {
	if rd.TimestampUTC > 0 {
		return weather.EpochToUTC(rd.TimestampUTC), nil
	}
	ts, err := time.Parse("2006-01-02 15:04:05-07:00", rd.Datetime)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
