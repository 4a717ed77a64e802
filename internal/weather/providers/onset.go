package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/i474232898/pws-ingest/internal/common"
	"github.com/i474232898/pws-ingest/internal/weather"
)

const (
	onsetBaseURL   = "https://webservice.hobolink.com"
	onsetTimestamp = "2006-01-02 15:04:05"

	// OnsetLeafWetnessThreshold is the percent-wet reading at which a leaf counts as wet.
	OnsetLeafWetnessThreshold = 50.0
)

// tokenCache obtains a client-credentials bearer token on demand and reuses it until it
// expires or is invalidated. It belongs to a single adapter instance.
type tokenCache struct {
	mu     sync.Mutex
	cfg    clientcredentials.Config
	client *http.Client
	tok    *oauth2.Token
}

// token returns the cached token or fetches a new one bounded by ctx.
func (c *tokenCache) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tok.Valid() {
		return c.tok.AccessToken, nil
	}
	tok, err := c.cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, c.client))
	if err != nil {
		return "", fmt.Errorf("onset token: %w", err)
	}
	c.tok = tok
	return tok.AccessToken, nil
}

func (c *tokenCache) invalidate() {
	c.mu.Lock()
	c.tok = nil
	c.mu.Unlock()
}

// OnsetProvider implements weather.WeatherAPI for HOBOlink.
type OnsetProvider struct {
	client  vendorClient
	baseURL string
	userID  string
	loggers string
	leafWet float64
	tokens  *tokenCache
}

func NewOnsetProvider(station weather.StationConfig, deps Deps) (*OnsetProvider, error) {
	if err := expectType(station, weather.StationOnset); err != nil {
		return nil, err
	}
	if err := requireSecrets(station, "client_id", "client_secret", "user_id", "sn"); err != nil {
		return nil, err
	}
	base := deps.baseURL(weather.StationOnset, onsetBaseURL)
	return &OnsetProvider{
		client:  newVendorClient(weather.StationOnset, station, deps),
		baseURL: base,
		userID:  station.Secret("user_id"),
		loggers: station.Secret("sn"),
		leafWet: leafThreshold(station, OnsetLeafWetnessThreshold),
		tokens: &tokenCache{
			cfg: clientcredentials.Config{
				ClientID:     station.Secret("client_id"),
				ClientSecret: station.Secret("client_secret"),
				TokenURL:     base + "/ws/auth/token",
				AuthStyle:    oauth2.AuthStyleInParams,
			},
			client: deps.client(),
		},
	}, nil
}

func (p *OnsetProvider) Type() weather.StationType {
	return weather.StationOnset
}

// InvalidateToken drops the cached bearer token; the next call fetches a fresh one.
func (p *OnsetProvider) InvalidateToken() {
	p.tokens.invalidate()
}

// FetchRaw makes a single call. A 401 means the cached token went stale, so it is refreshed
// and the call retried once.
func (p *OnsetProvider) FetchRaw(ctx context.Context, iv weather.TimeInterval) ([]weather.RawResponse, error) {
	resp, err := p.fetchOnce(ctx, iv)
	var te *weather.TransportError
	if errors.As(err, &te) && te.StatusCode == http.StatusUnauthorized {
		p.InvalidateToken()
		resp, err = p.fetchOnce(ctx, iv)
	}
	if err != nil {
		return nil, err
	}
	return []weather.RawResponse{resp}, nil
}

func (p *OnsetProvider) fetchOnce(ctx context.Context, iv weather.TimeInterval) (weather.RawResponse, error) {
	token, err := p.tokens.token(ctx)
	if err != nil {
		return weather.RawResponse{}, &weather.TransportError{Vendor: weather.StationOnset, Interval: iv, Err: err}
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("loggers", p.loggers)
		values.Set("start_date_time", iv.Start.Format(onsetTimestamp))
		values.Set("end_date_time", iv.End.Format(onsetTimestamp))

		u := fmt.Sprintf("%s/ws/data/file/JSON/user/%s?%s", p.baseURL, url.PathEscape(p.userID), values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
	return p.client.fetch(ctx, iv, buildRequest)
}

// HasData reports whether the observation list holds at least one value.
func (p *OnsetProvider) HasData(resp weather.RawResponse) bool {
	body := okBody(resp)
	if body == nil {
		return false
	}
	found := false
	_, err := jsonparser.ArrayEach(body, func(row []byte, _ jsonparser.ValueType, _ int, _ error) {
		if _, dt, _, err := jsonparser.Get(row, "si_value"); err == nil && dt == jsonparser.Number {
			found = true
		}
	}, "observation_list")
	return err == nil && found
}

type onsetPayload struct {
	Message         string             `json:"message"`
	ObservationList []onsetObservation `json:"observation_list"`
}

type onsetObservation struct {
	LoggerSN              string   `json:"logger_sn"`
	SensorSN              string   `json:"sensor_sn"`
	Timestamp             string   `json:"timestamp"`
	DataTypeID            string   `json:"data_type_id"`
	SIValue               *float64 `json:"si_value"`
	SIUnit                string   `json:"si_unit"`
	SensorMeasurementType string   `json:"sensor_measurement_type"`
}

// Transform maps each observation row to a sensor field by its measurement type.
func (p *OnsetProvider) Transform(resps []weather.RawResponse) ([]weather.Reading, error) {
	set := weather.NewReadingSet(p.client.station.ID, p.client.station.Sampling())
	for _, resp := range resps {
		body := okBody(resp)
		if body == nil {
			continue
		}
		var payload onsetPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, &weather.TransformError{StationID: resp.StationID, ResponseID: resp.ID, Err: err}
		}
		for _, obs := range payload.ObservationList {
			if obs.SIValue == nil {
				continue
			}
			ts, err := time.ParseInLocation(onsetTimestamp, strings.TrimSuffix(strings.TrimSpace(obs.Timestamp), "Z"), time.UTC)
			if err != nil {
				continue
			}
			r := weather.Reading{DataDatetime: ts}
			if !p.assign(&r, obs.SensorMeasurementType, *obs.SIValue) {
				continue
			}
			set.Add(resp, r)
		}
	}
	return set.Readings(), nil
}

// assign sets the field named by measurement. More specific patterns are checked first.
func (p *OnsetProvider) assign(r *weather.Reading, measurement string, v float64) bool {
	switch {
	case common.HasAny(measurement, "dew point"):
		r.DewPoint = weather.Float(v)
	case common.HasAny(measurement, "water content", "soil moisture"):
		r.SoilMoisture = weather.Float(v)
	case common.HasAll(measurement, "soil", "temperature"):
		r.SoilTemp = weather.Float(v)
	case common.HasAny(measurement, "temperature"):
		r.AirTemp = weather.Float(v)
	case common.HasAny(measurement, "rh", "relative humidity"):
		r.RelativeHumidity = weather.Float(v)
	case common.HasAny(measurement, "rain", "precipitation"):
		r.Precip = weather.Float(v)
	case common.HasAny(measurement, "solar radiation"):
		r.SolarRadiation = weather.Float(v)
	case common.HasAny(measurement, "wind direction"):
		r.WindDirection = weather.Float(v)
	case common.HasAny(measurement, "gust"):
		r.WindGust = weather.Float(v)
	case common.HasAny(measurement, "wind speed"):
		r.WindSpeed = weather.Float(v)
	case common.HasAny(measurement, "leaf wetness", "wetness"):
		r.LeafWetness = weather.Float(weather.Wetness(v, p.leafWet))
	default:
		return false
	}
	return true
}
