package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/buger/jsonparser"
	"github.com/samber/lo"

	"github.com/i474232898/pws-ingest/internal/weather"
)

const (
	locomosBaseURL = "https://industrial.api.ubidots.com"

	// LocomosLeafWetnessThreshold is the sensor voltage, in millivolts, at which a leaf counts as wet.
	LocomosLeafWetnessThreshold = 1000.0
)

// LocomosVariable is one device variable as listed by the variables endpoint.
type LocomosVariable struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Name  string `json:"name"`
}

// locomosFields maps variable labels to reading fields.
var locomosFields = map[string]func(r *weather.Reading) **float64{
	"temperature":       func(r *weather.Reading) **float64 { return &r.AirTemp },
	"air-temperature":   func(r *weather.Reading) **float64 { return &r.AirTemp },
	"dew-point":         func(r *weather.Reading) **float64 { return &r.DewPoint },
	"humidity":          func(r *weather.Reading) **float64 { return &r.RelativeHumidity },
	"relative-humidity": func(r *weather.Reading) **float64 { return &r.RelativeHumidity },
	"rain":              func(r *weather.Reading) **float64 { return &r.Precip },
	"precipitation":     func(r *weather.Reading) **float64 { return &r.Precip },
	"solar-radiation":   func(r *weather.Reading) **float64 { return &r.SolarRadiation },
	"soil-moisture":     func(r *weather.Reading) **float64 { return &r.SoilMoisture },
	"soil-temperature":  func(r *weather.Reading) **float64 { return &r.SoilTemp },
	"wind-direction":    func(r *weather.Reading) **float64 { return &r.WindDirection },
	"wind-speed":        func(r *weather.Reading) **float64 { return &r.WindSpeed },
	"wind-gust":         func(r *weather.Reading) **float64 { return &r.WindGust },
	"leaf-wetness":      func(r *weather.Reading) **float64 { return &r.LeafWetness },
}

// variableCache holds the device's variable list. It is fetched once per adapter and
// dropped on demand.
type variableCache struct {
	mu   sync.Mutex
	vars []LocomosVariable
}

func (c *variableCache) get() ([]LocomosVariable, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vars, c.vars != nil
}

func (c *variableCache) set(vars []LocomosVariable) {
	c.mu.Lock()
	c.vars = vars
	c.mu.Unlock()
}

// LocomosProvider implements weather.WeatherAPI for LOCOMOS devices on Ubidots.
type LocomosProvider struct {
	client   vendorClient
	baseURL  string
	token    string
	deviceID string
	leafWet  float64
	vars     *variableCache
}

func NewLocomosProvider(station weather.StationConfig, deps Deps) (*LocomosProvider, error) {
	if err := expectType(station, weather.StationLocomos); err != nil {
		return nil, err
	}
	if err := requireSecrets(station, "token", "device_id"); err != nil {
		return nil, err
	}
	return &LocomosProvider{
		client:   newVendorClient(weather.StationLocomos, station, deps),
		baseURL:  deps.baseURL(weather.StationLocomos, locomosBaseURL),
		token:    station.Secret("token"),
		deviceID: station.Secret("device_id"),
		leafWet:  leafThreshold(station, LocomosLeafWetnessThreshold),
		vars:     &variableCache{},
	}, nil
}

func (p *LocomosProvider) Type() weather.StationType {
	return weather.StationLocomos
}

// InvalidateVariables forces the next fetch to list the device variables again.
func (p *LocomosProvider) InvalidateVariables() {
	p.vars.set(nil)
}

// Variables returns the device's known variables, listing them from the API on first use.
// Only variables that map to a reading field are kept.
func (p *LocomosProvider) Variables(ctx context.Context, iv weather.TimeInterval) ([]LocomosVariable, error) {
	if vars, ok := p.vars.get(); ok {
		return vars, nil
	}

	buildRequest := func() (*http.Request, error) {
		u := fmt.Sprintf("%s/api/v2.0/devices/~%s/variables/", p.baseURL, url.PathEscape(p.deviceID))
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Auth-Token", p.token)
		return req, nil
	}
	ex, attempts, err := doRequestWithResilience(ctx, p.client.httpCfg, p.client.circuit, buildRequest)
	if err != nil {
		return nil, p.client.classify(iv, attempts, err)
	}

	var listing struct {
		Results []LocomosVariable `json:"results"`
	}
	if err := json.Unmarshal(ex.body, &listing); err != nil {
		return nil, &weather.TransportError{Vendor: weather.StationLocomos, Interval: iv, Err: fmt.Errorf("decode variables: %w", err)}
	}
	vars := lo.Filter(listing.Results, func(v LocomosVariable, _ int) bool {
		_, ok := locomosFields[v.Label]
		return ok
	})
	p.vars.set(vars)
	return vars, nil
}

type locomosSeriesRequest struct {
	Variables      []string `json:"variables"`
	Columns        []string `json:"columns"`
	JoinDataFrames bool     `json:"join_dataframes"`
	Start          int64    `json:"start"`
	End            int64    `json:"end"`
}

// locomosColumns are the per-row columns requested from the raw series endpoint. Each row
// carries its variable label so a stored body can be transformed on its own.
var locomosColumns = []string{"value.value", "timestamp", "variable.label"}

// FetchRaw lists the device variables (cached) then pulls all of their series in one call.
func (p *LocomosProvider) FetchRaw(ctx context.Context, iv weather.TimeInterval) ([]weather.RawResponse, error) {
	vars, err := p.Variables(ctx, iv)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(locomosSeriesRequest{
		Variables:      lo.Map(vars, func(v LocomosVariable, _ int) string { return v.ID }),
		Columns:        locomosColumns,
		JoinDataFrames: false,
		Start:          iv.Start.UnixMilli(),
		End:            iv.End.UnixMilli(),
	})
	if err != nil {
		return nil, &weather.TransportError{Vendor: weather.StationLocomos, Interval: iv, Err: err}
	}

	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, p.baseURL+"/api/v1.6/data/raw/series", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Auth-Token", p.token)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
	resp, err := p.client.fetch(ctx, iv, buildRequest)
	if err != nil {
		return nil, err
	}
	return []weather.RawResponse{resp}, nil
}

// HasData reports whether any returned series holds a row.
func (p *LocomosProvider) HasData(resp weather.RawResponse) bool {
	body := okBody(resp)
	if body == nil {
		return false
	}
	found := false
	_, err := jsonparser.ArrayEach(body, func(series []byte, dt jsonparser.ValueType, _ int, _ error) {
		if dt != jsonparser.Array {
			return
		}
		_, _ = jsonparser.ArrayEach(series, func(_ []byte, _ jsonparser.ValueType, _ int, _ error) {
			found = true
		})
	}, "results")
	return err == nil && found
}

// Transform reads rows of [value, timestamp_ms, variable label]. Rows for labels that do not
// map to a reading field are skipped, as are rows with a null value.
func (p *LocomosProvider) Transform(resps []weather.RawResponse) ([]weather.Reading, error) {
	set := weather.NewReadingSet(p.client.station.ID, p.client.station.Sampling())
	for _, resp := range resps {
		body := okBody(resp)
		if body == nil {
			continue
		}
		var series struct {
			Results [][][]json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(body, &series); err != nil {
			return nil, &weather.TransformError{StationID: resp.StationID, ResponseID: resp.ID, Err: err}
		}
		for _, rows := range series.Results {
			for _, row := range rows {
				r, ok, err := p.locomosRow(row)
				if err != nil {
					return nil, &weather.TransformError{StationID: resp.StationID, ResponseID: resp.ID, Err: err}
				}
				if ok {
					set.Add(resp, r)
				}
			}
		}
	}
	return set.Readings(), nil
}

func (p *LocomosProvider) locomosRow(row []json.RawMessage) (weather.Reading, bool, error) {
	if len(row) != len(locomosColumns) {
		return weather.Reading{}, false, fmt.Errorf("series row has %d columns, want %d", len(row), len(locomosColumns))
	}
	var (
		value *float64
		ts    float64
		label string
	)
	if err := json.Unmarshal(row[0], &value); err != nil {
		return weather.Reading{}, false, fmt.Errorf("decode value: %w", err)
	}
	if err := json.Unmarshal(row[1], &ts); err != nil {
		return weather.Reading{}, false, fmt.Errorf("decode timestamp: %w", err)
	}
	if err := json.Unmarshal(row[2], &label); err != nil {
		return weather.Reading{}, false, fmt.Errorf("decode variable label: %w", err)
	}
	field, known := locomosFields[label]
	if !known || value == nil {
		return weather.Reading{}, false, nil
	}

	r := weather.Reading{DataDatetime: weather.EpochToUTC(int64(ts) / 1000)}
	v := *value
	if label == "leaf-wetness" {
		v = weather.Wetness(v, p.leafWet)
	}
	*field(&r) = weather.Float(v)
	return r, true, nil
}
