package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/buger/jsonparser"

	"github.com/i474232898/pws-ingest/internal/common"
	"github.com/i474232898/pws-ingest/internal/weather"
)

const (
	spectrumBaseURL   = "https://api.specconnect.net:6703"
	spectrumQueryTime = "01-02-2006 15:04"

	// SpectrumLeafWetnessThreshold is the wet/dry cut on the 0-15 leaf wetness scale.
	SpectrumLeafWetnessThreshold = 7.0
)

// Record timestamps come back in one of these local layouts depending on the logger firmware.
var spectrumRecordLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05",
}

// SpectrumProvider implements weather.WeatherAPI for SpecConnect.
type SpectrumProvider struct {
	client  vendorClient
	baseURL string
	apiKey  string
	serial  string
	loc     *time.Location
	leafWet float64
}

func NewSpectrumProvider(station weather.StationConfig, deps Deps) (*SpectrumProvider, error) {
	if err := expectType(station, weather.StationSpectrum); err != nil {
		return nil, err
	}
	if err := requireSecrets(station, "customer_api_key", "sn"); err != nil {
		return nil, err
	}
	loc, err := stationLocation(station)
	if err != nil {
		return nil, err
	}
	return &SpectrumProvider{
		client:  newVendorClient(weather.StationSpectrum, station, deps),
		baseURL: deps.baseURL(weather.StationSpectrum, spectrumBaseURL),
		apiKey:  station.Secret("customer_api_key"),
		serial:  station.Secret("sn"),
		loc:     loc,
		leafWet: leafThreshold(station, SpectrumLeafWetnessThreshold),
	}, nil
}

func (p *SpectrumProvider) Type() weather.StationType {
	return weather.StationSpectrum
}

func (p *SpectrumProvider) FetchRaw(ctx context.Context, iv weather.TimeInterval) ([]weather.RawResponse, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("customerApiKey", p.apiKey)
		values.Set("serialNumber", p.serial)
		values.Set("startDate", weather.UTCToLocal(spectrumQueryTime, iv.Start, p.loc))
		values.Set("endDate", weather.UTCToLocal(spectrumQueryTime, iv.End, p.loc))

		u := fmt.Sprintf("%s/api/Customer/GetDataInDateRange?%s", p.baseURL, values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
	resp, err := p.client.fetch(ctx, iv, buildRequest)
	if err != nil {
		return nil, err
	}
	return []weather.RawResponse{resp}, nil
}

// HasData reports whether any equipment record carries sensor data.
func (p *SpectrumProvider) HasData(resp weather.RawResponse) bool {
	body := okBody(resp)
	if body == nil {
		return false
	}
	found := false
	_, err := jsonparser.ArrayEach(body, func(rec []byte, _ jsonparser.ValueType, _ int, _ error) {
		_, _ = jsonparser.ArrayEach(rec, func(_ []byte, dt jsonparser.ValueType, _ int, _ error) {
			if dt == jsonparser.Object {
				found = true
			}
		}, "SensorData")
	}, "EquipmentRecords")
	return err == nil && found
}

type spectrumPayload struct {
	EquipmentRecords []spectrumRecord `json:"EquipmentRecords"`
}

type spectrumRecord struct {
	TimeStamp  string           `json:"TimeStamp"`
	SensorData []spectrumSensor `json:"SensorData"`
}

type spectrumSensor struct {
	SensorType   string   `json:"SensorType"`
	DecimalValue *float64 `json:"DecimalValue"`
	Unit         string   `json:"Unit"`
}

// Transform reads every equipment record. Temperatures reported in °F are converted.
func (p *SpectrumProvider) Transform(resps []weather.RawResponse) ([]weather.Reading, error) {
	set := weather.NewReadingSet(p.client.station.ID, p.client.station.Sampling())
	for _, resp := range resps {
		body := okBody(resp)
		if body == nil {
			continue
		}
		var payload spectrumPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, &weather.TransformError{StationID: resp.StationID, ResponseID: resp.ID, Err: err}
		}
		for _, rec := range payload.EquipmentRecords {
			ts, ok := p.recordTime(rec.TimeStamp)
			if !ok {
				continue
			}
			r := weather.Reading{DataDatetime: ts}
			for _, s := range rec.SensorData {
				if s.DecimalValue != nil {
					p.assign(&r, s, *s.DecimalValue)
				}
			}
			set.Add(resp, r)
		}
	}
	return set.Readings(), nil
}

func (p *SpectrumProvider) recordTime(stamp string) (time.Time, bool) {
	for _, layout := range spectrumRecordLayouts {
		if ts, err := weather.LocalToUTC(layout, stamp, p.loc); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func (p *SpectrumProvider) assign(r *weather.Reading, s spectrumSensor, v float64) {
	temperature := func(v float64) *float64 {
		if common.HasAny(s.Unit, "°F", "F") && !common.HasAny(s.Unit, "C") {
			return weather.Float(weather.Round(weather.FahrenheitToCelsius(v), 3))
		}
		return weather.Float(v)
	}
	switch {
	case common.HasAny(s.SensorType, "dew point"):
		r.DewPoint = temperature(v)
	case common.HasAny(s.SensorType, "soil moisture", "water content"):
		r.SoilMoisture = weather.Float(v)
	case common.HasAll(s.SensorType, "soil", "temperature"):
		r.SoilTemp = temperature(v)
	case common.HasAny(s.SensorType, "temperature"):
		r.AirTemp = temperature(v)
	case common.HasAny(s.SensorType, "relative humidity", "humidity"):
		r.RelativeHumidity = weather.Float(v)
	case common.HasAny(s.SensorType, "rain", "precipitation"):
		if common.HasAny(s.Unit, "in") {
			v = weather.Round(weather.InchesToMM(v), 3)
		}
		r.Precip = weather.Float(v)
	case common.HasAny(s.SensorType, "solar", "light"):
		r.SolarRadiation = weather.Float(v)
	case common.HasAny(s.SensorType, "wind direction"):
		r.WindDirection = weather.Float(v)
	case common.HasAny(s.SensorType, "gust"):
		r.WindGust = p.speed(s.Unit, v)
	case common.HasAny(s.SensorType, "wind speed"):
		r.WindSpeed = p.speed(s.Unit, v)
	case common.HasAny(s.SensorType, "leaf wetness"):
		r.LeafWetness = weather.Float(weather.Wetness(v, p.leafWet))
	}
}

func (p *SpectrumProvider) speed(unit string, v float64) *float64 {
	switch {
	case common.HasAny(unit, "mph"):
		return weather.Float(weather.Round(weather.MphToMS(v), 3))
	case common.HasAny(unit, "km"):
		return weather.Float(weather.Round(weather.KphToMS(v), 3))
	}
	return weather.Float(v)
}
