package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/i474232898/pws-ingest/internal/weather"
)

var spectrumSecrets = map[string]string{"customer_api_key": "cak", "sn": "38111111"}

const spectrumBody = `{
  "EquipmentRecords": [
    {"TimeStamp": "2024-05-01T08:00:00", "SensorData": [
      {"SensorType": "Temperature", "DecimalValue": 68, "Unit": "°F"},
      {"SensorType": "Relative Humidity", "DecimalValue": 50, "Unit": "%"},
      {"SensorType": "Rainfall", "DecimalValue": 0.5, "Unit": "in"},
      {"SensorType": "Wind Speed", "DecimalValue": 10, "Unit": "mph"},
      {"SensorType": "Wind Gust", "DecimalValue": 36, "Unit": "km/h"},
      {"SensorType": "Leaf Wetness", "DecimalValue": 9, "Unit": ""},
      {"SensorType": "Soil Temperature", "DecimalValue": 18.5, "Unit": "°C"},
      {"SensorType": "Battery", "DecimalValue": 4.1, "Unit": "V"}
    ]},
    {"TimeStamp": "2024-05-01T08:05:00", "SensorData": [
      {"SensorType": "Leaf Wetness", "DecimalValue": 3, "Unit": ""}
    ]}
  ]
}`

func TestSpectrumFetchRawLocalQuery(t *testing.T) {
	var query url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/Customer/GetDataInDateRange" {
			http.NotFound(w, r)
			return
		}
		query = r.URL.Query()
		_, _ = fmt.Fprint(w, spectrumBody)
	}))
	defer srv.Close()

	p, err := NewSpectrumProvider(testStation(weather.StationSpectrum, spectrumSecrets), testDeps(srv, weather.StationSpectrum, nil))
	require.NoError(t, err)

	resps, err := p.FetchRaw(context.Background(), interval(t, noon, 14*time.Minute))
	require.NoError(t, err)
	require.Len(t, resps, 1)
	require.Equal(t, "05-01-2024 08:00", query.Get("startDate"))
	require.Equal(t, "05-01-2024 08:14", query.Get("endDate"))
	require.Equal(t, "cak", query.Get("customerApiKey"))
	require.Equal(t, "38111111", query.Get("serialNumber"))
}

func TestSpectrumHasData(t *testing.T) {
	p, err := NewSpectrumProvider(testStation(weather.StationSpectrum, spectrumSecrets), Deps{})
	require.NoError(t, err)
	iv := interval(t, noon, 14*time.Minute)

	require.False(t, p.HasData(okResponse(weather.StationSpectrum, iv, `{"EquipmentRecords":[]}`)))
	require.False(t, p.HasData(okResponse(weather.StationSpectrum, iv, `{"EquipmentRecords":[{"TimeStamp":"2024-05-01T08:00:00","SensorData":[]}]}`)))
	require.True(t, p.HasData(okResponse(weather.StationSpectrum, iv, spectrumBody)))
}

func TestSpectrumTransform(t *testing.T) {
	p, err := NewSpectrumProvider(testStation(weather.StationSpectrum, spectrumSecrets), Deps{})
	require.NoError(t, err)

	readings, err := p.Transform([]weather.RawResponse{okResponse(weather.StationSpectrum, interval(t, noon, 14*time.Minute), spectrumBody)})
	require.NoError(t, err)
	require.Len(t, readings, 2)

	r := readings[0]
	require.Equal(t, noon, r.DataDatetime)
	requireFloat(t, 20, r.AirTemp)
	requireFloat(t, 50, r.RelativeHumidity)
	requireFloat(t, 12.7, r.Precip)
	requireFloat(t, 4.470, r.WindSpeed)
	requireFloat(t, 10, r.WindGust)
	requireFloat(t, 1, r.LeafWetness)
	requireFloat(t, 18.5, r.SoilTemp)

	require.Equal(t, noon.Add(5*time.Minute), readings[1].DataDatetime)
	requireFloat(t, 0, readings[1].LeafWetness)
}
