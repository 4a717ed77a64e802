package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/i474232898/pws-ingest/internal/weather"
)

var locomosSecrets = map[string]string{"token": "BBFF-abc", "device_id": "locomos-7"}

const locomosVariables = `{"count": 3, "results": [
  {"id": "v-temp", "label": "temperature", "name": "Temperature"},
  {"id": "v-batt", "label": "battery", "name": "Battery"},
  {"id": "v-leaf", "label": "leaf-wetness", "name": "Leaf Wetness"}
]}`

const locomosSeries = `{"results": [
  [[20.5, 1714564800000, "temperature"], [20.9, 1714565100000, "temperature"]],
  [[1250, 1714564800000, "leaf-wetness"], [400, 1714565100000, "leaf-wetness"], [null, 1714565400000, "leaf-wetness"]]
]}`

type locomosFake struct {
	varCalls    atomic.Int32
	seriesCalls atomic.Int32
	lastRequest atomic.Value
}

func (f *locomosFake) handler(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Auth-Token") != "BBFF-abc" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/v2.0/devices/~locomos-7/variables/":
		f.varCalls.Add(1)
		_, _ = fmt.Fprint(w, locomosVariables)
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1.6/data/raw/series":
		f.seriesCalls.Add(1)
		var req locomosSeriesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.lastRequest.Store(req)
		_, _ = fmt.Fprint(w, locomosSeries)
	default:
		http.NotFound(w, r)
	}
}

func TestLocomosFetchRaw(t *testing.T) {
	fake := &locomosFake{}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	p, err := NewLocomosProvider(testStation(weather.StationLocomos, locomosSecrets), testDeps(srv, weather.StationLocomos, nil))
	require.NoError(t, err)

	iv := interval(t, noon, 14*time.Minute)
	resps, err := p.FetchRaw(context.Background(), iv)
	require.NoError(t, err)
	require.Len(t, resps, 1)
	require.True(t, p.HasData(resps[0]))
	require.JSONEq(t, locomosSeries, string(resps[0].Body))

	req := fake.lastRequest.Load().(locomosSeriesRequest)
	require.Equal(t, []string{"v-temp", "v-leaf"}, req.Variables)
	require.Equal(t, []string{"value.value", "timestamp", "variable.label"}, req.Columns)
	require.False(t, req.JoinDataFrames)
	require.Equal(t, iv.Start.UnixMilli(), req.Start)
	require.Equal(t, iv.End.UnixMilli(), req.End)

	readings, err := p.Transform(resps)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	requireFloat(t, 20.5, readings[0].AirTemp)
	requireFloat(t, 1, readings[0].LeafWetness)
	require.Equal(t, noon.Add(5*time.Minute), readings[1].DataDatetime)
	requireFloat(t, 0, readings[1].LeafWetness)
}

func TestLocomosVariableCache(t *testing.T) {
	fake := &locomosFake{}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	p, err := NewLocomosProvider(testStation(weather.StationLocomos, locomosSecrets), testDeps(srv, weather.StationLocomos, nil))
	require.NoError(t, err)

	iv := interval(t, noon, 14*time.Minute)
	for i := 0; i < 3; i++ {
		_, err := p.FetchRaw(context.Background(), iv)
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, fake.varCalls.Load())
	require.EqualValues(t, 3, fake.seriesCalls.Load())

	p.InvalidateVariables()
	_, err = p.FetchRaw(context.Background(), iv)
	require.NoError(t, err)
	require.EqualValues(t, 2, fake.varCalls.Load())
}

func TestLocomosHasData(t *testing.T) {
	p, err := NewLocomosProvider(testStation(weather.StationLocomos, locomosSecrets), Deps{})
	require.NoError(t, err)
	iv := interval(t, noon, 14*time.Minute)

	require.False(t, p.HasData(okResponse(weather.StationLocomos, iv, `{"results":[]}`)))
	require.False(t, p.HasData(okResponse(weather.StationLocomos, iv, `{"results":[[],[]]}`)))
	require.True(t, p.HasData(okResponse(weather.StationLocomos, iv, locomosSeries)))
}

func TestLocomosTransformStoredBody(t *testing.T) {
	fake := &locomosFake{}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	station := testStation(weather.StationLocomos, locomosSecrets)
	fetcher, err := NewLocomosProvider(station, testDeps(srv, weather.StationLocomos, nil))
	require.NoError(t, err)

	resps, err := fetcher.FetchRaw(context.Background(), interval(t, noon, 14*time.Minute))
	require.NoError(t, err)
	want, err := fetcher.Transform(resps)
	require.NoError(t, err)

	// Same instance after dropping its variable list.
	fetcher.InvalidateVariables()
	got, err := fetcher.Transform(resps)
	require.NoError(t, err)
	require.Equal(t, want, got)

	// A fresh adapter that never listed variables, replaying the stored body.
	replay, err := NewLocomosProvider(station, Deps{})
	require.NoError(t, err)
	got, err = replay.Transform(resps)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.EqualValues(t, 1, fake.varCalls.Load())
}

func TestLocomosTransformSkipsUnknownLabels(t *testing.T) {
	p, err := NewLocomosProvider(testStation(weather.StationLocomos, locomosSecrets), Deps{})
	require.NoError(t, err)
	iv := interval(t, noon, 14*time.Minute)

	body := `{"results": [[[3.9, 1714564800000, "battery"], [55, 1714564800000, "humidity"]]]}`
	readings, err := p.Transform([]weather.RawResponse{okResponse(weather.StationLocomos, iv, body)})
	require.NoError(t, err)
	require.Len(t, readings, 1)
	requireFloat(t, 55, readings[0].RelativeHumidity)
	require.Nil(t, readings[0].AirTemp)
}

func TestLocomosTransformMalformedRow(t *testing.T) {
	p, err := NewLocomosProvider(testStation(weather.StationLocomos, locomosSecrets), Deps{})
	require.NoError(t, err)

	body := `{"results": [[[20.5, 1714564800000]]]}`
	_, err = p.Transform([]weather.RawResponse{okResponse(weather.StationLocomos, interval(t, noon, 14*time.Minute), body)})
	var te *weather.TransformError
	require.ErrorAs(t, err, &te)
}
