package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/pws-ingest/internal/stations"
	"github.com/i474232898/pws-ingest/internal/store"
	"github.com/i474232898/pws-ingest/internal/weather"
)

const registryDoc = `
stations:
  - id: farm-north
    code: FN01
    type: davis
    timezone: America/Chicago
  - id: orchard
    type: onset
    timezone: America/Los_Angeles
`

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	reg, err := stations.Parse([]byte(registryDoc))
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}

	memStore := store.NewMemoryStore()
	resp := weather.RawResponse{
		ID:          "resp-1",
		StationID:   "farm-north",
		StationType: weather.StationDavis,
		DataStart:   base.Add(-time.Hour),
		DataEnd:     base,
		RequestTime: base,
		StatusCode:  http.StatusOK,
		Status:      "200 OK",
		Body:        []byte(`{"sensors":[]}`),
	}
	readings := []weather.Reading{
		{DataDatetime: base.Add(-30 * time.Minute), AirTemp: weather.Float(20)},
		{DataDatetime: base, AirTemp: weather.Float(21)},
	}
	if _, _, err := memStore.Append(context.Background(), resp, readings); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	app := fiber.New()
	RegisterRoutes(app, reg, memStore)
	return app
}

func get(t *testing.T, app *fiber.App, url string) (int, []byte) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, url, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, body
}

func TestStationsAndWatermark(t *testing.T) {
	app := newTestApp(t)

	code, body := get(t, app, "/api/v1/stations")
	if code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, code)
	}
	var list struct {
		Stations []weather.StationConfig `json:"stations"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode stations: %v", err)
	}
	if len(list.Stations) != 2 {
		t.Fatalf("expected 2 stations, got %d", len(list.Stations))
	}

	// Looked up by code.
	code, body = get(t, app, "/api/v1/stations/FN01/watermark")
	if code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, code)
	}
	var wm struct {
		Station   string    `json:"station"`
		Watermark time.Time `json:"watermark"`
	}
	if err := json.Unmarshal(body, &wm); err != nil {
		t.Fatalf("decode watermark: %v", err)
	}
	if wm.Station != "farm-north" || !wm.Watermark.Equal(base) {
		t.Fatalf("unexpected watermark %+v", wm)
	}

	// Known station without readings.
	if code, _ = get(t, app, "/api/v1/stations/orchard/watermark"); code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, code)
	}
	if code, _ = get(t, app, "/api/v1/stations/unknown/watermark"); code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, code)
	}
}

func TestReadingsRangeValidation(t *testing.T) {
	app := newTestApp(t)

	cases := []struct {
		url  string
		want int
	}{
		{"/api/v1/stations/farm-north/readings", http.StatusBadRequest},
		{"/api/v1/stations/farm-north/readings?from=yesterday&to=today", http.StatusBadRequest},
		{"/api/v1/stations/farm-north/readings?from=2024-05-02T00:00:00Z&to=2024-05-01T00:00:00Z", http.StatusBadRequest},
		{"/api/v1/stations/nope/readings?from=2024-05-01T00:00:00Z&to=2024-05-02T00:00:00Z", http.StatusNotFound},
	}
	for _, tc := range cases {
		if code, _ := get(t, app, tc.url); code != tc.want {
			t.Fatalf("%s: expected status %d, got %d", tc.url, tc.want, code)
		}
	}
}

func TestReadingsInRange(t *testing.T) {
	app := newTestApp(t)

	from := base.Add(-45 * time.Minute).Unix()
	to := base.Add(-15 * time.Minute).Unix()
	code, body := get(t, app, "/api/v1/stations/farm-north/readings?from="+strconv.FormatInt(from, 10)+"&to="+strconv.FormatInt(to, 10))
	if code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, code)
	}

	var out struct {
		Readings []weather.Reading `json:"readings"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode readings: %v", err)
	}
	if len(out.Readings) != 1 || *out.Readings[0].AirTemp != 20 {
		t.Fatalf("unexpected readings %+v", out.Readings)
	}
}

func TestResponseEndpoints(t *testing.T) {
	app := newTestApp(t)

	code, body := get(t, app, "/api/v1/responses/resp-1")
	if code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, code)
	}
	var resp weather.RawResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.StationID != "farm-north" || resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected response %+v", resp)
	}

	code, body = get(t, app, "/api/v1/responses/resp-1/body")
	if code != http.StatusOK || string(body) != `{"sensors":[]}` {
		t.Fatalf("unexpected raw body %d %q", code, body)
	}

	code, body = get(t, app, "/api/v1/responses/resp-1/readings")
	if code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, code)
	}
	var out struct {
		Readings []weather.Reading `json:"readings"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode readings: %v", err)
	}
	if len(out.Readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(out.Readings))
	}

	for _, url := range []string{"/api/v1/responses/missing", "/api/v1/responses/missing/readings"} {
		if code, _ := get(t, app, url); code != http.StatusNotFound {
			t.Fatalf("%s: expected status %d, got %d", url, http.StatusNotFound, code)
		}
	}
}
