package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/i474232898/pws-ingest/internal/weather"
)

// noon is 2024-05-01T12:00:00Z, the anchor of most fixtures.
var noon = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testStation(t weather.StationType, secrets map[string]string) weather.StationConfig {
	return weather.StationConfig{
		ID:               "st-" + string(t),
		Code:             "code-" + string(t),
		Type:             t,
		Timezone:         "America/New_York",
		SamplingInterval: 15,
		Secrets:          secrets,
	}
}

// sleepRecorder captures requested waits instead of sleeping.
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return nil
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func testDeps(srv *httptest.Server, vendor weather.StationType, sleeper *sleepRecorder) Deps {
	deps := Deps{
		Client:   srv.Client(),
		BaseURLs: map[weather.StationType]string{vendor: srv.URL},
		Backoff:  &BackoffConfig{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}
	if sleeper != nil {
		deps.Sleep = sleeper.sleep
	}
	return deps
}

func interval(t *testing.T, start time.Time, span time.Duration) weather.TimeInterval {
	t.Helper()
	iv, err := weather.NewInterval(start, start.Add(span))
	require.NoError(t, err)
	return iv
}

func okResponse(vendor weather.StationType, iv weather.TimeInterval, body string) weather.RawResponse {
	return weather.RawResponse{
		ID:          "resp-1",
		StationID:   "st-" + string(vendor),
		StationType: vendor,
		DataStart:   iv.Start,
		DataEnd:     iv.End,
		StatusCode:  http.StatusOK,
		Status:      "200 OK",
		Body:        []byte(body),
	}
}

func requireFloat(t *testing.T, want float64, got *float64) {
	t.Helper()
	require.NotNil(t, got)
	require.InDelta(t, want, *got, 0.001)
}
