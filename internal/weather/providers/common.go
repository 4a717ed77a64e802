package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/i474232898/pws-ingest/internal/weather"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig

	// OwnRateLimit hands 429 replies straight back to the caller instead of retrying them.
	OwnRateLimit bool
}

// DefaultBackoff is used by every adapter unless Deps overrides it.
var DefaultBackoff = BackoffConfig{
	MaxRetries:      3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

var (
	errServerError   = errors.New("server error")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// statusError is a non-2xx vendor reply. The body is kept so callers can scrape it.
type statusError struct {
	code   int
	status string
	body   []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.status)
}

// retryable reports whether another attempt may succeed.
func (e *statusError) retryable(cfg HTTPClientConfig) bool {
	if e.code == http.StatusTooManyRequests {
		return !cfg.OwnRateLimit
	}
	return e.code >= 500
}

// exchange is one completed HTTP round trip.
type exchange struct {
	statusCode  int
	status      string
	body        []byte
	requestTime time.Time
}

// doRequestWithResilience executes the HTTP request with retries, exponential backoff,
// and a circuit breaker. Client errors other than 429 are not retried.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error),
) (exchange, int, error) {
	if cfg.Client == nil {
		return exchange{}, 0, errNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 || cfg.Backoff.InitialInterval <= 0 {
		return exchange{}, 0, errInvalidConfig
	}

	var attempt int
	var lastErr error

	for {
		if ctx.Err() != nil {
			return exchange{}, attempt, ctx.Err()
		}

		req, err := buildRequest()
		if err != nil {
			return exchange{}, attempt, err
		}

		// Ensure the request obeys context cancellation.
		req = req.WithContext(ctx)
		requestTime := time.Now().UTC()

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := cfg.Client.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
				return nil, &statusError{code: resp.StatusCode, status: resp.Status, body: payload}
			}

			body, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				return nil, fmt.Errorf("read response body: %w", readErr)
			}
			return exchange{
				statusCode:  resp.StatusCode,
				status:      resp.Status,
				body:        body,
				requestTime: requestTime,
			}, nil
		})

		if err == nil {
			ex, ok := result.(exchange)
			if !ok {
				return exchange{}, attempt + 1, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return ex, attempt + 1, nil
		}

		// If circuit is open, propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return exchange{}, attempt + 1, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}

		var se *statusError
		if errors.As(err, &se) && !se.retryable(cfg) {
			return exchange{}, attempt + 1, err
		}

		lastErr = err
		if attempt >= cfg.Backoff.MaxRetries {
			return exchange{}, attempt + 1, lastErr
		}

		// Backoff with exponential delay.
		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > cfg.Backoff.MaxInterval && cfg.Backoff.MaxInterval > 0 {
			delay = cfg.Backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return exchange{}, attempt + 1, ctx.Err()
		case <-timer.C:
			// continue to next attempt
		}

		attempt++
	}
}

// serverFailure reports whether err was a 5xx reply.
func serverFailure(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code >= 500
}

// vendorClient is the transport shared by every adapter: one circuit breaker per station.
type vendorClient struct {
	vendor  weather.StationType
	station weather.StationConfig
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func newVendorClient(vendor weather.StationType, station weather.StationConfig, deps Deps) vendorClient {
	name := fmt.Sprintf("%s:%s", vendor, station.ID)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
	return vendorClient{
		vendor:  vendor,
		station: station,
		httpCfg: HTTPClientConfig{
			Client:  deps.client(),
			Backoff: deps.backoff(),
		},
		circuit: cb,
	}
}

// fetch performs one logical vendor call for iv and wraps the reply as a RawResponse.
func (v vendorClient) fetch(ctx context.Context, iv weather.TimeInterval, buildRequest func() (*http.Request, error)) (weather.RawResponse, error) {
	ex, attempts, err := doRequestWithResilience(ctx, v.httpCfg, v.circuit, buildRequest)
	if err != nil {
		return weather.RawResponse{}, v.classify(iv, attempts, err)
	}
	return v.rawResponse(iv, ex), nil
}

func (v vendorClient) rawResponse(iv weather.TimeInterval, ex exchange) weather.RawResponse {
	return weather.RawResponse{
		ID:          uuid.NewString(),
		StationID:   v.station.ID,
		StationType: v.vendor,
		DataStart:   iv.Start,
		DataEnd:     iv.End,
		RequestTime: ex.requestTime,
		StatusCode:  ex.statusCode,
		Status:      ex.status,
		Body:        ex.body,
	}
}

// classify maps a transport failure onto the domain error taxonomy.
func (v vendorClient) classify(iv weather.TimeInterval, attempts int, err error) error {
	var se *statusError
	if errors.As(err, &se) {
		if se.code == http.StatusTooManyRequests {
			return &weather.RateLimitExceededError{Vendor: v.vendor, Interval: iv, Attempts: attempts}
		}
		if serverFailure(err) {
			err = fmt.Errorf("%w: %v", errServerError, err)
		}
		return &weather.TransportError{Vendor: v.vendor, Interval: iv, StatusCode: se.code, Body: se.body, Err: err}
	}
	return &weather.TransportError{Vendor: v.vendor, Interval: iv, Err: err}
}

// okBody returns the body of a successful response, or nil.
func okBody(resp weather.RawResponse) []byte {
	if !resp.OK() || len(resp.Body) == 0 {
		return nil
	}
	return resp.Body
}

// leafThreshold picks the station override or the vendor calibration constant.
func leafThreshold(station weather.StationConfig, def float64) float64 {
	if station.LeafWetnessThreshold != nil {
		return *station.LeafWetnessThreshold
	}
	return def
}
