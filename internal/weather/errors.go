package weather

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStationNotFound is returned by a StationRegistry for an unknown id or code.
	ErrStationNotFound = errors.New("station not found")

	// ErrStationHasReadings is returned when a backfill would duplicate existing readings.
	ErrStationHasReadings = errors.New("station already has readings")
)

// IntervalOrderError reports an interval whose end is not after its start.
type IntervalOrderError struct {
	Start time.Time
	End   time.Time
}

func (e *IntervalOrderError) Error() string {
	return fmt.Sprintf("interval end %s is not after start %s",
		e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
}

// TimezoneError reports a non-UTC instant where UTC is required, or an unknown IANA zone.
type TimezoneError struct {
	Instant time.Time
	Zone    string
	Err     error
}

func (e *TimezoneError) Error() string {
	if e.Zone != "" {
		if e.Err != nil {
			return fmt.Sprintf("invalid timezone %q: %v", e.Zone, e.Err)
		}
		return fmt.Sprintf("invalid timezone %q", e.Zone)
	}
	return fmt.Sprintf("instant %s is not UTC (location %s)",
		e.Instant.Format(time.RFC3339), e.Instant.Location())
}

func (e *TimezoneError) Unwrap() error {
	return e.Err
}

// TransportError is a network or HTTP failure talking to a vendor.
type TransportError struct {
	Vendor     StationType
	Interval   TimeInterval
	StatusCode int
	Body       []byte
	Err        error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s request for %s failed", e.Vendor, e.Interval)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RateLimitExceededError is returned once vendor throttling outlasts the bounded retries.
type RateLimitExceededError struct {
	Vendor   StationType
	Interval TimeInterval
	Attempts int
	Wait     time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("%s rate limit still in effect after %d attempts for %s (last wait %s)",
		e.Vendor, e.Attempts, e.Interval, e.Wait)
}

// NoDataError is a well-formed vendor response that carries no sensor values.
type NoDataError struct {
	StationID  string
	ResponseID string
	Interval   TimeInterval
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("no data in response %s for station %s over %s", e.ResponseID, e.StationID, e.Interval)
}

// TransformError is a response that parsed but yielded no canonical reading.
type TransformError struct {
	StationID  string
	ResponseID string
	Err        error
}

func (e *TransformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transform response %s for station %s: %v", e.ResponseID, e.StationID, e.Err)
	}
	return fmt.Sprintf("transform response %s for station %s: no readings", e.ResponseID, e.StationID)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// IntegrityError is a storage constraint violation such as a duplicate key.
type IntegrityError struct {
	Op  string
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation on %s: %v", e.Op, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// MalformedConfigError reports a station entry that exists but cannot be used.
type MalformedConfigError struct {
	StationID string
	Reason    string
	Err       error
}

func (e *MalformedConfigError) Error() string {
	msg := fmt.Sprintf("malformed config for station %s: %s", e.StationID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedConfigError) Unwrap() error {
	return e.Err
}
