package weather

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// FahrenheitToCelsius converts °F to °C.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}

// CelsiusToFahrenheit converts °C to °F.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// MphToMS converts miles per hour to metres per second.
func MphToMS(mph float64) float64 {
	return mph * 0.44704
}

// KphToMS converts kilometres per hour to metres per second.
func KphToMS(kph float64) float64 {
	return kph / 3.6
}

// InchesToMM converts inches to millimetres.
func InchesToMM(in float64) float64 {
	return in * 25.4
}

// Wetness thresholds a raw analog or percentage leaf-wetness value into 1.0 (wet) or 0.0 (dry).
// Values at or above threshold count as wet.
func Wetness(raw, threshold float64) float64 {
	if raw >= threshold {
		return 1.0
	}
	return 0.0
}

// Round keeps a converted value at a fixed number of decimals.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// LocalToUTC parses a naive vendor timestamp in the station's zone and normalizes it to UTC.
func LocalToUTC(layout, value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		return time.Time{}, &TimezoneError{Zone: "<nil>"}
	}
	t, err := time.ParseInLocation(layout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse local timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}

// UTCToLocal formats a UTC instant as the vendor's naive local wall-clock string.
func UTCToLocal(layout string, t time.Time, loc *time.Location) string {
	return t.In(loc).Format(layout)
}

// EpochToUTC converts unix seconds to a UTC instant.
func EpochToUTC(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
