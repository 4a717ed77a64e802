package weather

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUnitConversions(t *testing.T) {
	require.InDelta(t, 0, FahrenheitToCelsius(32), 1e-9)
	require.InDelta(t, 100, FahrenheitToCelsius(212), 1e-9)
	require.InDelta(t, 68, CelsiusToFahrenheit(20), 1e-9)
	require.InDelta(t, 4.4704, MphToMS(10), 1e-9)
	require.InDelta(t, 10, KphToMS(36), 1e-9)
	require.InDelta(t, 25.4, InchesToMM(1), 1e-9)
	require.Equal(t, 1.235, Round(1.23456, 3))
}

func TestWetness(t *testing.T) {
	require.Equal(t, 1.0, Wetness(8, 8))
	require.Equal(t, 1.0, Wetness(15, 8))
	require.Equal(t, 0.0, Wetness(7.9, 8))
}

func TestLocalConversionsRoundTrip(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	utc, err := LocalToUTC("2006-01-02 15:04:05", "2024-01-15 06:30:00", loc)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC), utc)
	require.Equal(t, "2024-01-15 06:30:00", UTCToLocal("2006-01-02 15:04:05", utc, loc))

	// Daylight saving time shifts the offset.
	utc, err = LocalToUTC("2006-01-02 15:04:05", "2024-07-15 06:30:00", loc)
	require.NoError(t, err)
	require.Equal(t, 13, utc.Hour())

	_, err = LocalToUTC("2006-01-02 15:04:05", "15/07/2024", loc)
	require.Error(t, err)

	_, err = LocalToUTC("2006-01-02 15:04:05", "2024-07-15 06:30:00", nil)
	var tz *TimezoneError
	require.ErrorAs(t, err, &tz)

	require.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), EpochToUTC(1714564800))
}
