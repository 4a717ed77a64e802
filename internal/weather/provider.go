package weather

import (
	"context"
	"time"
)

// WeatherAPI abstracts one station's vendor cloud API (Davis, Onset, Zentra, ...).
type WeatherAPI interface {
	// Type is the vendor tag this adapter speaks.
	Type() StationType

	// FetchRaw issues one or more HTTP calls covering iv. Vendors that cap the request span
	// or paginate return several responses.
	FetchRaw(ctx context.Context, iv TimeInterval) ([]RawResponse, error)

	// HasData is a cheap presence check. A 200 with a valid but sensor-empty body is false.
	HasData(resp RawResponse) bool

	// Transform harmonizes every sensor group of the given responses into canonical readings,
	// one per timestamp. It is a pure function of response content.
	Transform(resps []RawResponse) ([]Reading, error)
}

// Store is the durable append-only log of raw responses and readings.
type Store interface {
	// Append writes resp and its readings in a single transaction and returns their ids.
	Append(ctx context.Context, resp RawResponse, readings []Reading) (string, []int64, error)

	LatestReadingTimestamp(ctx context.Context, stationID string) (time.Time, bool, error)
	HasAnyReadings(ctx context.Context, stationID string) (bool, error)

	Response(ctx context.Context, id string) (RawResponse, error)
	ReadingsByResponse(ctx context.Context, responseID string) ([]Reading, error)
	ReadingsBetween(ctx context.Context, stationID string, from, to time.Time) ([]Reading, error)
}

// StationRegistry resolves station configuration by id or code.
type StationRegistry interface {
	LoadStationConfig(idOrCode string) (StationConfig, error)
	List() []StationConfig
}
