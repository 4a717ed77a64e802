package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/pws-ingest/internal/weather"
)

var (
	// ErrNotFound is returned when no record exists for the requested id.
	ErrNotFound = errors.New("record not found")
)

// stationHistory holds a station's readings ordered by data time.
type stationHistory struct {
	readings []weather.Reading
}

// MemoryStore is a concurrency-safe in-memory implementation of weather.Store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: station id
	data map[string]*stationHistory

	responses  map[string]weather.RawResponse
	byResponse map[string][]int64
	byID       map[int64]weather.Reading
	nextID     int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*stationHistory),
		responses:  make(map[string]weather.RawResponse),
		byResponse: make(map[string][]int64),
		byID:       make(map[int64]weather.Reading),
	}
}

// Append stores resp and its readings atomically. Readings are re-pointed at resp.
func (s *MemoryStore) Append(_ context.Context, resp weather.RawResponse, readings []weather.Reading) (string, []int64, error) {
	if resp.ID == "" {
		return "", nil, &weather.IntegrityError{Op: "append response", Err: errors.New("empty response id")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.responses[resp.ID]; ok {
		return "", nil, &weather.IntegrityError{Op: "append response", Err: fmt.Errorf("duplicate response id %s", resp.ID)}
	}
	for _, r := range readings {
		if r.StationID != "" && r.StationID != resp.StationID {
			return "", nil, &weather.IntegrityError{
				Op:  "append reading",
				Err: fmt.Errorf("reading for station %s under response of %s", r.StationID, resp.StationID),
			}
		}
	}

	resp.Body = append([]byte(nil), resp.Body...)
	s.responses[resp.ID] = resp

	history, ok := s.data[resp.StationID]
	if !ok {
		history = &stationHistory{}
		s.data[resp.StationID] = history
	}

	ids := make([]int64, 0, len(readings))
	for _, r := range readings {
		s.nextID++
		r.ID = s.nextID
		r.ResponseID = resp.ID
		r.StationID = resp.StationID
		r.DataDatetime = r.DataDatetime.UTC()

		history.readings = append(history.readings, r)
		s.byID[r.ID] = r
		ids = append(ids, r.ID)
	}
	sort.SliceStable(history.readings, func(i, j int) bool {
		return history.readings[i].DataDatetime.Before(history.readings[j].DataDatetime)
	})
	s.byResponse[resp.ID] = ids
	return resp.ID, ids, nil
}

// LatestReadingTimestamp returns the station's newest reading time.
func (s *MemoryStore) LatestReadingTimestamp(_ context.Context, stationID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[stationID]
	if !ok || len(history.readings) == 0 {
		return time.Time{}, false, nil
	}
	return history.readings[len(history.readings)-1].DataDatetime, true, nil
}

func (s *MemoryStore) HasAnyReadings(ctx context.Context, stationID string) (bool, error) {
	_, ok, err := s.LatestReadingTimestamp(ctx, stationID)
	return ok, err
}

// Response returns the stored raw response with the given id.
func (s *MemoryStore) Response(_ context.Context, id string) (weather.RawResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp, ok := s.responses[id]
	if !ok {
		return weather.RawResponse{}, ErrNotFound
	}
	resp.Body = append([]byte(nil), resp.Body...)
	return resp, nil
}

// ReadingsByResponse returns the readings derived from one response, in insertion order.
func (s *MemoryStore) ReadingsByResponse(_ context.Context, responseID string) ([]weather.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.byResponse[responseID]
	if !ok {
		return nil, ErrNotFound
	}
	result := make([]weather.Reading, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.byID[id])
	}
	return result, nil
}

// ReadingsBetween returns all readings for a station between from and to (inclusive).
func (s *MemoryStore) ReadingsBetween(_ context.Context, stationID string, from, to time.Time) ([]weather.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[stationID]
	if !ok {
		return nil, nil
	}

	var result []weather.Reading
	for _, r := range history.readings {
		if (r.DataDatetime.Equal(from) || r.DataDatetime.After(from)) &&
			(r.DataDatetime.Equal(to) || r.DataDatetime.Before(to)) {
			result = append(result, r)
		}
	}
	return result, nil
}

var _ weather.Store = (*MemoryStore)(nil)
