package weather

import (
	"slices"
	"time"

	"github.com/samber/lo"
)

// ReadingSet merges sensor groups into one reading per timestamp.
//
// Vendors report sensor groups (weather, soil, leaf wetness) separately; entries sharing a
// timestamp collapse into a single Reading that references the first response seen for it.
type ReadingSet struct {
	stationID string
	slack     time.Duration
	byTime    map[int64]*Reading
	dropped   int
}

// NewReadingSet creates an empty set. Readings further than slack outside their response's
// requested interval are dropped.
func NewReadingSet(stationID string, slack time.Duration) *ReadingSet {
	return &ReadingSet{
		stationID: stationID,
		slack:     slack,
		byTime:    make(map[int64]*Reading),
	}
}

// Add merges r into the reading for its timestamp. It returns false when r was rejected for
// being empty or outside the response window.
func (s *ReadingSet) Add(resp RawResponse, r Reading) bool {
	if r.Empty() || r.DataDatetime.IsZero() {
		return false
	}
	ts := r.DataDatetime.UTC().Truncate(time.Second)
	if !resp.DataStart.IsZero() && !resp.Interval().Contains(ts, s.slack) {
		s.dropped++
		return false
	}

	key := ts.Unix()
	existing, ok := s.byTime[key]
	if !ok {
		r.ID = 0
		r.DataDatetime = ts
		r.StationID = s.stationID
		r.ResponseID = resp.ID
		s.byTime[key] = &r
		return true
	}
	existing.merge(r)
	return true
}

// Len is the number of distinct timestamps.
func (s *ReadingSet) Len() int {
	return len(s.byTime)
}

// Dropped counts readings rejected for falling outside their window.
func (s *ReadingSet) Dropped() int {
	return s.dropped
}

// Readings returns the merged readings ordered by timestamp.
func (s *ReadingSet) Readings() []Reading {
	keys := lo.Keys(s.byTime)
	slices.Sort(keys)
	return lo.Map(keys, func(k int64, _ int) Reading {
		return *s.byTime[k]
	})
}
