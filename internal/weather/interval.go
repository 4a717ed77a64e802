package weather

import (
	"fmt"
	"time"
)

// StandardLookback is the "poll now" window. On a 15 minute cadence it keeps consecutive
// polls from re-ingesting the boundary sample of the previous poll.
const StandardLookback = 14 * time.Minute

// boundary is the cadence that PreviousInterval truncates to.
const boundary = 15

// TimeInterval is an immutable UTC window with Start strictly before End.
type TimeInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewInterval validates start and end: both must be UTC and start must precede end.
func NewInterval(start, end time.Time) (TimeInterval, error) {
	if err := requireUTC(start); err != nil {
		return TimeInterval{}, err
	}
	if err := requireUTC(end); err != nil {
		return TimeInterval{}, err
	}
	if !end.After(start) {
		return TimeInterval{}, &IntervalOrderError{Start: start, End: end}
	}
	return TimeInterval{Start: start, End: end}, nil
}

// PreviousInterval returns [mark-delta, mark] where mark is ref truncated down to the
// nearest 15 minute boundary.
func PreviousInterval(ref time.Time, delta time.Duration) (TimeInterval, error) {
	if err := requireUTC(ref); err != nil {
		return TimeInterval{}, err
	}
	mark := time.Date(ref.Year(), ref.Month(), ref.Day(), ref.Hour(), ref.Minute()-ref.Minute()%boundary, 0, 0, time.UTC)
	return NewInterval(mark.Add(-delta), mark)
}

// OneDayInterval returns [00:00, 23:59] UTC for the calendar date of d, read in d's own
// location. The end stops a minute short of midnight so consecutive days never overlap.
func OneDayInterval(d time.Time) TimeInterval {
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return TimeInterval{Start: start, End: start.Add(24*time.Hour - time.Minute)}
}

// IntervalFromBounds derives an interval from optional bounds. With neither bound it is
// PreviousInterval(now, lookback); a lone end yields [end-lookback, end] and a lone start
// yields [start, start+lookback].
func IntervalFromBounds(start, end *time.Time, lookback time.Duration, now time.Time) (TimeInterval, error) {
	if lookback <= 0 {
		lookback = StandardLookback
	}
	switch {
	case start != nil && end != nil:
		return NewInterval(*start, *end)
	case end != nil:
		return NewInterval(end.Add(-lookback), *end)
	case start != nil:
		return NewInterval(*start, start.Add(lookback))
	default:
		return PreviousInterval(now, lookback)
	}
}

// LocalDateRangeInterval converts the local calendar days first..last (inclusive) in the IANA
// zone tz into a UTC interval running from local midnight of first to 23:59 local on last.
func LocalDateRangeInterval(first, last time.Time, tz string) (TimeInterval, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return TimeInterval{}, &TimezoneError{Zone: tz, Err: err}
	}
	start := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)
	end := time.Date(last.Year(), last.Month(), last.Day(), 23, 59, 0, 0, loc)
	return NewInterval(start.UTC(), end.UTC())
}

// Duration is End-Start.
func (iv TimeInterval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Minutes is the interval length in minutes.
func (iv TimeInterval) Minutes() float64 {
	return iv.Duration().Minutes()
}

// IsUTC reports whether both bounds carry the UTC location.
func (iv TimeInterval) IsUTC() bool {
	return iv.Start.Location() == time.UTC && iv.End.Location() == time.UTC
}

// Validate re-checks the interval invariants, for intervals built as struct literals.
func (iv TimeInterval) Validate() error {
	_, err := NewInterval(iv.Start, iv.End)
	return err
}

// Contains reports whether t lies in [Start-slack, End+slack].
func (iv TimeInterval) Contains(t time.Time, slack time.Duration) bool {
	return !t.Before(iv.Start.Add(-slack)) && !t.After(iv.End.Add(slack))
}

// Overlaps reports whether the closed intervals share any instant.
func (iv TimeInterval) Overlaps(o TimeInterval) bool {
	return !iv.End.Before(o.Start) && !o.End.Before(iv.Start)
}

// DaysBefore shifts the interval n calendar days into the past.
func (iv TimeInterval) DaysBefore(n int) TimeInterval {
	return TimeInterval{Start: iv.Start.AddDate(0, 0, -n), End: iv.End.AddDate(0, 0, -n)}
}

// Split cuts the interval into consecutive pieces of at most maxSpan. A trailing piece
// shorter than minRemainder is dropped as long as at least one full piece precedes it.
func (iv TimeInterval) Split(maxSpan, minRemainder time.Duration) []TimeInterval {
	if maxSpan <= 0 || iv.Duration() <= maxSpan {
		return []TimeInterval{iv}
	}
	var parts []TimeInterval
	for start := iv.Start; start.Before(iv.End); start = start.Add(maxSpan) {
		end := start.Add(maxSpan)
		if end.After(iv.End) {
			end = iv.End
		}
		piece := TimeInterval{Start: start, End: end}
		if piece.Duration() < minRemainder && len(parts) > 0 {
			break
		}
		parts = append(parts, piece)
	}
	return parts
}

// ClipEnd returns the interval with End moved back to t when t is earlier. The result is
// unchanged when clipping would empty it.
func (iv TimeInterval) ClipEnd(t time.Time) TimeInterval {
	if t.Before(iv.End) && t.After(iv.Start) {
		return TimeInterval{Start: iv.Start, End: t.UTC()}
	}
	return iv
}

func (iv TimeInterval) String() string {
	return fmt.Sprintf("[%s, %s]", iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
}

func requireUTC(t time.Time) error {
	if t.Location() != time.UTC {
		return &TimezoneError{Instant: t}
	}
	return nil
}
