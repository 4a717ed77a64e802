package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/i474232898/pws-ingest/internal/weather"
)

type fakeCollector struct {
	id       string
	calls    atomic.Int32
	err      error
	delay    time.Duration
	deadline atomic.Bool
}

func (f *fakeCollector) Station() weather.StationConfig {
	return weather.StationConfig{ID: f.id, Type: weather.StationDavis}
}

func (f *fakeCollector) CatchUp(ctx context.Context) (weather.Result, error) {
	f.calls.Add(1)
	if _, ok := ctx.Deadline(); ok {
		f.deadline.Store(true)
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return weather.Result{}, ctx.Err()
		}
	}
	if f.err != nil {
		return weather.Result{}, f.err
	}
	return weather.Result{ResponseIDs: []string{f.id + "-resp"}, ReadingIDs: []int64{1}}, nil
}

func TestRunOnceCoversEveryStation(t *testing.T) {
	ok := &fakeCollector{id: "a"}
	failing := &fakeCollector{id: "b", err: errors.New("vendor down")}
	empty := &fakeCollector{id: "c", err: &weather.NoDataError{StationID: "c"}}

	s := New([]Collector{ok, failing, empty}, 15*time.Minute, time.Second)
	s.RunOnce(context.Background())

	for _, c := range []*fakeCollector{ok, failing, empty} {
		require.EqualValues(t, 1, c.calls.Load(), c.id)
		require.True(t, c.deadline.Load(), c.id)
	}
}

func TestRunOnceCycleTimeout(t *testing.T) {
	slow := &fakeCollector{id: "slow", delay: time.Minute}
	s := New([]Collector{slow}, 15*time.Minute, 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.RunOnce(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cycle did not honor its timeout")
	}
}

func TestStartRunsImmediately(t *testing.T) {
	c := &fakeCollector{id: "a"}
	s := New([]Collector{c}, 15*time.Minute, time.Second)
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool { return c.calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStartWithoutStations(t *testing.T) {
	s := New(nil, 15*time.Minute, time.Second)
	require.NoError(t, s.Start())
	s.Stop()
}
