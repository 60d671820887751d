package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newroi/ledger-service/internal/service"
	"newroi/ledger-service/pkg/logger"
)

type fakeRunner struct {
	mu       sync.Mutex
	requests []service.RunRequest
	err      error
	onRun    func(n int)
}

func (f *fakeRunner) Run(_ context.Context, req service.RunRequest) (*service.RunSummary, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()
	if f.onRun != nil {
		f.onRun(n)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &service.RunSummary{RunID: "run", Date: req.Date.Format("2006-01-02")}, nil
}

var tehran = time.FixedZone("IRST", 3*3600+1800)

func TestNextRun(t *testing.T) {
	s := New(&fakeRunner{}, tehran, 1, logger.NewDiscard())

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "before the hour fires today",
			now:  time.Date(2024, 1, 15, 0, 30, 0, 0, tehran),
			want: time.Date(2024, 1, 15, 1, 0, 0, 0, tehran),
		},
		{
			name: "exactly at the hour waits a day",
			now:  time.Date(2024, 1, 15, 1, 0, 0, 0, tehran),
			want: time.Date(2024, 1, 16, 1, 0, 0, 0, tehran),
		},
		{
			name: "utc input is resolved in the reference zone",
			now:  time.Date(2024, 1, 14, 21, 0, 0, 0, time.UTC),
			want: time.Date(2024, 1, 15, 1, 0, 0, 0, tehran),
		},
		{
			name: "month rollover",
			now:  time.Date(2024, 1, 31, 23, 0, 0, 0, tehran),
			want: time.Date(2024, 2, 1, 1, 0, 0, 0, tehran),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(s.NextRun(tt.now)), "got %s", s.NextRun(tt.now))
		})
	}
}

func TestStartRunsDailyUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &fakeRunner{onRun: func(n int) {
		if n == 2 {
			cancel()
		}
	}}
	s := New(runner, tehran, 1, logger.NewDiscard())

	clock := time.Date(2024, 1, 15, 0, 0, 0, 0, tehran)
	var waits []time.Duration
	s.now = func() time.Time { return clock }
	s.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		clock = clock.Add(d)
		ch := make(chan time.Time, 1)
		ch <- clock
		return ch
	}

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	require.Len(t, runner.requests, 2)
	assert.Equal(t, "2024-01-15", runner.requests[0].Date.Format("2006-01-02"))
	assert.Equal(t, "2024-01-16", runner.requests[1].Date.Format("2006-01-02"))
	assert.False(t, runner.requests[0].IsManual)
	assert.False(t, runner.requests[0].ForceRerun)
	require.GreaterOrEqual(t, len(waits), 2)
	assert.Equal(t, time.Hour, waits[0])
	assert.Equal(t, 24*time.Hour, waits[1])
}

func TestStartSurvivesRunErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &fakeRunner{err: errors.New("settings unavailable"), onRun: func(n int) {
		if n == 2 {
			cancel()
		}
	}}
	s := New(runner, time.UTC, 0, logger.NewDiscard())
	clock := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	s.after = func(d time.Duration) <-chan time.Time {
		clock = clock.Add(d)
		ch := make(chan time.Time, 1)
		ch <- clock
		return ch
	}

	s.Start(ctx)
	assert.Len(t, runner.requests, 2)
}

func TestStartStopsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &fakeRunner{}
	s := New(runner, time.UTC, 0, logger.NewDiscard())
	s.after = func(time.Duration) <-chan time.Time { return make(chan time.Time) }

	s.Start(ctx)
	assert.Empty(t, runner.requests)
}
