package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeClock fires every timer immediately, advancing its own time by the
// requested duration plus an optional per-fire lateness.
type fakeClock struct {
	now       time.Time
	late      []time.Duration
	fires     int
	stopAfter int
	cancel    context.CancelFunc
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	if c.fires >= c.stopAfter {
		c.cancel()
		return ch
	}
	var late time.Duration
	if c.fires < len(c.late) {
		late = c.late[c.fires]
	}
	c.fires++
	c.now = c.now.Add(d + late)
	ch <- c.now
	return ch
}

var pacific = time.FixedZone("PST", -8*60*60)

func newTestScheduler(t *testing.T, start time.Time, stopAfter int, late ...time.Duration) (*Scheduler, *fakeClock, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	clk := &fakeClock{now: start, late: late, stopAfter: stopAfter, cancel: cancel}
	return &Scheduler{
		Hour: 8, Minute: 0,
		Location: pacific,
		Log:      zerolog.Nop(),
		Now:      clk.Now,
		After:    clk.After,
	}, clk, ctx
}

func TestNextRun(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before trigger", time.Date(2026, 1, 10, 7, 59, 0, 0, pacific), time.Date(2026, 1, 10, 8, 0, 0, 0, pacific)},
		{"exactly at trigger", time.Date(2026, 1, 10, 8, 0, 0, 0, pacific), time.Date(2026, 1, 11, 8, 0, 0, 0, pacific)},
		{"after trigger", time.Date(2026, 1, 10, 12, 0, 0, 0, pacific), time.Date(2026, 1, 11, 8, 0, 0, 0, pacific)},
		{"utc input", time.Date(2026, 1, 10, 15, 30, 0, 0, time.UTC), time.Date(2026, 1, 10, 8, 0, 0, 0, pacific)},
		{"month end", time.Date(2026, 1, 31, 9, 0, 0, 0, pacific), time.Date(2026, 2, 1, 8, 0, 0, 0, pacific)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NextRun(8, 0, pacific, tc.now); !got.Equal(tc.want) {
				t.Fatalf("NextRun = %s; want %s", got, tc.want)
			}
		})
	}
}

func TestNextRun_DSTTransition(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skip("tzdata not available")
	}
	got := NextRun(8, 0, la, time.Date(2026, 3, 7, 9, 0, 0, 0, la))
	if want := time.Date(2026, 3, 8, 15, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("NextRun across DST = %s; want %s", got.UTC(), want)
	}
}

func TestRun_FiresDaily(t *testing.T) {
	s, clk, ctx := newTestScheduler(t, time.Date(2026, 1, 10, 7, 0, 0, 0, pacific), 2)

	var ran []time.Time
	err := s.Run(ctx, func(context.Context) error {
		ran = append(ran, clk.Now())
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ran) != 2 {
		t.Fatalf("ran %d times; want 2", len(ran))
	}
	if !ran[0].Equal(time.Date(2026, 1, 10, 8, 0, 0, 0, pacific)) || !ran[1].Equal(time.Date(2026, 1, 11, 8, 0, 0, 0, pacific)) {
		t.Fatalf("ran at %v", ran)
	}
}

func TestRun_MisfireBeyondGraceIsSkipped(t *testing.T) {
	s, clk, ctx := newTestScheduler(t, time.Date(2026, 1, 10, 7, 0, 0, 0, pacific), 2, 45*time.Minute, 10*time.Minute)

	var ran []time.Time
	s.Run(ctx, func(context.Context) error {
		ran = append(ran, clk.Now())
		return nil
	})
	if len(ran) != 1 {
		t.Fatalf("ran %d times; want 1", len(ran))
	}
	if want := time.Date(2026, 1, 11, 8, 10, 0, 0, pacific); !ran[0].Equal(want) {
		t.Fatalf("ran at %s; want %s (within grace)", ran[0], want)
	}
}

func TestRun_LongRunCoalescesMissedTriggers(t *testing.T) {
	s, clk, ctx := newTestScheduler(t, time.Date(2026, 1, 10, 7, 0, 0, 0, pacific), 2)

	var ran []time.Time
	s.Run(ctx, func(context.Context) error {
		ran = append(ran, clk.Now())
		clk.now = clk.now.Add(49 * time.Hour)
		return nil
	})
	if len(ran) != 2 {
		t.Fatalf("ran %d times; want 2", len(ran))
	}
	if want := time.Date(2026, 1, 13, 8, 0, 0, 0, pacific); !ran[1].Equal(want) {
		t.Fatalf("second run at %s; want %s", ran[1], want)
	}
}

func TestRun_JobErrorDoesNotStopLoop(t *testing.T) {
	s, _, ctx := newTestScheduler(t, time.Date(2026, 1, 10, 7, 0, 0, 0, pacific), 3)
	calls := 0
	s.Run(ctx, func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	if calls != 3 {
		t.Fatalf("calls = %d; want 3", calls)
	}
}

func TestRun_NilJobAndCancelledContext(t *testing.T) {
	if err := (&Scheduler{}).Run(context.Background(), nil); !errors.Is(err, ErrNoJob) {
		t.Fatalf("expected ErrNoJob, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := (&Scheduler{Hour: 8, Log: zerolog.Nop()}).Run(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || called {
		t.Fatalf("cancelled run: err=%v called=%v", err, called)
	}
}
