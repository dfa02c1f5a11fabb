package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestDriverInvokesOnCadence(t *testing.T) {
	mock := clock.NewMock()
	d := NewDriver(WithClock(mock))

	var runs atomic.Int32
	ticked := make(chan struct{}, 16)
	d.Register("tick", time.Minute, func(ctx context.Context) error {
		runs.Add(1)
		ticked <- struct{}{}
		return nil
	})

	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	// Let the job goroutine install its ticker before advancing the clock.
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 3; i++ {
		mock.Add(time.Minute)
		select {
		case <-ticked:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d never fired", i)
		}
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs: got %d, want 3", got)
	}
}

func TestDriverJobFailureDoesNotStopSchedule(t *testing.T) {
	mock := clock.NewMock()
	d := NewDriver(WithClock(mock))

	var runs atomic.Int32
	ticked := make(chan struct{}, 16)
	d.Register("flaky", time.Minute, func(ctx context.Context) error {
		n := runs.Add(1)
		ticked <- struct{}{}
		if n == 1 {
			return errors.New("transient")
		}
		return nil
	})

	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	time.Sleep(10 * time.Millisecond)
	for i := 0; i < 2; i++ {
		mock.Add(time.Minute)
		select {
		case <-ticked:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d never fired", i)
		}
	}
	if got := runs.Load(); got != 2 {
		t.Fatalf("runs after failure: got %d, want 2", got)
	}
}

func TestDriverCloseStopsJobsAndIsIdempotent(t *testing.T) {
	mock := clock.NewMock()
	d := NewDriver(WithClock(mock))

	var runs atomic.Int32
	d.Register("tick", time.Minute, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	before := runs.Load()
	mock.Add(5 * time.Minute)
	time.Sleep(10 * time.Millisecond)
	if got := runs.Load(); got != before {
		t.Fatalf("job ran after Close: %d -> %d", before, got)
	}
}

func TestDriverRunsIndependentJobs(t *testing.T) {
	mock := clock.NewMock()
	d := NewDriver(WithClock(mock))

	fast := make(chan struct{}, 16)
	slow := make(chan struct{}, 16)
	d.Register("fast", time.Minute, func(ctx context.Context) error {
		fast <- struct{}{}
		return nil
	})
	d.Register("slow", time.Hour, func(ctx context.Context) error {
		slow <- struct{}{}
		return nil
	})

	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	time.Sleep(10 * time.Millisecond)
	mock.Add(time.Minute)
	select {
	case <-fast:
	case <-time.After(2 * time.Second):
		t.Fatal("fast job never fired")
	}
	select {
	case <-slow:
		t.Fatal("slow job fired before its cadence")
	default:
	}
}
