package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_RunsAfterDelay(t *testing.T) {
	s := NewScheduler(50*time.Millisecond, 10*time.Millisecond)
	var ticks atomic.Int32
	start := time.Now()
	first := make(chan time.Duration, 1)

	s.Start(func(ctx context.Context) {
		if ticks.Add(1) == 1 {
			first <- time.Since(start)
		}
	})
	defer func() {
		s.Stop()
		s.Wait()
	}()

	select {
	case elapsed := <-first:
		if elapsed < 50*time.Millisecond {
			t.Errorf("first tick ran after %v, before the delay", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never ticked")
	}
}

func TestScheduler_StopHaltsTicks(t *testing.T) {
	s := NewScheduler(0, 5*time.Millisecond)
	var ticks atomic.Int32
	s.Start(func(ctx context.Context) { ticks.Add(1) })

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	s.Stop()
	s.Wait()
	after := ticks.Load()
	time.Sleep(30 * time.Millisecond)

	if ticks.Load() != after {
		t.Errorf("ticks continued after Stop: %d -> %d", after, ticks.Load())
	}
	if !s.Stopped() {
		t.Error("Stopped should report true")
	}
}

func TestScheduler_StopFromInsideCallback(t *testing.T) {
	s := NewScheduler(0, time.Millisecond)
	var ticks atomic.Int32
	s.Start(func(ctx context.Context) {
		if ticks.Add(1) == 2 {
			s.Stop()
		}
	})

	waited := make(chan struct{})
	go func() {
		s.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not exit after stopping itself")
	}
	if ticks.Load() != 2 {
		t.Errorf("expected exactly 2 ticks, got %d", ticks.Load())
	}
}

func TestScheduler_NoOverlap(t *testing.T) {
	s := NewScheduler(0, time.Millisecond)
	var inFlight, maxInFlight, ticks atomic.Int32

	s.Start(func(ctx context.Context) {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		ticks.Add(1)
	})

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.Stop()
	s.Wait()

	if maxInFlight.Load() != 1 {
		t.Errorf("expected at most one tick in flight, saw %d", maxInFlight.Load())
	}
}

func TestScheduler_StopBeforeStart(t *testing.T) {
	s := NewScheduler(0, time.Millisecond)
	s.Stop()

	called := make(chan struct{}, 1)
	s.Start(func(ctx context.Context) { called <- struct{}{} })
	s.Wait()

	select {
	case <-called:
		t.Fatal("a stopped scheduler must not start")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestTimerManager_PeriodicTask(t *testing.T) {
	m := NewTimerManager(5 * time.Millisecond)
	defer m.Stop()

	var runs atomic.Int32
	m.AddTimer(0, 10*time.Millisecond, func() { runs.Add(1) })

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if runs.Load() < 3 {
		t.Fatalf("expected the periodic task to run at least 3 times, got %d", runs.Load())
	}
}

func TestTimerManager_RemoveTimer(t *testing.T) {
	m := NewTimerManager(5 * time.Millisecond)
	defer m.Stop()

	var runs atomic.Int32
	id := m.AddTimer(50*time.Millisecond, 0, func() { runs.Add(1) })
	if m.Len() != 1 {
		t.Fatalf("expected 1 pending timer, got %d", m.Len())
	}
	m.RemoveTimer(id)
	if m.Len() != 0 {
		t.Fatalf("expected no pending timers, got %d", m.Len())
	}

	time.Sleep(80 * time.Millisecond)
	if runs.Load() != 0 {
		t.Error("removed timer fired")
	}
}

func TestTimerManager_OneShot(t *testing.T) {
	m := NewTimerManager(5 * time.Millisecond)
	defer m.Stop()

	fired := make(chan struct{}, 2)
	m.AddTimer(10*time.Millisecond, 0, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot timer never fired")
	}
	time.Sleep(30 * time.Millisecond)
	if len(fired) != 0 {
		t.Error("one-shot timer fired twice")
	}
	if m.Len() != 0 {
		t.Errorf("expected the queue to be empty, got %d", m.Len())
	}
}
