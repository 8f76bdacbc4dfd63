package broadcast

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder is a test observer that remembers what it was sent.
type recorder struct {
	mu       sync.Mutex
	received []string
	fail     bool
}

func (r *recorder) handle(msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("connection reset")
	}
	r.received = append(r.received, msg)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.received)
}

func send(msg string) func(*recorder) error {
	return func(r *recorder) error { return r.handle(msg) }
}

func TestRegistry_SubscribeIsIdempotent(t *testing.T) {
	reg := NewRegistry[string, *recorder](time.Minute)
	obs := &recorder{}

	reg.Subscribe("a", obs)
	reg.Subscribe("a", obs)

	if reg.Count() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", reg.Count())
	}

	reg.Notify(send("hello"), nil)
	if obs.count() != 1 {
		t.Errorf("expected one delivery, got %d", obs.count())
	}
}

func TestRegistry_UnsubscribeUnknownIsNoop(t *testing.T) {
	reg := NewRegistry[string, *recorder](time.Minute)
	reg.Unsubscribe("missing")
	reg.Subscribe("a", &recorder{})
	reg.Unsubscribe("a")
	if reg.Count() != 0 {
		t.Fatalf("expected no subscribers, got %d", reg.Count())
	}
}

func TestRegistry_NotifySkipsAndRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	var removed []Reason
	reg := NewRegistry[string, *recorder](time.Minute,
		WithClock(clock.Now),
		WithRemovalHook(func(r Reason) { removed = append(removed, r) }),
	)

	stale := &recorder{}
	fresh := &recorder{}
	reg.Subscribe("stale", stale)

	clock.Advance(50 * time.Second)
	reg.Subscribe("fresh", fresh)

	clock.Advance(20 * time.Second)
	reg.Notify(send("tick"), nil)

	if stale.count() != 0 {
		t.Error("expired observer should not be notified")
	}
	if fresh.count() != 1 {
		t.Errorf("fresh observer should be notified once, got %d", fresh.count())
	}
	if _, ok := reg.Observers()["stale"]; ok {
		t.Error("expired observer should have been removed")
	}
	if reg.Count() != 1 {
		t.Errorf("expected 1 subscriber left, got %d", reg.Count())
	}
	if len(removed) != 1 || removed[0] != ReasonExpired {
		t.Errorf("expected one expired removal, got %v", removed)
	}
}

func TestRegistry_ResubscribeRefreshesTTL(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry[string, *recorder](time.Minute, WithClock(clock.Now))
	obs := &recorder{}

	reg.Subscribe("a", obs)
	clock.Advance(50 * time.Second)
	reg.Subscribe("a", obs)
	clock.Advance(50 * time.Second)

	reg.Notify(send("still here"), nil)
	if obs.count() != 1 {
		t.Fatalf("refreshed observer should be notified, got %d deliveries", obs.count())
	}
}

func TestRegistry_NotifyRemovesFailingObserver(t *testing.T) {
	reg := NewRegistry[string, *recorder](time.Minute)
	good := &recorder{}
	bad := &recorder{fail: true}
	reg.Subscribe("good", good)
	reg.Subscribe("bad", bad)

	reg.Notify(send("one"), nil)

	if _, ok := reg.Observers()["bad"]; ok {
		t.Error("failing observer should be removed")
	}
	if _, ok := reg.Observers()["good"]; !ok {
		t.Error("healthy observer should stay subscribed")
	}

	reg.Notify(send("two"), nil)
	if good.count() != 2 {
		t.Errorf("healthy observer should get both messages, got %d", good.count())
	}
}

func TestRegistry_NotifyRemovesPanickingObserver(t *testing.T) {
	reg := NewRegistry[string, *recorder](time.Minute)
	boom := &recorder{}
	reg.Subscribe("boom", boom)
	reg.Subscribe("calm", &recorder{})

	reg.Notify(func(r *recorder) error {
		if r == boom {
			panic("observer exploded")
		}
		return r.handle("ok")
	}, nil)

	if reg.Count() != 1 {
		t.Fatalf("expected only the calm observer to remain, got %d", reg.Count())
	}
	if _, ok := reg.Observers()["calm"]; !ok {
		t.Error("calm observer should remain")
	}
}

func TestRegistry_NotifyPredicate(t *testing.T) {
	reg := NewRegistry[string, *recorder](time.Minute)
	a := &recorder{}
	b := &recorder{}
	reg.Subscribe("a", a)
	reg.Subscribe("b", b)

	reg.Notify(send("only a"), func(addr string, _ *recorder) bool { return addr == "a" })

	if a.count() != 1 || b.count() != 0 {
		t.Errorf("expected only a to be notified, got a=%d b=%d", a.count(), b.count())
	}
}

func TestRegistry_NotifyTimeoutRemovesSlowObserver(t *testing.T) {
	var removed []Reason
	reg := NewRegistry[string, *recorder](time.Minute,
		WithNotifyTimeout(20*time.Millisecond),
		WithRemovalHook(func(r Reason) { removed = append(removed, r) }),
	)
	slow := &recorder{}
	reg.Subscribe("slow", slow)

	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	reg.Notify(func(*recorder) error {
		<-release
		return nil
	}, nil)

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Notify should give up on a slow observer, took %v", elapsed)
	}
	if reg.Count() != 0 {
		t.Error("slow observer should be removed")
	}
	if len(removed) != 1 || removed[0] != ReasonTimeout {
		t.Errorf("expected a timeout removal, got %v", removed)
	}
}

func TestRegistry_NotifyAsyncAppliesSamePolicy(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry[string, *recorder](time.Minute, WithClock(clock.Now))
	stale := &recorder{}
	reg.Subscribe("stale", stale)
	clock.Advance(2 * time.Minute)

	good := &recorder{}
	bad := &recorder{fail: true}
	reg.Subscribe("good", good)
	reg.Subscribe("bad", bad)

	select {
	case <-reg.NotifyAsync(send("async"), nil):
	case <-time.After(time.Second):
		t.Fatal("NotifyAsync did not complete")
	}

	if good.count() != 1 {
		t.Errorf("good observer should be notified once, got %d", good.count())
	}
	if stale.count() != 0 {
		t.Error("expired observer should not be notified")
	}
	observers := reg.Observers()
	if len(observers) != 1 {
		t.Fatalf("expected only the good observer, got %d", len(observers))
	}
	if _, ok := observers["good"]; !ok {
		t.Error("good observer missing")
	}
}

func TestRegistry_ClearExpired(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry[string, *recorder](time.Minute, WithClock(clock.Now))
	old := &recorder{}
	reg.Subscribe("old", old)
	clock.Advance(90 * time.Second)
	reg.Subscribe("new", &recorder{})

	if n := reg.ClearExpired(); n != 1 {
		t.Fatalf("expected 1 expired entry, got %d", n)
	}
	if reg.Count() != 1 {
		t.Errorf("expected 1 subscriber left, got %d", reg.Count())
	}
	if old.count() != 0 {
		t.Error("ClearExpired must not notify")
	}
}

func TestRegistry_ObserversIsSnapshot(t *testing.T) {
	reg := NewRegistry[string, *recorder](time.Minute)
	reg.Subscribe("a", &recorder{})

	snapshot := reg.Observers()
	reg.Subscribe("b", &recorder{})
	delete(snapshot, "a")

	if len(snapshot) != 0 {
		t.Errorf("snapshot should not see later subscriptions, got %d", len(snapshot))
	}
	if reg.Count() != 2 {
		t.Errorf("mutating the snapshot must not touch the registry, got %d", reg.Count())
	}
}

func TestRegistry_ConcurrentUse(t *testing.T) {
	reg := NewRegistry[int, *recorder](time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			obs := &recorder{}
			for j := 0; j < 50; j++ {
				reg.Subscribe(i, obs)
				reg.Notify(send("x"), nil)
				<-reg.NotifyAsync(send("y"), nil)
				if j%10 == 0 {
					reg.Unsubscribe(i)
				}
			}
		}(i)
	}
	wg.Wait()
}
