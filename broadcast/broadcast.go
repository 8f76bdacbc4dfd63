// broadcast/broadcast.go
package broadcast

import (
	"errors"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// ErrNotifyTimeout is recorded for an observer that did not return within the
// configured notify timeout.
var ErrNotifyTimeout = errors.New("observer notification timed out")

// Reason says why an entry left the registry without being unsubscribed.
type Reason string

const (
	ReasonExpired Reason = "expired"
	ReasonFailed  Reason = "failed"
	ReasonTimeout Reason = "timeout"
)

type settings struct {
	now      func() time.Time
	timeout  time.Duration
	log      *zap.SugaredLogger
	onRemove func(Reason)
}

// Option configures a Registry.
type Option func(*settings)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithNotifyTimeout bounds a single observer call. Zero disables the bound.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *settings) { s.log = log }
}

// WithRemovalHook is called once per defunct entry removed by Notify,
// NotifyAsync or ClearExpired.
func WithRemovalHook(fn func(Reason)) Option {
	return func(s *settings) { s.onRemove = fn }
}

type entry[O any] struct {
	observer O
	lastSeen time.Time
	gen      uint64
}

type target[A comparable, O any] struct {
	addr     A
	observer O
	gen      uint64
}

type removal[A comparable] struct {
	addr   A
	gen    uint64
	reason Reason
}

// Registry keeps the observers subscribed under an address. Entries that are
// not refreshed within the TTL, or whose notification fails, are dropped.
type Registry[A comparable, O any] struct {
	ttl       time.Duration
	settings  settings
	observers map[A]entry[O]
	nextGen   uint64
	mutex     sync.RWMutex
}

func NewRegistry[A comparable, O any](ttl time.Duration, opts ...Option) *Registry[A, O] {
	s := settings{
		now: time.Now,
		log: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &Registry[A, O]{
		ttl:       ttl,
		settings:  s,
		observers: make(map[A]entry[O]),
	}
}

// Subscribe adds or renews the subscription for addr.
func (r *Registry[A, O]) Subscribe(addr A, observer O) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	_, renewing := r.observers[addr]
	r.nextGen++
	r.observers[addr] = entry[O]{observer: observer, lastSeen: r.settings.now(), gen: r.nextGen}

	if renewing {
		r.settings.log.Debugf("Updating entry for %v. %d total subscribers.", addr, len(r.observers))
	} else {
		r.settings.log.Debugf("Adding entry for %v. %d total subscribers after add.", addr, len(r.observers))
	}
}

// Unsubscribe removes addr. Unknown addresses are ignored.
func (r *Registry[A, O]) Unsubscribe(addr A) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.observers, addr)
	r.settings.log.Debugf("Removed entry for %v. %d total subscribers after remove.", addr, len(r.observers))
}

func (r *Registry[A, O]) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.observers)
}

func (r *Registry[A, O]) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.observers = make(map[A]entry[O])
}

// Observers returns a copy of the unexpired subscriptions.
func (r *Registry[A, O]) Observers() map[A]O {
	now := r.settings.now()

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make(map[A]O, len(r.observers))
	for addr, e := range r.observers {
		if !r.expired(e, now) {
			result[addr] = e.observer
		}
	}
	return result
}

// Notify calls fn for every unexpired observer matching pred (nil matches all),
// one after another. Observers whose call fails, panics or times out are
// removed once the pass is over; expired ones are removed without a call.
func (r *Registry[A, O]) Notify(fn func(O) error, pred func(A, O) bool) {
	targets, defunct := r.snapshot(pred)
	for _, t := range targets {
		if err := r.call(fn, t.observer); err != nil {
			defunct = append(defunct, removal[A]{addr: t.addr, gen: t.gen, reason: reasonFor(err)})
		}
	}
	r.remove(defunct)
}

// NotifyAsync is Notify with the observer calls made concurrently. The
// returned channel is closed after defunct observers have been removed.
func (r *Registry[A, O]) NotifyAsync(fn func(O) error, pred func(A, O) bool) <-chan struct{} {
	targets, defunct := r.snapshot(pred)
	done := make(chan struct{})

	go func() {
		defer close(done)

		var (
			wg conc.WaitGroup
			mu sync.Mutex
		)
		for _, t := range targets {
			wg.Go(func() {
				if err := r.call(fn, t.observer); err != nil {
					mu.Lock()
					defunct = append(defunct, removal[A]{addr: t.addr, gen: t.gen, reason: reasonFor(err)})
					mu.Unlock()
				}
			})
		}
		wg.Wait()
		r.remove(defunct)
	}()

	return done
}

// ClearExpired drops every entry past its TTL and returns how many went.
func (r *Registry[A, O]) ClearExpired() int {
	now := r.settings.now()

	r.mutex.Lock()
	var removed int
	for addr, e := range r.observers {
		if r.expired(e, now) {
			delete(r.observers, addr)
			removed++
		}
	}
	r.mutex.Unlock()

	if removed > 0 {
		r.settings.log.Infof("Removing %d defunct observer entries.", removed)
		if r.settings.onRemove != nil {
			for i := 0; i < removed; i++ {
				r.settings.onRemove(ReasonExpired)
			}
		}
	}
	return removed
}

func (r *Registry[A, O]) expired(e entry[O], now time.Time) bool {
	return r.ttl > 0 && e.lastSeen.Add(r.ttl).Before(now)
}

// snapshot copies the observers to notify so that calls run without the lock.
func (r *Registry[A, O]) snapshot(pred func(A, O) bool) ([]target[A, O], []removal[A]) {
	now := r.settings.now()

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var (
		targets = make([]target[A, O], 0, len(r.observers))
		defunct []removal[A]
	)
	for addr, e := range r.observers {
		if r.expired(e, now) {
			defunct = append(defunct, removal[A]{addr: addr, gen: e.gen, reason: ReasonExpired})
			continue
		}
		if pred != nil && !pred(addr, e.observer) {
			continue
		}
		targets = append(targets, target[A, O]{addr: addr, observer: e.observer, gen: e.gen})
	}
	return targets, defunct
}

// remove deletes defunct entries unless they were re-subscribed meanwhile.
func (r *Registry[A, O]) remove(defunct []removal[A]) {
	if len(defunct) == 0 {
		return
	}

	r.mutex.Lock()
	removed := defunct[:0]
	for _, d := range defunct {
		if e, ok := r.observers[d.addr]; ok && e.gen == d.gen {
			delete(r.observers, d.addr)
			removed = append(removed, d)
		}
	}
	count := len(r.observers)
	r.mutex.Unlock()

	for _, d := range removed {
		r.settings.log.Debugf("Removing defunct entry for %v (%s). %d total subscribers after remove.", d.addr, d.reason, count)
		if r.settings.onRemove != nil {
			r.settings.onRemove(d.reason)
		}
	}
}

func (r *Registry[A, O]) call(fn func(O) error, observer O) error {
	if r.settings.timeout <= 0 {
		return invoke(fn, observer)
	}

	// 慢观察者不能拖住调用方：超时后放弃等待
	done := make(chan error, 1)
	go func() { done <- invoke(fn, observer) }()

	timer := time.NewTimer(r.settings.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ErrNotifyTimeout
	}
}

func invoke[O any](fn func(O) error, observer O) (err error) {
	var pc panics.Catcher
	pc.Try(func() { err = fn(observer) })
	if recovered := pc.Recovered(); recovered != nil {
		return recovered.AsError()
	}
	return err
}

func reasonFor(err error) Reason {
	if errors.Is(err, ErrNotifyTimeout) {
		return ReasonTimeout
	}
	return ReasonFailed
}
