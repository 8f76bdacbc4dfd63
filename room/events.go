package room

import (
	"sync"

	"github.com/wfunc/snakes/geometry"
	"github.com/wfunc/snakes/state"
)

// event is one observer call, raised while the room is locked and delivered
// later by the dispatcher.
type event func(Observer) error

func expectedPlayerCountChanged(count int) event {
	return func(o Observer) error { return o.OnExpectedPlayerCountChanged(count) }
}

func stateChanged(s state.GameState) event {
	return func(o Observer) error { return o.OnStateChanged(s) }
}

func playerJoined(count int) event {
	return func(o Observer) error { return o.OnPlayerJoined(count) }
}

func boardSizeChanged(size geometry.BoardSize) event {
	return func(o Observer) error { return o.OnBoardSizeChanged(size) }
}

func newRound() event {
	return func(o Observer) error { return o.OnNewRound() }
}

func died(playerID string) event {
	return func(o Observer) error { return o.OnDied(playerID) }
}

func scoreChanged(playerID string, score int) event {
	return func(o Observer) error { return o.OnScoreChanged(playerID, score) }
}

// dispatcher delivers events in the order they were raised on a goroutine of
// its own, so the tick never waits on an observer and observers may call
// back into the room.
type dispatcher struct {
	deliver func(event)

	mutex  sync.Mutex
	queue  []event
	signal chan struct{}
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newDispatcher(deliver func(event)) *dispatcher {
	d := &dispatcher{
		deliver: deliver,
		signal:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) push(ev event) {
	d.mutex.Lock()
	d.queue = append(d.queue, ev)
	d.mutex.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.signal:
			d.drain()
		case <-d.quit:
			d.drain()
			return
		}
	}
}

func (d *dispatcher) drain() {
	for {
		d.mutex.Lock()
		batch := d.queue
		d.queue = nil
		d.mutex.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			d.deliver(ev)
		}
	}
}

// stop delivers what is still queued and waits for the goroutine to exit.
func (d *dispatcher) stop() {
	d.once.Do(func() { close(d.quit) })
	<-d.done
}
