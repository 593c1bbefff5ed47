package focuswatch

import (
	"sync"
	"sync/atomic"
)

// Subscription delivers focus events from a background tracking worker over
// a channel. Events are queued without bound on the producer side, so a
// slow consumer delays delivery but never the tracking loop itself.
type Subscription struct {
	events chan FocusedWindow
	stop   atomic.Bool
	closed chan struct{}
	once   sync.Once
	done   chan struct{}
	err    error
}

// Events returns the event channel. It is closed once the worker has
// stopped, after any queued events were delivered.
func (s *Subscription) Events() <-chan FocusedWindow {
	return s.events
}

// Close stops the background worker. Safe to call more than once. The
// worker observes the stop within roughly one poll interval; pending events
// are discarded.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.stop.Store(true)
		close(s.closed)
	})
}

// Err returns the worker's terminal error, if any, once Events is closed.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Subscribe starts a background worker running the tracking loop and
// returns a subscription yielding its events. Abandoning the subscription
// (calling Close) is the designed stop signal: once delivery fails, the
// worker shuts down instead of tracking for nobody.
func (t *FocusTracker) Subscribe() *Subscription {
	sub := &Subscription{
		events: make(chan FocusedWindow),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}

	in := make(chan FocusedWindow)

	// Dispatcher: unbounded in-order forwarding from the worker to the
	// consumer. Exits when the worker is done and the queue is drained, or
	// when the subscription is closed.
	go func() {
		defer close(sub.events)
		var queue []FocusedWindow
		for {
			var out chan FocusedWindow
			var next FocusedWindow
			if len(queue) > 0 {
				out = sub.events
				next = queue[0]
			} else if in == nil {
				return
			}

			select {
			case <-sub.closed:
				return
			case ev, ok := <-in:
				if !ok {
					in = nil
					continue
				}
				queue = append(queue, ev)
			case out <- next:
				queue = queue[1:]
			}
		}
	}()

	go func() {
		err := t.runRecovered(&sub.stop, func(w FocusedWindow) error {
			select {
			case in <- w:
				return nil
			case <-sub.closed:
				// Consumer is gone; treat the failed delivery as a stop.
				return ErrStopTracking
			}
		})
		// Publish the result before closing in: the consumer observes the
		// event channel close only after in closes, so Err is visible by then.
		sub.err = err
		close(sub.done)
		close(in)
	}()

	return sub
}
