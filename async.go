package focuswatch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/focuswatch/focuswatch/internal/logger"
)

// stopGrace is how long TrackContext waits, beyond one poll interval, for
// the worker to observe the stop flag before returning without its result.
const stopGrace = 50 * time.Millisecond

// TrackContext runs the tracking loop on a background worker and invokes
// onFocus on the calling goroutine for every event, in order. Cancelling the
// context stops tracking cleanly; cancellation latency is bounded by the
// poll interval. A terminal worker error is returned if it surfaces within
// the shutdown grace period.
func (t *FocusTracker) TrackContext(ctx context.Context, onFocus Handler) error {
	log := logger.WithComponent("tracker")

	stop := &atomic.Bool{}
	events := make(chan FocusedWindow)
	consumerDone := make(chan struct{})
	result := make(chan error, 1)

	go func() {
		err := t.runRecovered(stop, func(w FocusedWindow) error {
			select {
			case events <- w:
				return nil
			case <-ctx.Done():
				return ErrStopTracking
			case <-consumerDone:
				return ErrStopTracking
			}
		})
		close(events)
		result <- err
	}()

consume:
	for {
		select {
		case <-ctx.Done():
			break consume
		case w, ok := <-events:
			if !ok {
				break consume
			}
			if err := onFocus(w); err != nil {
				if errors.Is(err, ErrStopTracking) {
					break consume
				}
				log.Warn().Err(err).Msg("focus event handler failed")
			}
		}
	}

	close(consumerDone)
	stop.Store(true)

	// The worker re-checks the stop flag at least once per poll interval;
	// give it that long, then a little, to report its result.
	select {
	case err := <-result:
		return err
	case <-time.After(t.config.PollInterval + stopGrace):
		log.Debug().Msg("worker did not stop within grace period")
		return nil
	}
}
