package source

import (
	"errors"
	"sync/atomic"

	"github.com/focuswatch/focuswatch/internal/icon"
	"github.com/focuswatch/focuswatch/internal/logger"
)

// Handler consumes one focus event. Returning ErrStopTracking ends the loop
// cleanly; any other error is logged and the loop continues.
type Handler func(Event) error

// focusState is the per-run dedup and icon-cache state. It is owned
// exclusively by the goroutine driving Run; no locking needed.
type focusState struct {
	lastProcessName *string
	lastWindowTitle *string
	cachedIcon      *icon.Image
	seenAny         bool
}

// Run drives the tracking loop: it pulls raw signals from src, filters them
// through the dedup state machine, attaches icons, and hands events to
// onEvent in emission order. It returns nil on a clean stop and a terminal
// error only when the source itself fails.
func Run(src Source, opts Options, stop *atomic.Bool, onEvent Handler) error {
	log := logger.WithComponent("tracker")
	state := &focusState{}

	// Fire an immediate event for the window that already holds focus so
	// consumers see the current state at startup.
	if sig, err := src.InitialSnapshot(); err != nil {
		log.Debug().Err(err).Msg("failed to get initial focused window")
	} else if sig != nil {
		if ev, ok := state.apply(src, opts, *sig); ok {
			if err := deliver(onEvent, ev); err != nil {
				return nil
			}
		}
	}

	for {
		if stopped(stop) {
			return nil
		}

		sig, err := src.Next(stop, opts.PollInterval)
		if err != nil {
			// An error that races with a requested stop is shutdown noise,
			// not a terminal failure.
			if errors.Is(err, errStopped) || stopped(stop) {
				return nil
			}
			return err
		}

		ev, ok := state.apply(src, opts, sig)
		if !ok {
			continue
		}

		if err := deliver(onEvent, ev); err != nil {
			return nil
		}
	}
}

// deliver invokes the handler. Handler failures never abort the loop unless
// the handler explicitly asks for a stop.
func deliver(onEvent Handler, ev Event) error {
	if err := onEvent(ev); err != nil {
		if errors.Is(err, ErrStopTracking) {
			return err
		}
		logger.WithComponent("tracker").Warn().Err(err).Msg("focus event handler failed")
	}
	return nil
}

// apply feeds one raw signal through the state machine. It returns the event
// to emit and whether the signal was reportable at all.
//
// Icon acquisition runs only on an active-window change (or the first
// observation); a title-only change reuses the cached icon verbatim.
func (s *focusState) apply(src Source, opts Options, sig Signal) (Event, bool) {
	id := sig.Identity

	// Dedup on the (process name, window title) pair. Icons are not part of
	// the key: a transiently missing icon must not double-fire an event.
	same := strEqual(s.lastProcessName, id.ProcessName) && strEqual(s.lastWindowTitle, id.WindowTitle)
	if s.seenAny && same {
		return Event{}, false
	}

	switch sig.Kind {
	case ActiveWindowChanged:
		// The focused application changed: refresh the icon. On failure the
		// cache is cleared too, so a later title change on the same window
		// does not speculatively refetch.
		img, err := src.Icon(opts)
		if err != nil {
			logger.WithComponent("tracker").Debug().Err(err).Msg("icon extraction failed")
			img = nil
		}
		s.cachedIcon = img

	case TitleChanged:
		if s.seenAny && strEqual(s.lastWindowTitle, id.WindowTitle) {
			// Redundant notification for an unrelated property write.
			return Event{}, false
		}
		// Title mutation does not imply icon mutation: reuse the cache. A
		// title signal as the very first observation emits icon-less, but
		// every source opens with an active-window signal, so the cache is
		// always populated by then.
	}

	s.lastProcessName = id.ProcessName
	s.lastWindowTitle = id.WindowTitle
	s.seenAny = true

	return Event{
		ProcessID:   id.ProcessID,
		ProcessName: id.ProcessName,
		WindowTitle: id.WindowTitle,
		Icon:        s.cachedIcon,
	}, true
}

func strEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
