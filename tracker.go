package focuswatch

import (
	"sync/atomic"

	"github.com/focuswatch/focuswatch/internal/source"
)

// Handler consumes one focus event. Returning ErrStopTracking ends the
// tracking loop cleanly; any other error is logged and tracking continues.
// Handlers are invoked sequentially on the loop's goroutine, in emission
// order, never concurrently.
type Handler func(FocusedWindow) error

// FocusTracker observes focus changes on the host platform and reports them
// through one of the Track* entry points or Subscribe. A tracker is cheap;
// the platform connection is established per tracking run.
type FocusTracker struct {
	config Config
}

// newSource is swapped out by tests to drive the engine with scripted signals.
var newSource = source.New

// New creates a tracker with the default configuration.
func New() *FocusTracker {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a tracker with the given configuration.
func NewWithConfig(config Config) *FocusTracker {
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	return &FocusTracker{config: config}
}

// Config returns the tracker's configuration.
func (t *FocusTracker) Config() Config {
	return t.config
}

// Track runs the focus tracking loop on the calling goroutine, invoking
// onFocus for every focus change, starting with the currently focused
// window. It blocks until the platform source fails terminally or onFocus
// returns ErrStopTracking.
func (t *FocusTracker) Track(onFocus Handler) error {
	return t.run(nil, onFocus)
}

// TrackWithStop is Track with cooperative cancellation: setting stop ends
// the loop cleanly within roughly one poll interval.
func (t *FocusTracker) TrackWithStop(onFocus Handler, stop *atomic.Bool) error {
	return t.run(stop, onFocus)
}

func (t *FocusTracker) run(stop *atomic.Bool, onFocus Handler) error {
	src, err := newSource()
	if err != nil {
		return err
	}
	defer src.Close()

	opts := source.Options{
		PollInterval: t.config.PollInterval,
		IconSize:     t.config.Icon.TargetSize,
	}

	return source.Run(src, opts, stop, func(ev source.Event) error {
		return onFocus(FocusedWindow{
			ProcessID:   ev.ProcessID,
			ProcessName: ev.ProcessName,
			WindowTitle: ev.WindowTitle,
			Icon:        ev.Icon,
		})
	})
}

// runRecovered wraps run for background workers: a panic in the loop is
// converted into a PanicError instead of crashing the process.
func (t *FocusTracker) runRecovered(stop *atomic.Bool, onFocus Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return t.run(stop, onFocus)
}
