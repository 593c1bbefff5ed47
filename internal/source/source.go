// Package source provides the per-platform focus event sources and the
// state machine that turns their raw signals into deduplicated focus events.
package source

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/focuswatch/focuswatch/internal/icon"
)

// Sentinel errors classifying why a source could not be established. Only
// these terminate a tracking loop; per-event failures are logged and skipped.
var (
	// ErrUnsupported means the platform/compositor combination is not implemented.
	ErrUnsupported = errors.New("unsupported platform")

	// ErrPermissionDenied means the OS refused accessibility/automation access.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNoDisplay means no windowing session is reachable.
	ErrNoDisplay = errors.New("no display available")

	// ErrNotInteractiveSession means the process is not attached to a desktop
	// session (e.g. it runs as a service).
	ErrNotInteractiveSession = errors.New("not running in interactive session")

	// ErrStopTracking may be returned by an event handler to request a clean
	// shutdown of the tracking loop. Any other handler error is logged and
	// absorbed.
	ErrStopTracking = errors.New("stop tracking requested")

	// errStopped is returned by Next when the stop flag was observed.
	errStopped = errors.New("stop flag observed")
)

// PlatformError wraps a generic OS-call failure with diagnostic detail.
type PlatformError struct {
	Detail string
	Err    error
}

func (e *PlatformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("platform error: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("platform error: %s", e.Detail)
}

func (e *PlatformError) Unwrap() error { return e.Err }

func platformErr(detail string, err error) *PlatformError {
	return &PlatformError{Detail: detail, Err: err}
}

// SignalKind discriminates the raw signals a platform source can yield.
type SignalKind int

const (
	// ActiveWindowChanged means a different window took input focus.
	ActiveWindowChanged SignalKind = iota

	// TitleChanged means the currently focused window changed its title.
	TitleChanged
)

// Identity names the focused window as far as the platform can tell. Any
// field may be nil when the OS withholds it.
type Identity struct {
	ProcessID   *uint32
	ProcessName *string
	WindowTitle *string
}

// Signal is one raw focus-relevant notification from a platform source.
type Signal struct {
	Kind     SignalKind
	Identity Identity
}

// Event is a deduplicated focus transition emitted by the state machine.
type Event struct {
	ProcessID   *uint32
	ProcessName *string
	WindowTitle *string
	Icon        *icon.Image
}

// Options configures a tracking run.
type Options struct {
	// PollInterval bounds the sleep between polls in cooperative mode and
	// therefore the cancellation latency.
	PollInterval time.Duration

	// IconSize is the square edge length icons are resized to. Zero keeps
	// the platform-native size.
	IconSize int
}

// Source yields raw focus signals for one platform. Implementations own all
// platform handles (connections, atoms, window ids); none escape this
// interface.
type Source interface {
	// InitialSnapshot fetches the currently focused window without waiting
	// for a change. A nil signal with nil error means no window has focus.
	InitialSnapshot() (*Signal, error)

	// Next blocks until the next focus-relevant signal. When stop is nil it
	// may wait indefinitely on the OS; when stop is non-nil it must use a
	// non-blocking poll with bounded sleeps of pollInterval, re-checking
	// stop each iteration, and return errStopped once the flag is set.
	Next(stop *atomic.Bool, pollInterval time.Duration) (Signal, error)

	// Icon extracts the icon of the currently focused window, normalized to
	// RGBA8 and resized per Options.IconSize. Absence is reported as an
	// error; callers treat it as recoverable.
	Icon(opts Options) (*icon.Image, error)

	// Close releases the platform connection.
	Close() error
}

func stopped(stop *atomic.Bool) bool {
	return stop != nil && stop.Load()
}

func strPtr(s string) *string { return &s }

func u32Ptr(v uint32) *uint32 { return &v }
