package focuswatch

import (
	"fmt"

	"github.com/focuswatch/focuswatch/internal/source"
)

// Terminal error classes returned by the tracking entry points. Match with
// errors.Is. Per-event failures (a window closing mid-query, a malformed
// icon payload) never surface here; they degrade to missing fields.
var (
	// ErrUnsupported: the platform or compositor combination is not implemented.
	ErrUnsupported = source.ErrUnsupported

	// ErrPermissionDenied: the OS refused accessibility/automation access.
	ErrPermissionDenied = source.ErrPermissionDenied

	// ErrNoDisplay: no windowing session is reachable.
	ErrNoDisplay = source.ErrNoDisplay

	// ErrNotInteractiveSession: the process runs outside a desktop session.
	ErrNotInteractiveSession = source.ErrNotInteractiveSession

	// ErrStopTracking may be returned from a Handler to end the tracking
	// loop cleanly. Any other handler error is logged and absorbed.
	ErrStopTracking = source.ErrStopTracking
)

// PlatformError wraps a generic OS-call failure with diagnostic detail.
type PlatformError = source.PlatformError

// PanicError reports a panic recovered from a background tracking worker.
// The worker's state is discarded; the panic value is preserved for the
// caller.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("focus tracking worker panicked: %v", e.Value)
}
