// Package focuswatch reports which application window holds input focus.
//
// A FocusTracker observes the operating system's focus state through the
// native mechanism of the running platform (X11 property notifications, the
// Sway IPC event stream, or foreground polling on macOS and Windows) and
// delivers deduplicated FocusedWindow events to a callback, a context-bound
// loop, or a channel.
package focuswatch

import (
	"github.com/focuswatch/focuswatch/internal/icon"
)

// IconData is a decoded window icon: row-major, 8-bit RGBA pixels with
// straight alpha. Len(Pixels) is always Width*Height*4.
type IconData = icon.Image

// FocusedWindow is a snapshot of the currently focused window. Fields are
// nil when the platform withholds them; an absent icon is a valid state,
// not an error.
type FocusedWindow struct {
	// ProcessID of the process owning the window.
	ProcessID *uint32
	// ProcessName as reported by the OS (e.g. "firefox", "Code.exe").
	ProcessName *string
	// WindowTitle is the full title/caption.
	WindowTitle *string
	// Icon is the window or application icon, when one could be extracted.
	Icon *IconData
}

// Equal reports structural equality, including the icon pixel buffer.
func (w FocusedWindow) Equal(other FocusedWindow) bool {
	return strEqual(w.ProcessName, other.ProcessName) &&
		strEqual(w.WindowTitle, other.WindowTitle) &&
		u32Equal(w.ProcessID, other.ProcessID) &&
		w.Icon.Equal(other.Icon)
}

func strEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func u32Equal(a, b *uint32) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
