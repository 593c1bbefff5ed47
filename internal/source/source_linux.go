//go:build linux

package source

import (
	"os"

	"github.com/godbus/dbus/v5"

	"github.com/focuswatch/focuswatch/internal/logger"
)

// New probes the running session and returns the matching event source:
// the Sway IPC source on a supported Wayland compositor, otherwise X11.
func New() (Source, error) {
	log := logger.WithComponent("detect")

	session := sessionType()
	log.Debug().Str("session", session).Msg("detected session type")

	switch session {
	case "wayland":
		if sock := swaySocket(); sock != "" {
			return newSwaySource(sock)
		}
		// XWayland still exposes an X server that reports focus correctly
		// for X clients; prefer failing fast over silently tracking only a
		// subset of windows.
		return nil, ErrUnsupported
	case "x11":
		return newX11Source()
	default:
		if os.Getenv("DISPLAY") != "" {
			return newX11Source()
		}
		if swaySocket() != "" {
			return newSwaySource(swaySocket())
		}
		return nil, ErrNotInteractiveSession
	}
}

// swaySocket finds the compositor's IPC socket; i3 exposes the same protocol
// under I3SOCK.
func swaySocket() string {
	if sock := os.Getenv("SWAYSOCK"); sock != "" {
		return sock
	}
	return os.Getenv("I3SOCK")
}

// sessionType reports "x11", "wayland", or "". It prefers XDG_SESSION_TYPE
// and falls back to asking logind over the system bus, which also covers
// processes launched outside the session environment.
func sessionType() string {
	if t := os.Getenv("XDG_SESSION_TYPE"); t != "" && t != "unspecified" && t != "tty" {
		return t
	}
	return logindSessionType()
}

func logindSessionType() string {
	conn, err := dbus.SystemBus()
	if err != nil {
		return ""
	}
	defer conn.Close()

	session := conn.Object("org.freedesktop.login1", dbus.ObjectPath("/org/freedesktop/login1/session/auto"))
	variant, err := session.GetProperty("org.freedesktop.login1.Session.Type")
	if err != nil {
		return ""
	}

	t, ok := variant.Value().(string)
	if !ok {
		return ""
	}
	return t
}
