//go:build linux

package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/focuswatch/focuswatch/internal/icon"
	"github.com/focuswatch/focuswatch/internal/logger"
)

// x11Atoms holds the interned atoms the source needs. Opaque to everything
// outside this file.
type x11Atoms struct {
	netActiveWindow xproto.Atom
	netWMName       xproto.Atom
	netWMPid        xproto.Atom
	netWMIcon       xproto.Atom
	utf8String      xproto.Atom
}

// x11Source watches focus via PropertyNotify events: _NET_ACTIVE_WINDOW on
// the root window, and _NET_WM_NAME on whichever window currently has focus.
type x11Source struct {
	conn  *xgb.Conn
	root  xproto.Window
	atoms x11Atoms

	// current is the window being monitored for title changes; 0 means none.
	current xproto.Window
	// currentProc backs the icon theme fallback search.
	currentProc string
}

func newX11Source() (Source, error) {
	if os.Getenv("DISPLAY") == "" {
		return nil, ErrNoDisplay
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDisplay, err)
	}

	setup := xproto.Setup(conn)
	root := setup.DefaultScreen(conn).Root

	s := &x11Source{conn: conn, root: root}
	if err := s.internAtoms(); err != nil {
		conn.Close()
		return nil, err
	}

	// Subscribe to property changes on the root window so we see
	// _NET_ACTIVE_WINDOW updates.
	if err := xproto.ChangeWindowAttributesChecked(
		conn,
		root,
		xproto.CwEventMask,
		[]uint32{xproto.EventMaskPropertyChange},
	).Check(); err != nil {
		conn.Close()
		return nil, platformErr("failed to subscribe to root window events", err)
	}

	return s, nil
}

func (s *x11Source) internAtoms() error {
	intern := func(name string) (xproto.Atom, error) {
		reply, err := xproto.InternAtom(s.conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			return 0, platformErr("failed to intern atom "+name, err)
		}
		return reply.Atom, nil
	}

	var err error
	if s.atoms.netActiveWindow, err = intern("_NET_ACTIVE_WINDOW"); err != nil {
		return err
	}
	if s.atoms.netWMName, err = intern("_NET_WM_NAME"); err != nil {
		return err
	}
	if s.atoms.netWMPid, err = intern("_NET_WM_PID"); err != nil {
		return err
	}
	if s.atoms.netWMIcon, err = intern("_NET_WM_ICON"); err != nil {
		return err
	}
	s.atoms.utf8String, err = intern("UTF8_STRING")
	return err
}

func (s *x11Source) Close() error {
	s.conn.Close()
	return nil
}

// InitialSnapshot reports the window that already holds focus, if any, and
// starts monitoring it for title changes.
func (s *x11Source) InitialSnapshot() (*Signal, error) {
	win, err := s.activeWindow()
	if err != nil {
		return nil, err
	}
	if win == 0 {
		return nil, nil
	}

	s.retargetTitleMonitoring(win)
	return &Signal{Kind: ActiveWindowChanged, Identity: s.windowIdentity(win)}, nil
}

// Next yields the next focus-relevant signal. With a stop flag it polls
// cooperatively; without one it blocks on the X connection.
func (s *x11Source) Next(stop *atomic.Bool, pollInterval time.Duration) (Signal, error) {
	log := logger.WithComponent("x11")

	for {
		ev, err := s.nextEvent(stop, pollInterval)
		if err != nil {
			return Signal{}, err
		}

		prop, ok := ev.(xproto.PropertyNotifyEvent)
		if !ok {
			continue
		}

		switch {
		case prop.Atom == s.atoms.netActiveWindow && prop.Window == s.root:
			win, err := s.activeWindow()
			if err != nil {
				// The window may have closed between the notification and
				// our query; transient, never terminal.
				log.Debug().Err(err).Msg("failed to query active window")
				continue
			}
			if win == 0 {
				continue
			}
			s.retargetTitleMonitoring(win)
			return Signal{Kind: ActiveWindowChanged, Identity: s.windowIdentity(win)}, nil

		case prop.Atom == s.atoms.netWMName && s.current != 0 && prop.Window == s.current:
			// Title change on the monitored window. Notifications for a
			// just-deselected window fail the prop.Window check and are
			// dropped here.
			return Signal{Kind: TitleChanged, Identity: s.windowIdentity(s.current)}, nil
		}
	}
}

// nextEvent implements the dual wait discipline. X protocol errors (e.g. a
// BadWindow for a short-lived window) arrive on the event stream and are
// skipped; only a dead connection is terminal.
func (s *x11Source) nextEvent(stop *atomic.Bool, pollInterval time.Duration) (xgb.Event, error) {
	log := logger.WithComponent("x11")

	if stop == nil {
		for {
			ev, xerr := s.conn.WaitForEvent()
			if ev == nil && xerr == nil {
				return nil, platformErr("X11 connection closed", nil)
			}
			if xerr != nil {
				log.Debug().Str("error", xerr.Error()).Msg("X11 protocol error")
				continue
			}
			return ev, nil
		}
	}

	for {
		if stop.Load() {
			return nil, errStopped
		}
		ev, xerr := s.conn.PollForEvent()
		if xerr != nil {
			log.Debug().Str("error", xerr.Error()).Msg("X11 protocol error")
			continue
		}
		if ev == nil {
			time.Sleep(pollInterval)
			continue
		}
		return ev, nil
	}
}

// retargetTitleMonitoring moves the per-window PropertyNotify subscription
// from the previously focused window to the new one.
func (s *x11Source) retargetTitleMonitoring(win xproto.Window) {
	if s.current != 0 && s.current != win {
		xproto.ChangeWindowAttributes(
			s.conn,
			s.current,
			xproto.CwEventMask,
			[]uint32{xproto.EventMaskNoEvent},
		)
	}

	xproto.ChangeWindowAttributes(
		s.conn,
		win,
		xproto.CwEventMask,
		[]uint32{xproto.EventMaskPropertyChange},
	)
	s.current = win
}

// activeWindow reads _NET_ACTIVE_WINDOW from the root window. Zero means no
// window has focus.
func (s *x11Source) activeWindow() (xproto.Window, error) {
	reply, err := xproto.GetProperty(
		s.conn,
		false,
		s.root,
		s.atoms.netActiveWindow,
		xproto.AtomWindow,
		0,
		1,
	).Reply()
	if err != nil {
		return 0, platformErr("failed to get active window", err)
	}
	if len(reply.Value) < 4 {
		return 0, nil
	}
	return xproto.Window(xgb.Get32(reply.Value)), nil
}

// windowIdentity gathers title, PID, and process name for a window. Each
// field degrades to nil independently; a half-closed window still produces a
// usable identity.
func (s *x11Source) windowIdentity(win xproto.Window) Identity {
	log := logger.WithComponent("x11")
	var id Identity

	if title, err := s.windowTitle(win); err == nil {
		id.WindowTitle = strPtr(title)
	} else {
		log.Debug().Uint32("window", uint32(win)).Err(err).Msg("failed to get window title")
	}

	if pid, err := s.windowPID(win); err == nil {
		id.ProcessID = u32Ptr(pid)
		if name, err := processName(pid); err == nil {
			id.ProcessName = strPtr(name)
			s.currentProc = name
		} else {
			log.Debug().Uint32("pid", pid).Err(err).Msg("failed to get process name")
			s.currentProc = ""
		}
	} else {
		log.Debug().Uint32("window", uint32(win)).Err(err).Msg("failed to get window PID")
		s.currentProc = ""
	}

	return id
}

// windowTitle reads _NET_WM_NAME (UTF-8) with a fallback to legacy WM_NAME.
func (s *x11Source) windowTitle(win xproto.Window) (string, error) {
	if title, err := s.stringProperty(win, s.atoms.netWMName, s.atoms.utf8String); err == nil && title != "" {
		return title, nil
	}
	title, err := s.stringProperty(win, xproto.AtomWmName, xproto.AtomString)
	if err != nil {
		return "", err
	}
	if title == "" {
		return "", fmt.Errorf("window has no name")
	}
	return title, nil
}

func (s *x11Source) stringProperty(win xproto.Window, property, typ xproto.Atom) (string, error) {
	reply, err := xproto.GetProperty(
		s.conn,
		false,
		win,
		property,
		typ,
		0,
		(1<<32)-1,
	).Reply()
	if err != nil {
		return "", platformErr("failed to get string property", err)
	}
	return string(reply.Value), nil
}

func (s *x11Source) windowPID(win xproto.Window) (uint32, error) {
	reply, err := xproto.GetProperty(
		s.conn,
		false,
		win,
		s.atoms.netWMPid,
		xproto.AtomCardinal,
		0,
		1,
	).Reply()
	if err != nil {
		return 0, platformErr("failed to get _NET_WM_PID", err)
	}
	if len(reply.Value) < 4 {
		return 0, fmt.Errorf("window has no _NET_WM_PID")
	}
	return xgb.Get32(reply.Value), nil
}

// processName resolves a PID to its executable name via /proc, preferring
// comm and falling back to the exe symlink.
func processName(pid uint32) (string, error) {
	if comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid)); err == nil {
		return strings.TrimRight(string(comm), "\n"), nil
	}
	exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return "", fmt.Errorf("failed to resolve process name for pid %d: %w", pid, err)
	}
	return filepath.Base(exe), nil
}

// Icon extracts _NET_WM_ICON for the focused window, falling back to the
// icon theme search when the window carries no icon property.
func (s *x11Source) Icon(opts Options) (*icon.Image, error) {
	if s.current == 0 {
		return nil, fmt.Errorf("no focused window to fetch icon for")
	}

	img, err := s.nativeIcon(s.current)
	if err != nil {
		logger.WithComponent("x11").Debug().Err(err).Msg("native icon extraction failed, trying theme fallback")
		img = icon.Lookup(s.currentProc)
	}
	if img == nil {
		return nil, fmt.Errorf("no icon available for window %d", s.current)
	}

	return icon.Resize(img, opts.IconSize), nil
}

// nativeIcon reads the _NET_WM_ICON property: width, height, then
// width*height ARGB32 words.
func (s *x11Source) nativeIcon(win xproto.Window) (*icon.Image, error) {
	reply, err := xproto.GetProperty(
		s.conn,
		false,
		win,
		s.atoms.netWMIcon,
		xproto.AtomCardinal,
		0,
		(1<<30)-1,
	).Reply()
	if err != nil {
		return nil, platformErr("failed to get _NET_WM_ICON", err)
	}
	if reply.ValueLen == 0 {
		return nil, fmt.Errorf("window carries no _NET_WM_ICON")
	}
	if reply.Format != 32 {
		return nil, fmt.Errorf("unexpected _NET_WM_ICON format %d", reply.Format)
	}

	values := make([]uint32, 0, len(reply.Value)/4)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		values = append(values, xgb.Get32(reply.Value[i:]))
	}

	return icon.FromARGB(values)
}
