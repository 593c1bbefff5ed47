//go:build windows

package source

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/focuswatch/focuswatch/internal/icon"
	"github.com/focuswatch/focuswatch/internal/logger"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")
	gdi32  = windows.NewLazySystemDLL("gdi32.dll")

	procGetForegroundWindow      = user32.NewProc("GetForegroundWindow")
	procGetWindowTextW           = user32.NewProc("GetWindowTextW")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
	procIsWindow                 = user32.NewProc("IsWindow")
	procSendMessageTimeoutW      = user32.NewProc("SendMessageTimeoutW")
	procGetClassLongPtrW         = user32.NewProc("GetClassLongPtrW")
	procGetIconInfo              = user32.NewProc("GetIconInfo")
	procGetDC                    = user32.NewProc("GetDC")
	procReleaseDC                = user32.NewProc("ReleaseDC")
	procOpenInputDesktop         = user32.NewProc("OpenInputDesktop")
	procCloseDesktop             = user32.NewProc("CloseDesktop")

	procGetDIBits    = gdi32.NewProc("GetDIBits")
	procGetObjectW   = gdi32.NewProc("GetObjectW")
	procDeleteObject = gdi32.NewProc("DeleteObject")
)

const (
	wmGetIcon       = 0x007F
	iconBig         = 1
	gclpHIcon       = ^uintptr(13) // -14
	smtoAbortIfHung = 0x0002

	desktopReadObjects = 0x0001

	biRGB          = 0
	dibRGBColors   = 0
	bitmapInfoSize = 40
)

type iconInfo struct {
	FIcon    int32
	XHotspot uint32
	YHotspot uint32
	HbmMask  windows.Handle
	HbmColor windows.Handle
}

type gdiBitmap struct {
	Type       int32
	Width      int32
	Height     int32
	WidthBytes int32
	Planes     uint16
	BitsPixel  uint16
	Bits       uintptr
}

type bitmapInfoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

// winSource detects focus transitions by polling the foreground window and
// comparing (process name, window title) against the previous poll.
type winSource struct {
	current     windows.HWND
	prevProc    *string
	prevTitle   *string
	initialized bool
}

// New returns the Windows event source. Focus tracking needs an interactive
// window station; services without one fail fast here.
func New() (Source, error) {
	desktop, _, _ := procOpenInputDesktop.Call(0, 0, desktopReadObjects)
	if desktop == 0 {
		return nil, ErrNotInteractiveSession
	}
	procCloseDesktop.Call(desktop)

	return &winSource{}, nil
}

func (s *winSource) Close() error { return nil }

func (s *winSource) InitialSnapshot() (*Signal, error) {
	hwnd := foregroundWindow()
	if hwnd == 0 {
		return nil, nil
	}

	id := s.windowIdentity(hwnd)
	s.current = hwnd
	s.prevProc = id.ProcessName
	s.prevTitle = id.WindowTitle
	s.initialized = true

	return &Signal{Kind: ActiveWindowChanged, Identity: id}, nil
}

// Next polls the foreground window each interval. Windows offers no
// subscription model usable here, so both wait disciplines poll; the stop
// flag is re-checked every iteration.
func (s *winSource) Next(stop *atomic.Bool, pollInterval time.Duration) (Signal, error) {
	for {
		if stopped(stop) {
			return Signal{}, errStopped
		}

		hwnd := foregroundWindow()
		if hwnd == 0 {
			// No foreground window (e.g. during a UAC prompt); forget the
			// previous one so the next window fires an event.
			s.current = 0
			s.prevProc = nil
			s.prevTitle = nil
			time.Sleep(pollInterval)
			continue
		}

		id := s.windowIdentity(hwnd)
		windowChanged := hwnd != s.current || !strEqual(id.ProcessName, s.prevProc)
		titleChanged := !strEqual(id.WindowTitle, s.prevTitle)

		if !s.initialized || windowChanged || titleChanged {
			kind := TitleChanged
			if !s.initialized || windowChanged {
				kind = ActiveWindowChanged
			}

			s.current = hwnd
			s.prevProc = id.ProcessName
			s.prevTitle = id.WindowTitle
			s.initialized = true

			return Signal{Kind: kind, Identity: id}, nil
		}

		time.Sleep(pollInterval)
	}
}

func foregroundWindow() windows.HWND {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return 0
	}
	if valid, _, _ := procIsWindow.Call(hwnd); valid == 0 {
		return 0
	}
	return windows.HWND(hwnd)
}

// windowIdentity gathers title, PID, and executable name. Fields degrade to
// nil independently; short-lived windows never abort the loop.
func (s *winSource) windowIdentity(hwnd windows.HWND) Identity {
	log := logger.WithComponent("windows")
	var id Identity

	if title := windowTitle(hwnd); title != "" {
		id.WindowTitle = strPtr(title)
	}

	var pid uint32
	procGetWindowThreadProcessId.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&pid)))
	if pid != 0 {
		id.ProcessID = u32Ptr(pid)
		if name, err := processImageName(pid); err == nil {
			id.ProcessName = strPtr(name)
		} else {
			log.Debug().Uint32("pid", pid).Err(err).Msg("failed to get process name")
		}
	}

	return id
}

func windowTitle(hwnd windows.HWND) string {
	var buf [512]uint16
	n, _, _ := procGetWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}

// processImageName resolves a PID to its executable base name.
func processImageName(pid uint32) (string, error) {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return "", fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	defer windows.CloseHandle(handle)

	var buf [windows.MAX_PATH]uint16
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(handle, 0, &buf[0], &size); err != nil {
		return "", fmt.Errorf("failed to query image name for pid %d: %w", pid, err)
	}

	return strings.ToLower(filepath.Base(windows.UTF16ToString(buf[:size]))), nil
}

// Icon extracts the foreground window's icon: WM_GETICON first, then the
// window class icon, read back through a device-context bitmap copy.
func (s *winSource) Icon(opts Options) (*icon.Image, error) {
	if s.current == 0 {
		return nil, fmt.Errorf("no focused window to fetch icon for")
	}

	hicon := queryWindowIcon(s.current)
	if hicon == 0 {
		return nil, fmt.Errorf("window carries no icon")
	}

	img, err := iconToImage(hicon)
	if err != nil {
		return nil, err
	}
	return icon.Resize(img, opts.IconSize), nil
}

// queryWindowIcon returns a shared icon handle; shared handles must not be
// destroyed by the caller.
func queryWindowIcon(hwnd windows.HWND) uintptr {
	var result uintptr
	procSendMessageTimeoutW.Call(
		uintptr(hwnd),
		wmGetIcon,
		iconBig,
		0,
		smtoAbortIfHung,
		200, // ms
		uintptr(unsafe.Pointer(&result)),
	)
	if result != 0 {
		return result
	}

	hicon, _, _ := procGetClassLongPtrW.Call(uintptr(hwnd), gclpHIcon)
	return hicon
}

// iconToImage reads the icon's color bitmap into an RGBA8 buffer. Every GDI
// object acquired here is released on all paths, including error returns.
func iconToImage(hicon uintptr) (*icon.Image, error) {
	var ii iconInfo
	if ok, _, err := procGetIconInfo.Call(hicon, uintptr(unsafe.Pointer(&ii))); ok == 0 {
		return nil, platformErr("GetIconInfo failed", err)
	}
	// GetIconInfo hands over ownership of both bitmaps.
	defer procDeleteObject.Call(uintptr(ii.HbmMask))
	defer procDeleteObject.Call(uintptr(ii.HbmColor))

	if ii.HbmColor == 0 {
		return nil, fmt.Errorf("icon has no color bitmap")
	}

	var bm gdiBitmap
	if n, _, err := procGetObjectW.Call(uintptr(ii.HbmColor), unsafe.Sizeof(bm), uintptr(unsafe.Pointer(&bm))); n == 0 {
		return nil, platformErr("GetObject failed on icon bitmap", err)
	}

	width := int(bm.Width)
	height := int(bm.Height)
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid icon bitmap dimensions %dx%d", width, height)
	}

	hdc, _, _ := procGetDC.Call(0)
	if hdc == 0 {
		return nil, fmt.Errorf("failed to acquire screen device context")
	}
	defer procReleaseDC.Call(0, hdc)

	bi := bitmapInfoHeader{
		Size:        bitmapInfoSize,
		Width:       int32(width),
		Height:      -int32(height), // top-down rows
		Planes:      1,
		BitCount:    32,
		Compression: biRGB,
	}

	buf := make([]byte, width*height*4)
	lines, _, err := procGetDIBits.Call(
		hdc,
		uintptr(ii.HbmColor),
		0,
		uintptr(height),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(unsafe.Pointer(&bi)),
		dibRGBColors,
	)
	if lines == 0 {
		return nil, platformErr("GetDIBits failed", err)
	}

	// GetDIBits yields BGRA; swap into RGBA.
	for i := 0; i+4 <= len(buf); i += 4 {
		buf[i], buf[i+2] = buf[i+2], buf[i]
	}

	return &icon.Image{Width: width, Height: height, Pixels: buf}, nil
}
