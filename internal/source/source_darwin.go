//go:build darwin

package source

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/focuswatch/focuswatch/internal/icon"
	"github.com/focuswatch/focuswatch/internal/logger"
)

// frontmostScript returns app name, PID, and window title of the frontmost
// process, NUL-separated so titles with newlines survive.
const frontmostScript = `
tell application "System Events"
	set frontApp to first application process whose frontmost is true
	set frontAppName to name of frontApp
	set frontAppPID to unix id of frontApp
	tell process frontAppName
		try
			set windowTitle to name of first window
		on error
			set windowTitle to ""
		end try
	end tell
	set NUL to (ASCII character 0)
	return frontAppName & NUL & frontAppPID & NUL & windowTitle
end tell
`

const appPathScript = `
tell application "System Events"
	set frontApp to first application process whose frontmost is true
	return POSIX path of application file of frontApp
end tell
`

// displayNameTTL bounds how long a localized app name is trusted before it
// is looked up again.
const displayNameTTL = 30 * time.Second

// cachedName is the per-source memo for localized app names; owned by the
// source instance, never process-global.
type cachedName struct {
	pid       uint32
	name      string
	fetchedAt time.Time
}

// darwinSource polls the frontmost application via System Events and
// detects transitions by comparing (process name, window title).
type darwinSource struct {
	prevProc  *string
	prevTitle *string
	nameCache cachedName
}

// New returns the macOS event source. The first query doubles as the
// establishment probe so accessibility-permission refusals surface as a
// terminal error instead of an endless silent loop.
func New() (Source, error) {
	s := &darwinSource{}
	if _, err := s.frontmost(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *darwinSource) Close() error { return nil }

func (s *darwinSource) InitialSnapshot() (*Signal, error) {
	id, err := s.frontmost()
	if err != nil {
		return nil, err
	}

	s.prevProc = id.ProcessName
	s.prevTitle = id.WindowTitle
	return &Signal{Kind: ActiveWindowChanged, Identity: id}, nil
}

// Next polls every interval; macOS has no subscription model without a run
// loop, so both wait disciplines poll and re-check the stop flag.
func (s *darwinSource) Next(stop *atomic.Bool, pollInterval time.Duration) (Signal, error) {
	log := logger.WithComponent("macos")

	for {
		if stopped(stop) {
			return Signal{}, errStopped
		}
		time.Sleep(pollInterval)

		id, err := s.frontmost()
		if err != nil {
			// Permission refusals are terminal; anything else (app quitting
			// mid-query, scripting hiccup) is transient.
			if errors.Is(err, ErrPermissionDenied) {
				return Signal{}, err
			}
			log.Debug().Err(err).Msg("failed to query frontmost application")
			continue
		}

		procChanged := !strEqual(id.ProcessName, s.prevProc)
		titleChanged := !strEqual(id.WindowTitle, s.prevTitle)
		if !procChanged && !titleChanged {
			continue
		}

		kind := TitleChanged
		if procChanged {
			kind = ActiveWindowChanged
		}
		s.prevProc = id.ProcessName
		s.prevTitle = id.WindowTitle

		return Signal{Kind: kind, Identity: id}, nil
	}
}

// frontmost queries System Events for the focused application and window.
func (s *darwinSource) frontmost() (Identity, error) {
	out, err := runOsascript(frontmostScript)
	if err != nil {
		return Identity{}, err
	}

	parts := bytes.SplitN(out, []byte{0}, 3)
	if len(parts) != 3 {
		return Identity{}, platformErr("unexpected frontmost query output", nil)
	}

	name := string(parts[0])
	title := string(parts[2])

	var id Identity
	if pid64, err := strconv.ParseUint(string(parts[1]), 10, 32); err == nil {
		pid := uint32(pid64)
		id.ProcessID = u32Ptr(pid)
		// Prefer the localized display name ("Windsurf", not "Electron").
		if display := s.displayName(pid); display != "" {
			name = display
		}
	}

	if name != "" {
		id.ProcessName = strPtr(name)
	}
	if title == "" && name != "" {
		title = fmt.Sprintf("%s (No window title)", name)
	}
	if title != "" {
		id.WindowTitle = strPtr(title)
	}

	return id, nil
}

// displayName resolves the localized app name for a PID, memoized per
// source instance with an explicit TTL check on read.
func (s *darwinSource) displayName(pid uint32) string {
	if s.nameCache.pid == pid && time.Since(s.nameCache.fetchedAt) < displayNameTTL {
		return s.nameCache.name
	}

	out, err := exec.Command("lsappinfo", "info", "-only", "name", "-app", strconv.FormatUint(uint64(pid), 10)).Output()
	if err != nil {
		return ""
	}

	// Output is `"LSDisplayName"="Safari"`; take the quoted value.
	line := strings.TrimSpace(string(out))
	if idx := strings.LastIndex(line, "="); idx >= 0 {
		line = strings.Trim(line[idx+1:], `"`)
	}

	s.nameCache = cachedName{pid: pid, name: line, fetchedAt: time.Now()}
	return line
}

// Icon renders the frontmost application's bundle icon: locate the .icns
// resource, rasterize it to PNG with sips, decode, resize.
func (s *darwinSource) Icon(opts Options) (*icon.Image, error) {
	out, err := runOsascript(appPathScript)
	if err != nil {
		return nil, err
	}
	appPath := strings.TrimSpace(string(out))
	if appPath == "" {
		return nil, fmt.Errorf("frontmost application has no bundle path")
	}

	icnsPath, err := bundleIconFile(appPath)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp("", "focuswatch-icon-*.png")
	if err != nil {
		return nil, fmt.Errorf("failed to create icon scratch file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if out, err := exec.Command("sips", "-s", "format", "png", icnsPath, "--out", tmpPath).CombinedOutput(); err != nil {
		return nil, platformErr(fmt.Sprintf("sips conversion failed: %s", strings.TrimSpace(string(out))), err)
	}

	img := icon.LoadFile(tmpPath)
	if img == nil {
		return nil, fmt.Errorf("failed to decode converted bundle icon")
	}
	return icon.Resize(img, opts.IconSize), nil
}

// bundleIconFile finds the app bundle's .icns resource, preferring the one
// named in Info.plist.
func bundleIconFile(appPath string) (string, error) {
	resources := filepath.Join(appPath, "Contents", "Resources")

	if out, err := exec.Command("defaults", "read", filepath.Join(appPath, "Contents", "Info"), "CFBundleIconFile").Output(); err == nil {
		name := strings.TrimSpace(string(out))
		if name != "" {
			if !strings.HasSuffix(name, ".icns") {
				name += ".icns"
			}
			path := filepath.Join(resources, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}

	matches, err := filepath.Glob(filepath.Join(resources, "*.icns"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("no .icns resource in %s", appPath)
	}
	return matches[0], nil
}

// runOsascript executes an AppleScript snippet, classifying accessibility
// refusals as permission errors.
func runOsascript(script string) ([]byte, error) {
	cmd := exec.Command("osascript", "-e", script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		msg := stderr.String()
		if strings.Contains(msg, "not allowed assistive access") ||
			strings.Contains(msg, "accessibility") ||
			strings.Contains(msg, "(-25211)") {
			return nil, ErrPermissionDenied
		}
		return nil, platformErr(fmt.Sprintf("osascript failed: %s", strings.TrimSpace(msg)), err)
	}

	return bytes.TrimRight(out, "\r\n"), nil
}
