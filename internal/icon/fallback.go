package icon

import (
	"bufio"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	_ "image/png"

	_ "golang.org/x/image/bmp"

	"github.com/focuswatch/focuswatch/internal/logger"
)

// iconNameOverrides maps well-known executable names to the icon name their
// desktop integration actually installs. Executable and icon names routinely
// disagree (e.g. "gnome-terminal-server" vs "org.gnome.Terminal").
//
// Matching is by exact lowercased executable name. Ambiguous short names can
// still pick the wrong icon; tightening this is an open question upstream.
var iconNameOverrides = map[string]string{
	"google-chrome":         "google-chrome",
	"chrome":                "google-chrome",
	"chromium-browser":      "chromium",
	"firefox-bin":           "firefox",
	"firefox-esr":           "firefox",
	"code":                  "visual-studio-code",
	"code-oss":              "code-oss",
	"codium":                "vscodium",
	"gnome-terminal-server": "org.gnome.Terminal",
	"gnome-terminal":        "org.gnome.Terminal",
	"nautilus":              "org.gnome.Nautilus",
	"gedit":                 "org.gnome.gedit",
	"konsole":               "utilities-terminal",
	"xterm":                 "utilities-terminal",
	"urxvt":                 "utilities-terminal",
	"soffice.bin":           "libreoffice-startcenter",
	"telegram-desktop":      "telegram",
	"signal-desktop":        "signal-desktop",
	"spotify":               "spotify-client",
	"wezterm-gui":           "org.wezfurlong.wezterm",
	"electron":              "electron",
	"java":                  "java",
}

// themeSizes is the probe order for size-tiered theme directories, largest
// first so the resize step downsamples instead of upsampling.
var themeSizes = []int{256, 128, 96, 64, 48, 32, 24, 16}

// search holds the directory roots probed by the fallback lookup. The
// defaults cover the conventional freedesktop locations; tests substitute
// their own roots.
type search struct {
	pixmapDirs  []string
	themeRoots  []string
	desktopDirs []string
}

func defaultSearch() *search {
	s := &search{
		pixmapDirs: []string{"/usr/share/pixmaps"},
		themeRoots: []string{
			"/usr/share/icons/hicolor",
			"/usr/share/icons/Adwaita",
			"/usr/share/icons/breeze",
			"/usr/local/share/icons/hicolor",
		},
		desktopDirs: []string{"/usr/share/applications"},
	}

	if home, err := os.UserHomeDir(); err == nil {
		s.themeRoots = append(s.themeRoots, filepath.Join(home, ".local/share/icons/hicolor"))
		s.desktopDirs = append(s.desktopDirs, filepath.Join(home, ".local/share/applications"))
	}

	return s
}

// Lookup searches the icon theme directories for an icon matching the given
// process name. It is the Linux fallback used when native extraction yields
// nothing. Returns nil when no icon could be found; absence is not an error.
func Lookup(processName string) *Image {
	return defaultSearch().lookup(processName)
}

func (s *search) lookup(processName string) *Image {
	name := strings.ToLower(strings.TrimSpace(processName))
	if name == "" {
		return nil
	}

	// Tier 1: normalize the executable name via the override table.
	if canonical, ok := iconNameOverrides[name]; ok {
		name = canonical
	}

	// Tiers 2-3: direct file probes.
	if img := s.probeName(name); img != nil {
		return img
	}

	// Tier 4: resolve the Icon= field of a matching desktop entry and
	// re-run the file probes on the resolved name.
	if resolved := s.desktopEntryIcon(name); resolved != "" && resolved != name {
		if filepath.IsAbs(resolved) {
			return LoadFile(resolved)
		}
		return s.probeName(resolved)
	}

	return nil
}

// probeName checks the legacy pixmap directory, then the size-tiered theme
// directories, for a decodable image with the given name.
func (s *search) probeName(name string) *Image {
	for _, dir := range s.pixmapDirs {
		if img := LoadFile(filepath.Join(dir, name+".png")); img != nil {
			return img
		}
	}

	for _, size := range themeSizes {
		tier := filepath.Join(sizeDir(size), "apps", name+".png")
		for _, root := range s.themeRoots {
			if img := LoadFile(filepath.Join(root, tier)); img != nil {
				return img
			}
		}
	}

	return nil
}

func sizeDir(size int) string {
	return fmt.Sprintf("%dx%d", size, size)
}

// desktopEntryIcon reads the Icon= field from <name>.desktop, if present.
func (s *search) desktopEntryIcon(name string) string {
	for _, dir := range s.desktopDirs {
		path := filepath.Join(dir, name+".desktop")
		f, err := os.Open(path)
		if err != nil {
			continue
		}

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if value, ok := strings.CutPrefix(line, "Icon="); ok {
				f.Close()
				return strings.TrimSpace(value)
			}
		}
		f.Close()
	}
	return ""
}

// LoadFile opens and decodes an image file, returning nil on any
// failure. SVG sources are skipped: there is no rasterizer in the pipeline.
func LoadFile(path string) *Image {
	if strings.HasSuffix(path, ".svg") {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		logger.WithComponent("icon").Debug().Str("path", path).Err(err).Msg("failed to decode icon file")
		return nil
	}

	img, err := FromStdImage(src)
	if err != nil {
		return nil
	}
	return img
}
