package icon

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSearch builds a search rooted in a temp dir with the conventional
// layout: pixmaps/, icons/hicolor/<size>x<size>/apps/, applications/.
func testSearch(t *testing.T) (*search, string) {
	t.Helper()

	dir := t.TempDir()
	s := &search{
		pixmapDirs:  []string{filepath.Join(dir, "pixmaps")},
		themeRoots:  []string{filepath.Join(dir, "icons", "hicolor")},
		desktopDirs: []string{filepath.Join(dir, "applications")},
	}
	return s, dir
}

func TestLookupFindsPixmapFirst(t *testing.T) {
	s, dir := testSearch(t)

	writePNG(t, filepath.Join(dir, "pixmaps", "myapp.png"), 8, 8, color.NRGBA{R: 1, A: 255})
	writePNG(t, filepath.Join(dir, "icons", "hicolor", "48x48", "apps", "myapp.png"), 48, 48, color.NRGBA{R: 2, A: 255})

	img := s.lookup("myapp")
	require.NotNil(t, img)
	assert.Equal(t, 8, img.Width, "the legacy pixmap directory wins over theme tiers")
}

func TestLookupPrefersLargerThemeTier(t *testing.T) {
	s, dir := testSearch(t)

	writePNG(t, filepath.Join(dir, "icons", "hicolor", "16x16", "apps", "myapp.png"), 16, 16, color.NRGBA{A: 255})
	writePNG(t, filepath.Join(dir, "icons", "hicolor", "128x128", "apps", "myapp.png"), 128, 128, color.NRGBA{A: 255})

	img := s.lookup("myapp")
	require.NotNil(t, img)
	assert.Equal(t, 128, img.Width, "larger tiers are probed before smaller ones")
}

func TestLookupAppliesNameOverride(t *testing.T) {
	s, dir := testSearch(t)

	writePNG(t, filepath.Join(dir, "icons", "hicolor", "48x48", "apps", "org.gnome.Terminal.png"), 48, 48, color.NRGBA{A: 255})

	assert.NotNil(t, s.lookup("gnome-terminal-server"))
	assert.NotNil(t, s.lookup("GNOME-Terminal"), "matching is case-insensitive on the executable name")
}

func TestLookupResolvesDesktopEntry(t *testing.T) {
	s, dir := testSearch(t)

	entry := "[Desktop Entry]\nName=My App\nIcon=fancy-icon\nExec=myapp\n"
	desktopPath := filepath.Join(dir, "applications", "myapp.desktop")
	require.NoError(t, os.MkdirAll(filepath.Dir(desktopPath), 0o755))
	require.NoError(t, os.WriteFile(desktopPath, []byte(entry), 0o644))

	writePNG(t, filepath.Join(dir, "icons", "hicolor", "32x32", "apps", "fancy-icon.png"), 32, 32, color.NRGBA{A: 255})

	img := s.lookup("myapp")
	require.NotNil(t, img)
	assert.Equal(t, 32, img.Width)
}

func TestLookupResolvesAbsoluteDesktopIcon(t *testing.T) {
	s, dir := testSearch(t)

	iconPath := filepath.Join(dir, "custom", "brand.png")
	writePNG(t, iconPath, 24, 24, color.NRGBA{A: 255})

	entry := "[Desktop Entry]\nIcon=" + iconPath + "\n"
	desktopPath := filepath.Join(dir, "applications", "myapp.desktop")
	require.NoError(t, os.MkdirAll(filepath.Dir(desktopPath), 0o755))
	require.NoError(t, os.WriteFile(desktopPath, []byte(entry), 0o644))

	img := s.lookup("myapp")
	require.NotNil(t, img)
	assert.Equal(t, 24, img.Width)
}

func TestLookupMissReturnsNil(t *testing.T) {
	s, _ := testSearch(t)

	assert.Nil(t, s.lookup("no-such-app"))
	assert.Nil(t, s.lookup(""))
	assert.Nil(t, s.lookup("   "))
}
