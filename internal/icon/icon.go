// Package icon normalizes window icons from their native representations
// into a single RGBA8 raster model and resizes them on demand.
package icon

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Image is a decoded icon: row-major, 8-bit RGBA with straight alpha.
type Image struct {
	Width  int
	Height int
	Pixels []byte
}

// Clone returns a deep copy of the image.
func (img *Image) Clone() *Image {
	if img == nil {
		return nil
	}
	pixels := make([]byte, len(img.Pixels))
	copy(pixels, img.Pixels)
	return &Image{Width: img.Width, Height: img.Height, Pixels: pixels}
}

// Equal reports whether two images have identical dimensions and pixel data.
func (img *Image) Equal(other *Image) bool {
	if img == nil || other == nil {
		return img == other
	}
	if img.Width != other.Width || img.Height != other.Height {
		return false
	}
	if len(img.Pixels) != len(other.Pixels) {
		return false
	}
	for i := range img.Pixels {
		if img.Pixels[i] != other.Pixels[i] {
			return false
		}
	}
	return true
}

// validateDimensions checks that width and height are usable and that the
// pixel buffer size width*height*4 does not overflow.
func validateDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid icon dimensions %dx%d", width, height)
	}
	if width > math.MaxInt/4/height {
		return fmt.Errorf("icon dimensions %dx%d overflow", width, height)
	}
	return nil
}

// FromARGB converts an ARGB32 icon payload into an Image. The slice is the
// raw _NET_WM_ICON format: width, height, then width*height packed
// 0xAARRGGBB words. Returns an error when the header or pixel data is
// malformed; never panics on OS-supplied garbage.
func FromARGB(values []uint32) (*Image, error) {
	if len(values) < 2 {
		return nil, fmt.Errorf("icon payload too short: missing width/height header")
	}

	width := int(values[0])
	height := int(values[1])
	if err := validateDimensions(width, height); err != nil {
		return nil, err
	}

	expected := width * height
	if len(values)-2 < expected {
		return nil, fmt.Errorf("insufficient icon pixel data: expected %d words, got %d", expected, len(values)-2)
	}

	// ARGB packs alpha in the high byte; RGBA wants it in the low position.
	pixels := make([]byte, 0, expected*4)
	for _, argb := range values[2 : 2+expected] {
		a := byte(argb >> 24)
		r := byte(argb >> 16)
		g := byte(argb >> 8)
		b := byte(argb)
		pixels = append(pixels, r, g, b, a)
	}

	return &Image{Width: width, Height: height, Pixels: pixels}, nil
}

// FromStdImage converts a decoded image.Image (e.g. a PNG from the icon
// theme search) into the RGBA8 model.
func FromStdImage(src image.Image) (*Image, error) {
	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if err := validateDimensions(width, height); err != nil {
		return nil, err
	}

	// NRGBA keeps channel values straight; image.RGBA would premultiply
	// them by alpha and corrupt translucent icons.
	nrgba := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(nrgba, nrgba.Bounds(), src, bounds.Min, draw.Src)

	return &Image{Width: width, Height: height, Pixels: nrgba.Pix}, nil
}

// toNRGBA wraps the straight-alpha pixel buffer in an image.NRGBA without
// copying.
func (img *Image) toNRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    img.Pixels,
		Stride: img.Width * 4,
		Rect:   image.Rect(0, 0, img.Width, img.Height),
	}
}

// Resize resamples the image to a square target size using Catmull-Rom
// interpolation. An image already at the target size is returned unchanged,
// byte for byte. A target of zero disables resizing.
func Resize(img *Image, target int) *Image {
	if img == nil || target <= 0 {
		return img
	}
	if img.Width == target && img.Height == target {
		return img
	}

	src := img.toNRGBA()
	dst := image.NewNRGBA(image.Rect(0, 0, target, target))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	return &Image{Width: target, Height: target, Pixels: dst.Pix}
}
