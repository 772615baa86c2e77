// Package trimmer removes uniform border padding from sprite sheets.
package trimmer

import (
	"image"
	"image/color"
	"os"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/sprite-splitter/internal/utils"
	"github.com/menta2k/sprite-splitter/pkg/types"
)

// Config holds the tolerances used to decide whether a border row or
// column is padding.
type Config struct {
	// AlphaThreshold is the alpha value at or below which a pixel counts
	// as transparent.
	AlphaThreshold uint8
	// ColorTolerance is the per-channel distance within which an opaque
	// pixel still counts as background.
	ColorTolerance uint8
	// Background is the fixed background color matched against opaque
	// border pixels.
	Background color.NRGBA
}

// Trimmer strips transparent or background-colored border rows and columns
// without touching interior pixels.
type Trimmer struct {
	config Config
}

// New creates a Trimmer with the default tolerances (alpha 10, color 10,
// white background).
func New() *Trimmer {
	return &Trimmer{
		config: Config{
			AlphaThreshold: 10,
			ColorTolerance: 10,
			Background:     color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		},
	}
}

// NewWithConfig creates a Trimmer with custom tolerances.
func NewWithConfig(config Config) *Trimmer {
	return &Trimmer{config: config}
}

// Open decodes an image from a file path. The path must exist and carry a
// known image extension; WebP is tried explicitly when the registered
// decoders reject the file. Failures map to the trim phase.
func Open(path string) (image.Image, error) {
	if !utils.FileExists(path) {
		return nil, types.NewTrimError("open_failed", "input image not found: "+path, nil)
	}
	if !utils.IsImageFile(path) {
		return nil, types.NewTrimError("decode_failed", "unsupported input format: "+path, nil)
	}

	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, types.NewTrimError("open_failed", "failed to open input image", err)
	}
	defer f.Close()

	if img, err := webp.Decode(f); err == nil {
		return img, nil
	}
	if _, err := f.Seek(0, 0); err == nil {
		if img, _, err := image.Decode(f); err == nil {
			return img, nil
		}
	}
	return nil, types.NewTrimError("decode_failed", "failed to decode input image: "+path, nil)
}

// Trim returns img with padding rows and columns removed from all four
// sides. It fails with a non-recoverable trim error when img is nil or
// nothing but padding remains.
func (t *Trimmer) Trim(img image.Image) (*image.NRGBA, error) {
	trimmed, _, err := t.TrimWithOffset(img)
	return trimmed, err
}

// TrimWithOffset is Trim plus the offset of the trimmed origin in the
// original image's coordinate space, for callers that need to map segment
// bounds back to the untrimmed input.
func (t *Trimmer) TrimWithOffset(img image.Image) (*image.NRGBA, image.Point, error) {
	if img == nil {
		return nil, image.Point{}, types.NewTrimError("nil_image", "no image to trim", nil)
	}

	src := imaging.Clone(img)
	rect, err := t.contentRect(src)
	if err != nil {
		return nil, image.Point{}, err
	}
	return imaging.Crop(src, rect), rect.Min, nil
}

// contentRect scans the borders of src and returns the smallest rectangle
// containing all non-padding pixels.
func (t *Trimmer) contentRect(src *image.NRGBA) (image.Rectangle, error) {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if w == 0 || h == 0 {
		return image.Rectangle{}, types.NewTrimError("zero_area", "input image has zero area", nil)
	}

	top := 0
	for top < h && t.rowIsPadding(src, top, w) {
		top++
	}
	if top == h {
		return image.Rectangle{}, types.NewTrimError("zero_area", "image is empty after trimming", nil)
	}

	bottom := h - 1
	for bottom > top && t.rowIsPadding(src, bottom, w) {
		bottom--
	}
	left := 0
	for left < w && t.colIsPadding(src, left, top, bottom) {
		left++
	}
	right := w - 1
	for right > left && t.colIsPadding(src, right, top, bottom) {
		right--
	}

	return image.Rect(left, top, right+1, bottom+1), nil
}

func (t *Trimmer) rowIsPadding(img *image.NRGBA, y, w int) bool {
	i := y * img.Stride
	for x := 0; x < w; x++ {
		if !t.isPadding(img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]) {
			return false
		}
		i += 4
	}
	return true
}

func (t *Trimmer) colIsPadding(img *image.NRGBA, x, top, bottom int) bool {
	i := top*img.Stride + x*4
	for y := top; y <= bottom; y++ {
		if !t.isPadding(img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]) {
			return false
		}
		i += img.Stride
	}
	return true
}

func (t *Trimmer) isPadding(r, g, b, a uint8) bool {
	if a <= t.config.AlphaThreshold {
		return true
	}
	bg := t.config.Background
	return within(r, bg.R, t.config.ColorTolerance) &&
		within(g, bg.G, t.config.ColorTolerance) &&
		within(b, bg.B, t.config.ColorTolerance)
}

func within(v, target, tol uint8) bool {
	if v > target {
		return v-target <= tol
	}
	return target-v <= tol
}
