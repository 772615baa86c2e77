// Package segment turns cut lines into cropped, independently owned
// sub-images of a sprite sheet.
package segment

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/menta2k/sprite-splitter/pkg/projection"
	"github.com/menta2k/sprite-splitter/pkg/types"
)

// Segment is one extracted sub-image. Bounds are expressed in the trimmed
// image's coordinate space. The pixel buffer is an independent copy owned
// by whoever holds the segment.
type Segment struct {
	Bounds   image.Rectangle
	Image    *image.NRGBA
	Area     int
	Metadata map[string]any
}

// TypedBounds returns the segment bounds in manifest form.
func (s Segment) TypedBounds() types.Bounds {
	return types.Bounds{
		X:      s.Bounds.Min.X,
		Y:      s.Bounds.Min.Y,
		Width:  s.Bounds.Dx(),
		Height: s.Bounds.Dy(),
	}
}

// alphaThreshold matches the projection analyzer's notion of occupancy.
const alphaThreshold = 10

// Extract crops every cell of the grid spanned by the horizontal and
// vertical cut lines. hCuts partition the y axis (cuts in the horizontal
// profile), vCuts the x axis. Cut positions sit mid-gap, so each cell is
// tightened to its non-transparent content; cells holding nothing but
// whitespace are degenerate and skipped. No noise filtering happens here;
// extraction stays total and over-inclusive.
func Extract(img *image.NRGBA, hCuts, vCuts []projection.CutLine) []Segment {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	ys := axisPositions(hCuts, h)
	xs := axisPositions(vCuts, w)

	var segments []Segment
	for i := 0; i < len(ys)-1; i++ {
		for j := 0; j < len(xs)-1; j++ {
			cell := image.Rect(xs[j], ys[i], xs[j+1], ys[i+1])
			rect, ok := contentRect(img, cell)
			if !ok {
				continue
			}
			segments = append(segments, Segment{
				Bounds:   rect,
				Image:    imaging.Crop(img, rect),
				Area:     rect.Dx() * rect.Dy(),
				Metadata: map[string]any{},
			})
		}
	}
	return segments
}

// contentRect shrinks cell to the smallest rectangle containing all its
// occupied pixels. ok is false when the cell is empty or degenerate.
func contentRect(img *image.NRGBA, cell image.Rectangle) (image.Rectangle, bool) {
	if cell.Dx() <= 0 || cell.Dy() <= 0 {
		return image.Rectangle{}, false
	}

	minX, minY := cell.Max.X, cell.Max.Y
	maxX, maxY := cell.Min.X-1, cell.Min.Y-1
	for y := cell.Min.Y; y < cell.Max.Y; y++ {
		i := y*img.Stride + cell.Min.X*4 + 3
		for x := cell.Min.X; x < cell.Max.X; x++ {
			if img.Pix[i] > alphaThreshold {
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				maxY = y
			}
			i += 4
		}
	}
	if maxX < minX {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// FilterByArea drops segments smaller than minFraction of totalArea.
// A minFraction of zero or less disables the filter.
func FilterByArea(segments []Segment, totalArea int, minFraction float64) []Segment {
	if minFraction <= 0 || totalArea <= 0 {
		return segments
	}
	minArea := minFraction * float64(totalArea)

	kept := segments[:0:0]
	for _, s := range segments {
		if float64(s.Area) >= minArea {
			kept = append(kept, s)
		}
	}
	return kept
}

// axisPositions builds the [0, cuts..., dim] partition of one axis.
func axisPositions(cuts []projection.CutLine, dim int) []int {
	positions := make([]int, 0, len(cuts)+2)
	positions = append(positions, 0)
	for _, c := range cuts {
		if c.Position > 0 && c.Position < dim {
			positions = append(positions, c.Position)
		}
	}
	positions = append(positions, dim)
	return positions
}
