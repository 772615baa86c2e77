// Package projection computes occupancy histograms over raster images and
// derives whitespace cut lines from them.
package projection

import "image"

// alphaThreshold is the alpha value above which a pixel counts as occupied.
const alphaThreshold = 10

// Profile holds the row and column occupancy histograms of an image.
// Horizontal has one entry per row, Vertical one per column; each entry is
// the count of non-transparent pixels on that line. This is presence/absence
// only, color is deliberately ignored.
type Profile struct {
	Horizontal []int
	Vertical   []int
}

// CutLine marks a contiguous zero-run in a profile. Start and End are the
// inclusive run boundaries, Position its midpoint.
type CutLine struct {
	Start    int
	End      int
	Position int
}

// Build scans img once and returns its projection profile.
// O(w*h) time, O(w+h) extra space.
func Build(img *image.NRGBA) Profile {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	p := Profile{
		Horizontal: make([]int, h),
		Vertical:   make([]int, w),
	}

	for y := 0; y < h; y++ {
		i := y*img.Stride + 3
		for x := 0; x < w; x++ {
			if img.Pix[i] > alphaThreshold {
				p.Horizontal[y]++
				p.Vertical[x]++
			}
			i += 4
		}
	}
	return p
}

// FindCutLines scans profile once and emits a CutLine for every zero-run of
// length >= gapThreshold. Shorter runs are treated as intra-segment
// whitespace and ignored. Results are ordered by position.
func FindCutLines(profile []int, gapThreshold int) []CutLine {
	if gapThreshold <= 0 {
		gapThreshold = 1
	}

	var cuts []CutLine
	runStart := -1

	flush := func(end int) {
		if runStart < 0 {
			return
		}
		if end-runStart+1 >= gapThreshold {
			cuts = append(cuts, CutLine{
				Start:    runStart,
				End:      end,
				Position: (runStart + end) / 2,
			})
		}
		runStart = -1
	}

	for i, v := range profile {
		if v == 0 {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i - 1)
	}
	flush(len(profile) - 1)

	return cuts
}
