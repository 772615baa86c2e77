package types

import (
	"image/color"
	"time"
)

// SegmentType is the content category assigned to an extracted segment.
type SegmentType string

const (
	TypeColor SegmentType = "color"
	TypeMono  SegmentType = "mono"
	TypeLogo  SegmentType = "logo"
)

// Valid reports whether t is one of the known segment types.
func (t SegmentType) Valid() bool {
	switch t {
	case TypeColor, TypeMono, TypeLogo:
		return true
	}
	return false
}

// Bounds is a segment bounding box in trimmed-image pixel coordinates.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns the box area in pixels.
func (b Bounds) Area() int {
	return b.Width * b.Height
}

// Classification is the result of classifying one segment. HeuristicScore
// is always set; VisionScore only when the fallback classifier ran.
type Classification struct {
	Type           SegmentType `json:"type"`
	Confidence     float64     `json:"confidence"`
	Reasoning      string      `json:"reasoning"`
	HeuristicScore float64     `json:"heuristic_score"`
	VisionScore    *float64    `json:"vision_score,omitempty"`
}

// SpriteSlice is the persisted form of one exported segment.
type SpriteSlice struct {
	Filename   string         `json:"filename"`
	Type       SegmentType    `json:"type"`
	Confidence float64        `json:"confidence"`
	Bounds     Bounds         `json:"bounds"`
	SizeKB     float64        `json:"size_kb"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ManifestMetadata describes the run that produced a manifest.
type ManifestMetadata struct {
	OriginalImage    string           `json:"original_image"`
	ProcessingConfig ProcessingConfig `json:"processing_config"`
	Timestamp        string           `json:"timestamp"`
}

// SliceManifest is the structured record of one complete run. It is built
// once after all slices are durably written and never mutated afterwards.
type SliceManifest struct {
	Slices         []SpriteSlice    `json:"slices"`
	ProcessingTime float64          `json:"processing_time"`
	AccuracyScore  float64          `json:"accuracy_score"`
	Metadata       ManifestMetadata `json:"metadata"`
}

// ProcessingConfig holds the immutable parameters of one run.
type ProcessingConfig struct {
	// HorizontalGapPx and VerticalGapPx are the minimum number of
	// consecutive empty rows/columns that count as a segment boundary.
	HorizontalGapPx int `json:"horizontal_gap_px"`
	VerticalGapPx   int `json:"vertical_gap_px"`

	// ConfidenceThreshold marks slices below it as low-confidence in the
	// manifest. FallbackThreshold gates the vision fallback call. The two
	// are overridable independently.
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	FallbackThreshold   float64 `json:"fallback_threshold"`

	// MinSegmentAreaFraction drops extracted segments smaller than this
	// fraction of the trimmed image area before classification.
	MinSegmentAreaFraction float64 `json:"min_segment_area_fraction"`

	// MaxProcessingTimeMs is an advisory budget. Exceeding it is logged,
	// never enforced by cancellation.
	MaxProcessingTimeMs int `json:"max_processing_time_ms"`

	// BrandColor is the target color the heuristic classifier matches
	// against.
	BrandColor color.NRGBA `json:"-"`

	// OutputDir is the flat directory slices and the manifest are written
	// to. Format is the slice encoding: png, jpg or webp.
	OutputDir string `json:"output_dir"`
	Format    string `json:"format"`
}

// DefaultConfig returns the documented default run parameters.
func DefaultConfig() ProcessingConfig {
	return ProcessingConfig{
		HorizontalGapPx:        15,
		VerticalGapPx:          15,
		ConfidenceThreshold:    0.9,
		FallbackThreshold:      0.8,
		MinSegmentAreaFraction: 0.08,
		MaxProcessingTimeMs:    1200,
		BrandColor:             color.NRGBA{R: 0xE8, G: 0x11, B: 0x23, A: 0xFF},
		OutputDir:              "out",
		Format:                 "png",
	}
}

// Timestamp formats t the way manifests expect.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
