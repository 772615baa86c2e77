// Package exporter persists classified segments as slice files and builds
// the run manifest.
package exporter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/chai2010/webp"
	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/sprite-splitter/internal/utils"
	"github.com/menta2k/sprite-splitter/pkg/classifier"
	"github.com/menta2k/sprite-splitter/pkg/storage"
	"github.com/menta2k/sprite-splitter/pkg/types"
)

// ManifestFilename is the name the run manifest is written under.
const ManifestFilename = "manifest.json"

// Config holds output encoding parameters.
type Config struct {
	// Format is png, jpg/jpeg or webp. Quality applies to jpg and lossy
	// webp; Lossless switches webp to lossless mode.
	Format   string
	Quality  int
	Lossless bool
}

// Exporter writes slices through a SliceStore. Writes are atomic per slice;
// a partially written slice is never left behind.
type Exporter struct {
	store  storage.SliceStore
	config Config
}

// New creates an Exporter with PNG output.
func New(store storage.SliceStore) *Exporter {
	return NewWithConfig(store, Config{Format: "png", Quality: 90})
}

// NewWithConfig creates an Exporter with a custom output format.
func NewWithConfig(store storage.SliceStore, config Config) *Exporter {
	if config.Format == "" {
		config.Format = "png"
	}
	if config.Quality == 0 {
		config.Quality = 90
	}
	return &Exporter{store: store, config: config}
}

// ExportSlices writes one file per classified segment and returns the slice
// records in the given (extraction) order. Filenames are deterministic:
// slice_{index+1}_{type}.{ext}.
func (e *Exporter) ExportSlices(classified []classifier.Classified) ([]types.SpriteSlice, error) {
	slices := make([]types.SpriteSlice, 0, len(classified))

	for i, cs := range classified {
		data, err := e.encode(cs)
		if err != nil {
			return nil, types.NewExportError("encode_failed",
				fmt.Sprintf("failed to encode slice %d", i+1), err)
		}

		filename := fmt.Sprintf("slice_%d_%s.%s", i+1, cs.Result.Type, e.extension())
		if err := e.store.Write(filename, data); err != nil {
			return nil, types.NewExportError("write_failed",
				fmt.Sprintf("failed to write slice %s", filename), err)
		}

		slices = append(slices, types.SpriteSlice{
			Filename:   filename,
			Type:       cs.Result.Type,
			Confidence: cs.Result.Confidence,
			Bounds:     cs.Segment.TypedBounds(),
			SizeKB:     utils.SizeKB(len(data)),
			Metadata:   sliceMetadata(cs),
		})
	}
	return slices, nil
}

// BuildManifest assembles the immutable record of one run. The accuracy
// score is the mean slice confidence, zero when nothing survived filtering.
func (e *Exporter) BuildManifest(slices []types.SpriteSlice, elapsedSec float64, sourcePath string, cfg types.ProcessingConfig, timestamp string) types.SliceManifest {
	accuracy := 0.0
	if len(slices) > 0 {
		confidences := make([]float64, len(slices))
		for i, s := range slices {
			confidences[i] = s.Confidence
		}
		accuracy = stat.Mean(confidences, nil)
	}

	return types.SliceManifest{
		Slices:         slices,
		ProcessingTime: elapsedSec,
		AccuracyScore:  accuracy,
		Metadata: types.ManifestMetadata{
			OriginalImage:    sourcePath,
			ProcessingConfig: cfg,
			Timestamp:        timestamp,
		},
	}
}

// WriteManifest serializes the manifest next to the slices.
func (e *Exporter) WriteManifest(manifest types.SliceManifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return types.NewExportError("manifest_marshal_failed", "failed to marshal manifest", err)
	}
	if err := e.store.Write(ManifestFilename, data); err != nil {
		return types.NewExportError("manifest_write_failed", "failed to write manifest", err)
	}
	return nil
}

func (e *Exporter) encode(cs classifier.Classified) ([]byte, error) {
	var buf bytes.Buffer
	switch strings.ToLower(e.config.Format) {
	case "webp":
		opts := &webp.Options{Lossless: e.config.Lossless, Quality: float32(e.config.Quality)}
		if err := webp.Encode(&buf, cs.Segment.Image, opts); err != nil {
			return nil, err
		}
	case "jpg", "jpeg":
		if err := jpeg.Encode(&buf, cs.Segment.Image, &jpeg.Options{Quality: e.config.Quality}); err != nil {
			return nil, err
		}
	default:
		if err := png.Encode(&buf, cs.Segment.Image); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (e *Exporter) extension() string {
	switch strings.ToLower(e.config.Format) {
	case "webp":
		return "webp"
	case "jpg", "jpeg":
		return "jpg"
	default:
		return "png"
	}
}

func sliceMetadata(cs classifier.Classified) map[string]any {
	md := map[string]any{
		"reasoning":       cs.Result.Reasoning,
		"heuristic_score": cs.Result.HeuristicScore,
	}
	if cs.Result.VisionScore != nil {
		md["vision_score"] = *cs.Result.VisionScore
	}
	for k, v := range cs.Segment.Metadata {
		md[k] = v
	}
	return md
}
