// Package spritesplitter segments a composite sprite sheet into its
// independent sub-images and classifies each one.
//
// Given a raster image containing several visually distinct assets
// separated by transparent or background-colored gaps, the engine trims
// the surrounding padding, detects sub-image boundaries with a
// whitespace-gap projection algorithm, extracts each sub-image, classifies
// it with fast local pixel heuristics (falling back to an external vision
// model only when those are inconclusive) and writes the slices plus a
// JSON manifest describing bounds, classification and timing.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		spritesplitter "github.com/menta2k/sprite-splitter"
//	)
//
//	func main() {
//		result, err := spritesplitter.SplitSprite(context.Background(), spritesplitter.Input{
//			SourcePath: "sheet.png",
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		fmt.Printf("%d slices in %.2fs (mean confidence %.2f)\n",
//			result.SlicesGenerated, result.ProcessingTimeSec, result.Manifest.AccuracyScore)
//	}
//
// The pipeline runs strictly downstream: trimmer -> projection analyzer ->
// segment extractor -> classifier -> exporter. Each stage produces
// immutable values consumed read-only by the next, so any number of runs
// may execute in parallel. Within one run, per-segment vision calls are
// issued with bounded concurrency and joined back by segment index, so
// manifest order always matches extraction order.
//
// A run either returns a complete manifest (possibly containing
// low-confidence slices when the vision model was unreachable) or a
// *types.ProcessingError naming the failed phase. Vision failures never
// abort a run; they only lower confidence.
package spritesplitter

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/menta2k/sprite-splitter/internal/config"
	"github.com/menta2k/sprite-splitter/pkg/client"
	"github.com/menta2k/sprite-splitter/pkg/gemini"
	"github.com/menta2k/sprite-splitter/pkg/llamacpp"
	"github.com/menta2k/sprite-splitter/pkg/ollama"
	"github.com/menta2k/sprite-splitter/pkg/pipeline"
	"github.com/menta2k/sprite-splitter/pkg/types"
)

// Version of the sprite splitter library
const Version = "1.0.0"

// Input names the sprite sheet to process and optional overrides. A nil
// Config uses the documented defaults; a nil Vision client disables the
// external fallback (runs whose heuristics are all confident succeed with
// zero external calls either way).
type Input struct {
	SourcePath string
	Config     *types.ProcessingConfig
	Vision     client.VisionClassifier
	Logger     *log.Logger
}

// Result is the outcome of one successful run.
type Result struct {
	Manifest          *types.SliceManifest
	SlicesGenerated   int
	ProcessingTimeSec float64
}

// SplitSprite is the public entry point. The returned error, when non-nil,
// is always a *types.ProcessingError carrying the failed phase.
func SplitSprite(ctx context.Context, in Input) (*Result, error) {
	if in.SourcePath == "" {
		return nil, types.NewTrimError("no_input", "no source path given", nil)
	}

	cfg := types.DefaultConfig()
	if in.Config != nil {
		cfg = mergeConfig(*in.Config)
	}

	manifest, err := pipeline.New(cfg, in.Vision, in.Logger).Process(ctx, in.SourcePath)
	if err != nil {
		var perr *types.ProcessingError
		if errors.As(err, &perr) {
			return nil, perr
		}
		return nil, err
	}

	return &Result{
		Manifest:          manifest,
		SlicesGenerated:   len(manifest.Slices),
		ProcessingTimeSec: manifest.ProcessingTime,
	}, nil
}

// VisionOptions selects one of the bundled vision backends by name.
type VisionOptions struct {
	Backend string // "ollama", "llamacpp" or "gemini"
	URL     string
	Model   string
	Project string // gemini only
	Region  string // gemini only
}

// NewVisionClassifier constructs the configured backend, or nil when
// Backend is empty (heuristic-only operation).
func NewVisionClassifier(ctx context.Context, opts VisionOptions) (client.VisionClassifier, error) {
	switch opts.Backend {
	case "":
		return nil, nil
	case "ollama":
		if opts.URL == "" {
			opts.URL = "http://localhost:11434"
		}
		return ollama.NewClient(opts.URL, opts.Model)
	case "llamacpp":
		return llamacpp.NewClient(opts.URL, opts.Model)
	case "gemini":
		return gemini.NewClient(ctx, opts.Project, opts.Region, opts.Model)
	default:
		return nil, fmt.Errorf("unknown vision backend: %s", opts.Backend)
	}
}

// LoadConfigFile reads a JSON config file and returns the run parameters
// and the vision backend selection it names.
func LoadConfigFile(path string) (types.ProcessingConfig, VisionOptions, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return types.ProcessingConfig{}, VisionOptions{}, err
	}
	return mergeConfig(cfg.Processing), VisionOptions{
		Backend: cfg.Vision.Backend,
		URL:     cfg.Vision.URL,
		Model:   cfg.Vision.Model,
		Project: cfg.Vision.Project,
		Region:  cfg.Vision.Region,
	}, nil
}

// mergeConfig fills unset fields of a caller-supplied config with defaults,
// so partial overrides behave like the documented defaults elsewhere.
func mergeConfig(cfg types.ProcessingConfig) types.ProcessingConfig {
	def := types.DefaultConfig()

	if cfg.HorizontalGapPx <= 0 {
		cfg.HorizontalGapPx = def.HorizontalGapPx
	}
	if cfg.VerticalGapPx <= 0 {
		cfg.VerticalGapPx = def.VerticalGapPx
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if cfg.FallbackThreshold <= 0 {
		cfg.FallbackThreshold = def.FallbackThreshold
	}
	if cfg.MinSegmentAreaFraction <= 0 {
		cfg.MinSegmentAreaFraction = def.MinSegmentAreaFraction
	}
	if cfg.MaxProcessingTimeMs <= 0 {
		cfg.MaxProcessingTimeMs = def.MaxProcessingTimeMs
	}
	if cfg.BrandColor.A == 0 {
		cfg.BrandColor = def.BrandColor
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = def.OutputDir
	}
	if cfg.Format == "" {
		cfg.Format = def.Format
	}
	return cfg
}
