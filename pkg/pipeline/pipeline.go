// Package pipeline wires trimming, projection analysis, extraction,
// classification and export into a single process call with a typed
// failure taxonomy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/menta2k/sprite-splitter/pkg/classifier"
	"github.com/menta2k/sprite-splitter/pkg/client"
	"github.com/menta2k/sprite-splitter/pkg/exporter"
	"github.com/menta2k/sprite-splitter/pkg/projection"
	"github.com/menta2k/sprite-splitter/pkg/segment"
	"github.com/menta2k/sprite-splitter/pkg/storage"
	"github.com/menta2k/sprite-splitter/pkg/trimmer"
	"github.com/menta2k/sprite-splitter/pkg/types"
)

// State names the stage a run is currently in.
type State string

const (
	StateIdle        State = "idle"
	StateTrimming    State = "trimming"
	StateSegmenting  State = "segmenting"
	StateClassifying State = "classifying"
	StateExporting   State = "exporting"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// classifyBatchSize bounds concurrent vision calls, matching the external
// classifier's rate-limiting posture.
const classifyBatchSize = 3

// Pipeline holds the per-run-immutable collaborators. It carries no mutable
// run state, so any number of Process calls may run concurrently.
type Pipeline struct {
	config     types.ProcessingConfig
	trimmer    *trimmer.Trimmer
	classifier *classifier.Classifier
	logger     *log.Logger
}

// New creates a Pipeline. vision may be nil for heuristic-only runs; logger
// may be nil to log to the standard logger.
func New(config types.ProcessingConfig, vision client.VisionClassifier, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}

	classifierCfg := classifier.DefaultConfig()
	if config.BrandColor.A != 0 {
		classifierCfg.BrandColor = config.BrandColor
	}
	classifierCfg.FallbackThreshold = config.FallbackThreshold

	return &Pipeline{
		config:     config,
		trimmer:    trimmer.New(),
		classifier: classifier.NewWithConfig(classifierCfg, vision),
		logger:     logger,
	}
}

// run is the mutable state of one Process invocation. Each run owns its own
// temp directory and buffers; nothing is shared between concurrent runs.
type run struct {
	p     *Pipeline
	state State
	start time.Time
}

func (r *run) transition(next State) {
	r.p.logger.Printf("pipeline: %s -> %s", r.state, next)
	r.state = next
}

// phase maps the run's current state to the failure phase reported for
// errors that arrive without one.
func (r *run) phase() types.Phase {
	switch r.state {
	case StateSegmenting:
		return types.PhaseCut
	case StateClassifying:
		return types.PhaseClassify
	case StateExporting:
		return types.PhaseExport
	default:
		return types.PhaseTrim
	}
}

func (r *run) fail(err error) (*types.SliceManifest, error) {
	phase := r.phase()
	r.transition(StateFailed)

	var perr *types.ProcessingError
	if errors.As(err, &perr) {
		return nil, perr
	}
	return nil, &types.ProcessingError{
		Phase:   phase,
		Code:    "internal",
		Message: "unexpected pipeline failure",
		Err:     err,
	}
}

// Process runs the full pipeline on the sprite sheet at sourcePath and
// returns its manifest. All failures come back as *types.ProcessingError;
// recoverable classification problems never abort the run, they only lower
// confidence. An expired ctx deadline during classification degrades
// remaining segments to their heuristic result instead of failing.
func (p *Pipeline) Process(ctx context.Context, sourcePath string) (*types.SliceManifest, error) {
	r := &run{p: p, state: StateIdle, start: time.Now()}

	// Scoped working area, removed on every exit path.
	workDir, err := os.MkdirTemp("", "sprite-splitter-*")
	if err != nil {
		return r.fail(types.NewExportError("temp_dir_failed", "failed to create working directory", err))
	}
	defer os.RemoveAll(workDir)

	// Trim.
	r.transition(StateTrimming)
	src, err := trimmer.Open(sourcePath)
	if err != nil {
		return r.fail(err)
	}
	trimmed, offset, err := p.trimmer.TrimWithOffset(src)
	if err != nil {
		return r.fail(err)
	}

	// Segment.
	r.transition(StateSegmenting)
	segments, err := p.segmentImage(trimmed, offset)
	if err != nil {
		return r.fail(err)
	}

	totalArea := trimmed.Bounds().Dx() * trimmed.Bounds().Dy()
	kept := segment.FilterByArea(segments, totalArea, p.config.MinSegmentAreaFraction)
	if dropped := len(segments) - len(kept); dropped > 0 {
		p.logger.Printf("pipeline: dropped %d segment(s) below %.0f%% of trimmed area",
			dropped, p.config.MinSegmentAreaFraction*100)
	}

	// Classify.
	r.transition(StateClassifying)
	classified := p.classifySegments(ctx, kept)

	// Export, staged through the working directory so the output directory
	// only ever holds complete runs.
	r.transition(StateExporting)
	manifest, err := p.exportRun(classified, sourcePath, workDir, r)
	if err != nil {
		return r.fail(err)
	}

	if budget := p.config.MaxProcessingTimeMs; budget > 0 {
		if elapsed := time.Since(r.start); elapsed > time.Duration(budget)*time.Millisecond {
			p.logger.Printf("pipeline: advisory time budget exceeded: %v > %dms", elapsed, budget)
		}
	}

	r.transition(StateDone)
	return manifest, nil
}

// segmentImage builds both projection profiles, derives the cut lines and
// extracts the grid cells.
func (p *Pipeline) segmentImage(trimmed *image.NRGBA, offset image.Point) ([]segment.Segment, error) {
	profile := projection.Build(trimmed)
	hCuts := projection.FindCutLines(profile.Horizontal, p.config.HorizontalGapPx)
	vCuts := projection.FindCutLines(profile.Vertical, p.config.VerticalGapPx)

	segments := segment.Extract(trimmed, hCuts, vCuts)
	if len(segments) == 0 {
		return nil, types.NewCutError("no_segments", "extraction produced no segments", nil)
	}

	for i := range segments {
		segments[i].Metadata["trim_offset"] = map[string]int{"x": offset.X, "y": offset.Y}
	}
	return segments, nil
}

// classifySegments labels every kept segment with bounded concurrency.
// Results are joined back by index, so manifest order always matches
// extraction order regardless of completion order.
func (p *Pipeline) classifySegments(ctx context.Context, segments []segment.Segment) []classifier.Classified {
	results := make([]types.Classification, len(segments))

	var wg sync.WaitGroup
	sem := make(chan struct{}, classifyBatchSize)
	for i := range segments {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = p.classifier.Classify(ctx, segments[i])
		}(i)
	}
	wg.Wait()

	classified := make([]classifier.Classified, len(segments))
	for i := range segments {
		if strings.Contains(results[i].Reasoning, "vision fallback") {
			p.logger.Printf("pipeline: segment %d degraded: %s", i+1, results[i].Reasoning)
		}
		if results[i].Confidence < p.config.ConfidenceThreshold {
			segments[i].Metadata["low_confidence"] = true
		}
		classified[i] = classifier.Classified{Segment: segments[i], Result: results[i]}
	}
	return classified
}

// exportRun writes slices and manifest into the staging directory first and
// publishes everything to the output directory only once the whole run
// encoded and wrote cleanly.
func (p *Pipeline) exportRun(classified []classifier.Classified, sourcePath, workDir string, r *run) (*types.SliceManifest, error) {
	stage, err := storage.NewLocal(workDir)
	if err != nil {
		return nil, types.NewExportError("stage_failed", "failed to open staging store", err)
	}

	exp := exporter.NewWithConfig(stage, exporter.Config{Format: p.config.Format})
	slices, err := exp.ExportSlices(classified)
	if err != nil {
		return nil, err
	}

	manifest := exp.BuildManifest(slices, time.Since(r.start).Seconds(),
		sourcePath, p.config, types.Timestamp(time.Now()))
	if err := exp.WriteManifest(manifest); err != nil {
		return nil, err
	}

	out, err := storage.NewLocal(p.config.OutputDir)
	if err != nil {
		return nil, types.NewExportError("output_dir_failed", "failed to open output directory", err)
	}
	if err := publish(stage, out); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// publish copies every staged file into the output store, slices first and
// the manifest last. A run that dies mid-publish must never leave a manifest
// referencing slice files the output directory does not hold.
func publish(stage, out *storage.Local) error {
	names, err := stage.List()
	if err != nil {
		return types.NewExportError("stage_list_failed", "failed to list staged slices", err)
	}

	hasManifest := false
	for _, name := range names {
		if name == exporter.ManifestFilename {
			hasManifest = true
			continue
		}
		if err := copyStaged(stage, out, name); err != nil {
			return err
		}
	}
	if hasManifest {
		return copyStaged(stage, out, exporter.ManifestFilename)
	}
	return nil
}

func copyStaged(stage, out *storage.Local, name string) error {
	data, err := stage.Read(name)
	if err != nil {
		return types.NewExportError("stage_read_failed",
			fmt.Sprintf("failed to read staged slice %s", name), err)
	}
	if err := out.Write(name, data); err != nil {
		return types.NewExportError("write_failed",
			fmt.Sprintf("failed to publish slice %s", name), err)
	}
	return nil
}
