package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/menta2k/sprite-splitter/pkg/exporter"
	"github.com/menta2k/sprite-splitter/pkg/storage"
	"github.com/menta2k/sprite-splitter/pkg/types"
)

// fakeVision counts calls and returns a canned response or error.
type fakeVision struct {
	response string
	err      error
	calls    int
}

func (f *fakeVision) ClassifyImage(ctx context.Context, prompt, imgB64 string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

// writeSheet writes a PNG sprite sheet: count squares of squareSize px in a
// row, separated by gap px of full transparency, surrounded by a border px
// transparent margin.
func writeSheet(t *testing.T, squareSize, gap, border, count int, fill color.NRGBA) string {
	t.Helper()

	width := count*squareSize + (count-1)*gap + 2*border
	height := squareSize + 2*border
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < count; i++ {
		x0 := border + i*(squareSize+gap)
		for y := border; y < border+squareSize; y++ {
			for x := x0; x < x0+squareSize; x++ {
				img.SetNRGBA(x, y, fill)
			}
		}
	}

	path := filepath.Join(t.TempDir(), "sheet.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return path
}

func testConfig(t *testing.T) types.ProcessingConfig {
	t.Helper()
	cfg := types.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	return cfg
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

var gray = color.NRGBA{R: 128, G: 128, B: 128, A: 255}

func TestProcessThreeByOneSheet(t *testing.T) {
	path := writeSheet(t, 100, 20, 10, 3, gray)
	cfg := testConfig(t)

	manifest, err := New(cfg, nil, quietLogger()).Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(manifest.Slices) != 3 {
		t.Fatalf("Expected 3 slices, got %d", len(manifest.Slices))
	}

	prevX := -1
	for i, s := range manifest.Slices {
		if s.Bounds.Width != 100 || s.Bounds.Height != 100 {
			t.Errorf("Slice %d: expected 100x100 bounds, got %dx%d",
				i, s.Bounds.Width, s.Bounds.Height)
		}
		if s.Type != types.TypeMono {
			t.Errorf("Slice %d: expected mono, got %s", i, s.Type)
		}
		if s.Confidence < 0 || s.Confidence > 1 {
			t.Errorf("Slice %d: confidence %.2f out of range", i, s.Confidence)
		}
		if s.Bounds.X <= prevX {
			t.Errorf("Slice %d: expected left-to-right order, x=%d after %d",
				i, s.Bounds.X, prevX)
		}
		prevX = s.Bounds.X

		if _, err := os.Stat(filepath.Join(cfg.OutputDir, s.Filename)); err != nil {
			t.Errorf("Slice file %s not written: %v", s.Filename, err)
		}
	}

	if _, err := os.Stat(filepath.Join(cfg.OutputDir, exporter.ManifestFilename)); err != nil {
		t.Errorf("Manifest file not written: %v", err)
	}
	if manifest.ProcessingTime <= 0 {
		t.Error("Expected positive processing time")
	}
}

func TestProcessIdempotent(t *testing.T) {
	path := writeSheet(t, 60, 20, 5, 2, gray)

	cfg1 := testConfig(t)
	first, err := New(cfg1, nil, quietLogger()).Process(context.Background(), path)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	cfg2 := testConfig(t)
	second, err := New(cfg2, nil, quietLogger()).Process(context.Background(), path)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if len(first.Slices) != len(second.Slices) {
		t.Fatalf("Slice counts differ: %d vs %d", len(first.Slices), len(second.Slices))
	}
	for i := range first.Slices {
		if first.Slices[i].Bounds != second.Slices[i].Bounds {
			t.Errorf("Slice %d bounds differ: %+v vs %+v",
				i, first.Slices[i].Bounds, second.Slices[i].Bounds)
		}
		if first.Slices[i].Type != second.Slices[i].Type {
			t.Errorf("Slice %d type differs: %s vs %s",
				i, first.Slices[i].Type, second.Slices[i].Type)
		}
		if first.Slices[i].Confidence != second.Slices[i].Confidence {
			t.Errorf("Slice %d confidence differs on heuristic-only path", i)
		}
	}
}

func TestProcessAreaInvariant(t *testing.T) {
	path := writeSheet(t, 80, 25, 0, 3, gray)
	cfg := testConfig(t)

	manifest, err := New(cfg, nil, quietLogger()).Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	trimmedArea := (3*80 + 2*25) * 80
	sum := 0
	for _, s := range manifest.Slices {
		sum += s.Bounds.Area()
	}
	if sum > trimmedArea {
		t.Errorf("Sum of slice areas %d exceeds trimmed area %d", sum, trimmedArea)
	}
}

func TestProcessFiltersNoise(t *testing.T) {
	// One 100x100 asset plus one 10x10 speck 20px to its right. The speck
	// is below the default 8% area floor and must never be classified or
	// exported.
	img := image.NewNRGBA(image.Rect(0, 0, 130, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			img.SetNRGBA(x, y, gray)
		}
	}
	for y := 0; y < 10; y++ {
		for x := 120; x < 130; x++ {
			img.SetNRGBA(x, y, gray)
		}
	}

	path := filepath.Join(t.TempDir(), "noisy.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	f.Close()

	cfg := testConfig(t)
	manifest, err := New(cfg, nil, quietLogger()).Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(manifest.Slices) != 1 {
		t.Fatalf("Expected 1 slice after noise filtering, got %d", len(manifest.Slices))
	}
	if manifest.Slices[0].Bounds.Width != 100 {
		t.Errorf("Expected the large asset kept, got width %d", manifest.Slices[0].Bounds.Width)
	}
}

func TestProcessAllTransparentFails(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 50, 50))
	path := filepath.Join(t.TempDir(), "empty.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	f.Close()

	cfg := testConfig(t)
	_, err = New(cfg, nil, quietLogger()).Process(context.Background(), path)
	if err == nil {
		t.Fatal("Expected failure for all-transparent input")
	}

	var perr *types.ProcessingError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected *types.ProcessingError, got %T", err)
	}
	if perr.Phase != types.PhaseTrim || perr.Recoverable {
		t.Errorf("Expected non-recoverable trim failure, got phase=%s recoverable=%v",
			perr.Phase, perr.Recoverable)
	}
}

func TestProcessDegradesOnVisionFailure(t *testing.T) {
	// Gray squares classify as mono at 0.7, under the 0.8 fallback
	// threshold, so every segment consults the vision client. The run must
	// still succeed when that client is unreachable.
	path := writeSheet(t, 100, 20, 0, 2, gray)
	cfg := testConfig(t)
	vision := &fakeVision{err: errors.New("dial tcp: connection refused")}

	manifest, err := New(cfg, vision, quietLogger()).Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Expected degraded success, got %v", err)
	}
	if vision.calls != 2 {
		t.Errorf("Expected 2 vision attempts, got %d", vision.calls)
	}

	for i, s := range manifest.Slices {
		if s.Type != types.TypeMono || s.Confidence != 0.7 {
			t.Errorf("Slice %d: expected heuristic mono/0.7, got %s/%.2f",
				i, s.Type, s.Confidence)
		}
		reasoning, _ := s.Metadata["reasoning"].(string)
		if !strings.Contains(reasoning, "vision fallback failed") {
			t.Errorf("Slice %d: expected vision failure in reasoning, got %q", i, reasoning)
		}
		if low, _ := s.Metadata["low_confidence"].(bool); !low {
			t.Errorf("Slice %d: expected low_confidence mark", i)
		}
	}
}

func TestProcessExpiredDeadlineDegrades(t *testing.T) {
	path := writeSheet(t, 100, 20, 0, 3, gray)
	cfg := testConfig(t)
	vision := &fakeVision{response: "LOGO:0.95"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	manifest, err := New(cfg, vision, quietLogger()).Process(ctx, path)
	if err != nil {
		t.Fatalf("Expected degraded-but-complete manifest, got %v", err)
	}
	if vision.calls != 0 {
		t.Errorf("Expected no vision calls after deadline, got %d", vision.calls)
	}
	if len(manifest.Slices) != 3 {
		t.Errorf("Expected all 3 slices despite deadline, got %d", len(manifest.Slices))
	}
}

func TestProcessVisionFusionAppearsInManifest(t *testing.T) {
	path := writeSheet(t, 100, 20, 0, 1, gray)
	cfg := testConfig(t)
	vision := &fakeVision{response: "MONO:0.9"}

	manifest, err := New(cfg, vision, quietLogger()).Process(context.Background(), path)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if vision.calls != 1 {
		t.Fatalf("Expected one vision call, got %d", vision.calls)
	}

	s := manifest.Slices[0]
	want := 0.6*0.7 + 0.4*0.9
	if diff := s.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected fused confidence %.3f, got %.3f", want, s.Confidence)
	}
	if _, ok := s.Metadata["vision_score"]; !ok {
		t.Error("Expected vision_score in slice metadata")
	}
}

func TestPublishWritesManifestLast(t *testing.T) {
	stage, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("stage store: %v", err)
	}
	if err := stage.Write("slice_1_mono.png", []byte("slice")); err != nil {
		t.Fatalf("stage slice: %v", err)
	}
	if err := stage.Write(exporter.ManifestFilename, []byte(`{"slices":[]}`)); err != nil {
		t.Fatalf("stage manifest: %v", err)
	}

	outDir := t.TempDir()
	out, err := storage.NewLocal(outDir)
	if err != nil {
		t.Fatalf("output store: %v", err)
	}
	// A directory squatting on the slice name makes its publish fail.
	if err := os.Mkdir(filepath.Join(outDir, "slice_1_mono.png"), 0755); err != nil {
		t.Fatalf("block slice name: %v", err)
	}

	if err := publish(stage, out); err == nil {
		t.Fatal("Expected publish to fail on the blocked slice")
	}
	if _, err := os.Stat(filepath.Join(outDir, exporter.ManifestFilename)); !os.IsNotExist(err) {
		t.Error("Expected no manifest in output dir after failed slice publish")
	}
}

func TestFailReportsPhaseFromState(t *testing.T) {
	tests := []struct {
		state State
		want  types.Phase
	}{
		{StateTrimming, types.PhaseTrim},
		{StateSegmenting, types.PhaseCut},
		{StateClassifying, types.PhaseClassify},
		{StateExporting, types.PhaseExport},
	}

	p := New(testConfig(t), nil, quietLogger())
	for _, tt := range tests {
		r := &run{p: p, state: tt.state}
		_, err := r.fail(errors.New("boom"))

		var perr *types.ProcessingError
		if !errors.As(err, &perr) {
			t.Fatalf("Expected *types.ProcessingError, got %T", err)
		}
		if perr.Phase != tt.want {
			t.Errorf("fail in %s: expected phase %s, got %s", tt.state, tt.want, perr.Phase)
		}
	}
}
