// Package classifier assigns a content category to extracted sprite
// segments using local pixel statistics first and an external vision model
// only when those are inconclusive.
package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/color"
	"image/png"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/menta2k/sprite-splitter/pkg/client"
	"github.com/menta2k/sprite-splitter/pkg/segment"
	"github.com/menta2k/sprite-splitter/pkg/types"
)

// DefaultPrompt asks the vision model for a bare LABEL:CONFIDENCE answer.
const DefaultPrompt = `You are an image asset classifier.

Classify this image into exactly one category:
- COLOR: a colorful illustration, photo or multi-color graphic
- MONO: a monochrome or grayscale graphic
- LOGO: a logo, wordmark or high-contrast brand mark

Answer with a single line in the form LABEL:CONFIDENCE where LABEL is one
of COLOR, MONO, LOGO and CONFIDENCE is a number between 0 and 1.
Example: LOGO:0.85
No other text.`

// Config holds the heuristic thresholds and vision-fallback parameters.
type Config struct {
	// BrandColor is the target color of the brand-fraction rule;
	// BrandTolerance the per-channel RGB distance that still matches.
	BrandColor     color.NRGBA
	BrandTolerance uint8
	// BrandFractionMin is the matched-pixel fraction above which a segment
	// is immediately a confident color asset.
	BrandFractionMin float64
	// AlphaThreshold is the alpha above which a pixel participates in the
	// statistics.
	AlphaThreshold uint8
	// FallbackThreshold is the stage-1 confidence below which the vision
	// model is consulted.
	FallbackThreshold float64
	// Model is the vision model name passed to the backend. Prompt
	// overrides DefaultPrompt when non-empty.
	Model  string
	Prompt string
}

// DefaultConfig returns the documented heuristic defaults.
func DefaultConfig() Config {
	return Config{
		BrandColor:        types.DefaultConfig().BrandColor,
		BrandTolerance:    30,
		BrandFractionMin:  0.3,
		AlphaThreshold:    10,
		FallbackThreshold: 0.8,
	}
}

// Classifier runs the two-stage heuristic/vision pipeline. A nil vision
// client disables stage 2 entirely.
type Classifier struct {
	config Config
	vision client.VisionClassifier
}

// New creates a heuristic-only Classifier with default thresholds.
func New() *Classifier {
	return NewWithConfig(DefaultConfig(), nil)
}

// NewWithConfig creates a Classifier with custom thresholds and an optional
// vision backend.
func NewWithConfig(config Config, vision client.VisionClassifier) *Classifier {
	if config.BrandTolerance == 0 {
		config.BrandTolerance = 30
	}
	if config.BrandFractionMin == 0 {
		config.BrandFractionMin = 0.3
	}
	if config.FallbackThreshold == 0 {
		config.FallbackThreshold = 0.8
	}
	return &Classifier{config: config, vision: vision}
}

// Classified pairs a segment with its classification.
type Classified struct {
	Segment segment.Segment
	Result  types.Classification
}

// Classify labels one segment. It never returns an error: vision failures
// degrade to the heuristic result with lowered confidence and a reasoning
// string naming the failure.
func (c *Classifier) Classify(ctx context.Context, seg segment.Segment) types.Classification {
	heuristic := c.Heuristic(seg)
	if heuristic.Confidence >= c.config.FallbackThreshold || c.vision == nil {
		return heuristic
	}
	if ctx.Err() != nil {
		heuristic.Reasoning += "; vision fallback skipped: deadline expired"
		return heuristic
	}

	visionType, visionScore, err := c.classifyVision(ctx, seg)
	if err != nil {
		heuristic.Reasoning += "; vision fallback failed: " + err.Error()
		return heuristic
	}

	return fuse(heuristic, visionType, visionScore)
}

// Heuristic is stage 1: deterministic pixel statistics, no I/O. Decision
// order: brand fraction, then contrast extremes, then saturation floor,
// with an undecided default of Color at 0.1.
func (c *Classifier) Heuristic(seg segment.Segment) types.Classification {
	stats, ok := c.pixelStats(seg)
	if !ok {
		return types.Classification{
			Type:           types.TypeColor,
			Confidence:     0.1,
			HeuristicScore: 0.1,
			Reasoning:      "empty segment",
		}
	}

	switch {
	case stats.brandFraction > c.config.BrandFractionMin:
		return heuristicResult(types.TypeColor, 0.9,
			fmt.Sprintf("brand color fraction %.2f", stats.brandFraction))
	case stats.contrast > 0.7 || (stats.contrast < 0.3 && stats.saturation < 0.2):
		return heuristicResult(types.TypeLogo, 0.8,
			fmt.Sprintf("contrast %.2f, saturation %.2f", stats.contrast, stats.saturation))
	case stats.saturation < 0.2:
		return heuristicResult(types.TypeMono, 0.7,
			fmt.Sprintf("saturation %.2f", stats.saturation))
	default:
		return heuristicResult(types.TypeColor, 0.1, "heuristics inconclusive")
	}
}

func heuristicResult(t types.SegmentType, confidence float64, reasoning string) types.Classification {
	return types.Classification{
		Type:           t,
		Confidence:     confidence,
		HeuristicScore: confidence,
		Reasoning:      reasoning,
	}
}

// classifyVision is stage 2: encode the segment, ask the backend, parse
// LABEL:CONFIDENCE defensively.
func (c *Classifier) classifyVision(ctx context.Context, seg segment.Segment) (types.SegmentType, float64, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, seg.Image); err != nil {
		return "", 0, fmt.Errorf("encode segment: %w", err)
	}

	prompt := c.config.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}

	raw, err := c.vision.ClassifyImage(ctx, prompt, base64.StdEncoding.EncodeToString(buf.Bytes()))
	if err != nil {
		return "", 0, fmt.Errorf("vision classifier: %w", err)
	}

	t, score := ParseVisionResponse(raw)
	return t, score, nil
}

// ParseVisionResponse extracts a segment type and confidence from a model
// answer expected in LABEL:CONFIDENCE form. Anything malformed or out of
// range degrades to Color at 0.1 instead of erroring.
func ParseVisionResponse(raw string) (types.SegmentType, float64) {
	// Models wrap answers in code fences or lead with blank lines; take the
	// first line with actual content.
	var line string
	for _, l := range strings.Split(raw, "\n") {
		l = strings.TrimSpace(l)
		if strings.HasPrefix(l, "```") {
			continue
		}
		l = strings.Trim(l, "` ")
		if l == "" {
			continue
		}
		line = l
		break
	}

	label, confStr, found := strings.Cut(line, ":")
	if !found {
		return types.TypeColor, 0.1
	}

	t := types.SegmentType(strings.ToLower(strings.TrimSpace(label)))
	if !t.Valid() {
		return types.TypeColor, 0.1
	}

	conf, err := strconv.ParseFloat(strings.TrimSpace(confStr), 64)
	if err != nil || conf < 0 || conf > 1 {
		return types.TypeColor, 0.1
	}
	return t, conf
}

// fuse combines the two stages: weighted confidence, type from whichever
// stage was individually more confident (ties go to the heuristic, which is
// deterministic and cheap to audit).
func fuse(heuristic types.Classification, visionType types.SegmentType, visionScore float64) types.Classification {
	fused := heuristic
	fused.VisionScore = &visionScore
	fused.Confidence = 0.6*heuristic.HeuristicScore + 0.4*visionScore
	fused.Reasoning = fmt.Sprintf("%s; vision %s:%.2f", heuristic.Reasoning, visionType, visionScore)
	if visionScore > heuristic.HeuristicScore {
		fused.Type = visionType
	}
	return fused
}

type pixelStats struct {
	brandFraction float64
	saturation    float64
	contrast      float64
}

// pixelStats gathers the stage-1 statistics over all sufficiently opaque
// pixels. ok is false when no pixel qualifies.
func (c *Classifier) pixelStats(seg segment.Segment) (pixelStats, bool) {
	img := seg.Image
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	var saturations, luminances []float64
	brandMatches := 0

	for y := 0; y < h; y++ {
		i := y * img.Stride
		for x := 0; x < w; x++ {
			r, g, b, a := img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]
			i += 4
			if a <= c.config.AlphaThreshold {
				continue
			}

			if c.matchesBrand(r, g, b) {
				brandMatches++
			}

			maxC := max3(r, g, b)
			minC := min3(r, g, b)
			if maxC > 0 {
				saturations = append(saturations, float64(maxC-minC)/float64(maxC))
			} else {
				saturations = append(saturations, 0)
			}
			luminances = append(luminances,
				(0.299*float64(r)+0.587*float64(g)+0.114*float64(b))/255)
		}
	}

	if len(luminances) == 0 {
		return pixelStats{}, false
	}
	return pixelStats{
		brandFraction: float64(brandMatches) / float64(len(luminances)),
		saturation:    stat.Mean(saturations, nil),
		contrast:      stat.Mean(luminances, nil),
	}, true
}

func (c *Classifier) matchesBrand(r, g, b uint8) bool {
	bc := c.config.BrandColor
	return absDiff(r, bc.R) <= c.config.BrandTolerance &&
		absDiff(g, bc.G) <= c.config.BrandTolerance &&
		absDiff(b, bc.B) <= c.config.BrandTolerance
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}

func max3(a, b, c uint8) uint8 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func min3(a, b, c uint8) uint8 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
