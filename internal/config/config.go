package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/menta2k/sprite-splitter/pkg/types"
)

// Config holds the application configuration
type Config struct {
	Processing types.ProcessingConfig `json:"processing"`
	Vision     VisionSettings         `json:"vision"`
}

// VisionSettings selects and parameterizes the external vision backend.
// An empty Backend disables the vision fallback entirely.
type VisionSettings struct {
	Backend string `json:"backend"` // "", "ollama", "llamacpp" or "gemini"
	URL     string `json:"url"`
	Model   string `json:"model"`
	Project string `json:"project"` // gemini only
	Region  string `json:"region"`  // gemini only
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Processing: types.DefaultConfig(),
		Vision: VisionSettings{
			Backend: "",
			URL:     "http://localhost:11434",
		},
	}
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	p := c.Processing

	if p.HorizontalGapPx < 1 || p.VerticalGapPx < 1 {
		return fmt.Errorf("processing gap thresholds must be at least 1 pixel")
	}

	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("processing.confidence_threshold must be between 0 and 1")
	}

	if p.FallbackThreshold < 0 || p.FallbackThreshold > 1 {
		return fmt.Errorf("processing.fallback_threshold must be between 0 and 1")
	}

	if p.MinSegmentAreaFraction < 0 || p.MinSegmentAreaFraction > 1 {
		return fmt.Errorf("processing.min_segment_area_fraction must be between 0 and 1")
	}

	switch p.Format {
	case "", "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("processing.format must be png, jpg or webp")
	}

	switch c.Vision.Backend {
	case "", "ollama", "llamacpp", "gemini":
	default:
		return fmt.Errorf("vision.backend must be ollama, llamacpp or gemini")
	}

	if c.Vision.Backend == "gemini" && c.Vision.Project == "" {
		return fmt.Errorf("vision.project is required for the gemini backend")
	}

	return nil
}
