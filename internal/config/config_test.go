package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Processing.HorizontalGapPx != 15 || cfg.Processing.VerticalGapPx != 15 {
		t.Errorf("Expected default gaps 15/15, got %d/%d",
			cfg.Processing.HorizontalGapPx, cfg.Processing.VerticalGapPx)
	}
	if cfg.Vision.Backend != "" {
		t.Errorf("Expected vision disabled by default, got %q", cfg.Vision.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config must validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"processing": {"horizontal_gap_px": 30, "format": "webp"},
		"vision": {"backend": "ollama", "model": "llava:13b"}
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Processing.HorizontalGapPx != 30 {
		t.Errorf("Expected horizontal gap 30, got %d", cfg.Processing.HorizontalGapPx)
	}
	// Unset fields keep their defaults.
	if cfg.Processing.VerticalGapPx != 15 {
		t.Errorf("Expected default vertical gap 15, got %d", cfg.Processing.VerticalGapPx)
	}
	if cfg.Vision.Model != "llava:13b" {
		t.Errorf("Expected model llava:13b, got %q", cfg.Vision.Model)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile("no-such-config.json"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero gap", func(c *Config) { c.Processing.HorizontalGapPx = 0 }, true},
		{"confidence out of range", func(c *Config) { c.Processing.ConfidenceThreshold = 1.5 }, true},
		{"fallback out of range", func(c *Config) { c.Processing.FallbackThreshold = -0.1 }, true},
		{"bad fraction", func(c *Config) { c.Processing.MinSegmentAreaFraction = 2 }, true},
		{"bad format", func(c *Config) { c.Processing.Format = "bmp" }, true},
		{"bad backend", func(c *Config) { c.Vision.Backend = "openai" }, true},
		{"gemini without project", func(c *Config) { c.Vision.Backend = "gemini" }, true},
		{"gemini with project", func(c *Config) {
			c.Vision.Backend = "gemini"
			c.Vision.Project = "my-project"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
