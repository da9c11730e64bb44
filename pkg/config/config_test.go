package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.Preprocess.MedianKernel != 3 {
		t.Errorf("expected default median kernel 3, got %d", cfg.Preprocess.MedianKernel)
	}
	if cfg.Segmentation.Method != SegWatershed {
		t.Errorf("expected watershed default, got %q", cfg.Segmentation.Method)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	yaml := `
preprocess:
  medianKernel: 5
segmentation:
  method: watershed
  peakMinDistance: 11
threshold:
  minIslandArea: 100
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Preprocess.MedianKernel != 5 {
		t.Errorf("override lost: medianKernel = %d", cfg.Preprocess.MedianKernel)
	}
	if cfg.Segmentation.PeakMinDistance != 11 {
		t.Errorf("override lost: peakMinDistance = %d", cfg.Segmentation.PeakMinDistance)
	}
	// Untouched fields keep defaults.
	if cfg.Preprocess.GaussianSigma != 1.0 {
		t.Errorf("default lost: gaussianSigma = %f", cfg.Preprocess.GaussianSigma)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	cfg := Default()
	cfg.Threshold.MinIslandArea = 42
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Threshold.MinIslandArea != 42 {
		t.Errorf("round trip lost minIslandArea: %d", loaded.Threshold.MinIslandArea)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"even median kernel", func(c *Config) { c.Preprocess.MedianKernel = 4 }},
		{"negative sigma", func(c *Config) { c.Preprocess.GaussianSigma = -1 }},
		{"unknown method", func(c *Config) { c.Segmentation.Method = "stardust" }},
		{"zero peak distance", func(c *Config) { c.Segmentation.PeakMinDistance = 0 }},
		{"negative peak height", func(c *Config) { c.Segmentation.PeakMinHeight = -1 }},
		{"bad prob threshold", func(c *Config) {
			c.Segmentation.Method = SegDNN
			c.Segmentation.ProbThreshold = 1.5
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
