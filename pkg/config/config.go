// Package config provides analysis parameter loading for microquant.
// Parameters come from a YAML file; a missing file yields defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SegMethod selects the nucleus instance segmentation backend.
type SegMethod string

const (
	// SegWatershed splits touching nuclei on the distance transform.
	SegWatershed SegMethod = "watershed"
	// SegDNN runs an ONNX instance segmentation model via OpenCV DNN.
	SegDNN SegMethod = "dnn"
)

// Config holds all tunable analysis parameters.
type Config struct {
	// Preprocess controls the per-channel denoising chain.
	Preprocess struct {
		// MedianKernel is the median filter aperture (odd, 0 disables).
		MedianKernel int `yaml:"medianKernel"`

		// GaussianKernel is the Gaussian aperture (odd, 0 disables).
		GaussianKernel int `yaml:"gaussianKernel"`

		// GaussianSigma is the Gaussian standard deviation in pixels.
		GaussianSigma float64 `yaml:"gaussianSigma"`
	} `yaml:"preprocess"`

	// Threshold controls binarization cleanup.
	Threshold struct {
		// MinIslandArea removes binary components below this pixel count.
		MinIslandArea int `yaml:"minIslandArea"`
	} `yaml:"threshold"`

	// Segmentation controls nucleus instance separation.
	Segmentation struct {
		// Method is "watershed" or "dnn".
		Method SegMethod `yaml:"method"`

		// PeakMinDistance is the minimum seed separation in pixels.
		PeakMinDistance int `yaml:"peakMinDistance"`

		// PeakMinHeight rejects distance-transform peaks below this value.
		PeakMinHeight float64 `yaml:"peakMinHeight"`

		// ModelPath points at the ONNX model (dnn method only).
		ModelPath string `yaml:"modelPath"`

		// ModelInputSize is the square network input edge in pixels.
		ModelInputSize int `yaml:"modelInputSize"`

		// ProbThreshold binarizes the model probability map.
		ProbThreshold float64 `yaml:"probThreshold"`
	} `yaml:"segmentation"`

	// Output controls report destinations.
	Output struct {
		// ReportPath is the XLSX report destination.
		ReportPath string `yaml:"reportPath"`

		// OverlayDir, when set, receives per-channel label overlay PNGs.
		OverlayDir string `yaml:"overlayDir"`
	} `yaml:"output"`
}

// Default returns the built-in parameter set.
func Default() *Config {
	cfg := &Config{}
	cfg.Preprocess.MedianKernel = 3
	cfg.Preprocess.GaussianKernel = 5
	cfg.Preprocess.GaussianSigma = 1.0
	cfg.Threshold.MinIslandArea = 64
	cfg.Segmentation.Method = SegWatershed
	cfg.Segmentation.PeakMinDistance = 7
	cfg.Segmentation.PeakMinHeight = 2.0
	cfg.Segmentation.ModelInputSize = 256
	cfg.Segmentation.ProbThreshold = 0.5
	cfg.Output.ReportPath = "quantification.xlsx"
	return cfg
}

// Load reads a YAML config file, applying defaults for absent fields.
// A missing file is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// Validate checks parameter ranges.
func (c *Config) Validate() error {
	if k := c.Preprocess.MedianKernel; k < 0 || (k > 0 && k%2 == 0) {
		return fmt.Errorf("medianKernel must be odd or zero, got %d", k)
	}
	if k := c.Preprocess.GaussianKernel; k < 0 || (k > 0 && k%2 == 0) {
		return fmt.Errorf("gaussianKernel must be odd or zero, got %d", k)
	}
	if c.Preprocess.GaussianSigma < 0 {
		return fmt.Errorf("gaussianSigma must be non-negative, got %f", c.Preprocess.GaussianSigma)
	}
	if c.Threshold.MinIslandArea < 0 {
		return fmt.Errorf("minIslandArea must be non-negative, got %d", c.Threshold.MinIslandArea)
	}
	switch c.Segmentation.Method {
	case SegWatershed, SegDNN:
	default:
		return fmt.Errorf("unknown segmentation method %q", c.Segmentation.Method)
	}
	if c.Segmentation.PeakMinDistance < 1 {
		return fmt.Errorf("peakMinDistance must be at least 1, got %d", c.Segmentation.PeakMinDistance)
	}
	if c.Segmentation.PeakMinHeight < 0 {
		return fmt.Errorf("peakMinHeight must be non-negative, got %f", c.Segmentation.PeakMinHeight)
	}
	if c.Segmentation.Method == SegDNN {
		if c.Segmentation.ModelInputSize < 32 {
			return fmt.Errorf("modelInputSize too small: %d", c.Segmentation.ModelInputSize)
		}
		if p := c.Segmentation.ProbThreshold; p <= 0 || p >= 1 {
			return fmt.Errorf("probThreshold must be in (0, 1), got %f", p)
		}
	}
	return nil
}
