// Package config loads and validates the YAML configuration of the
// registration core: transformation model, similarity metric,
// regularizer weights, pyramid depth, per-level loss weights and the
// resampling mode.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mireg-ml/mireg/internal/tensor"
)

// Config is the registration core configuration loaded from YAML.
type Config struct {
	// Transform selects and sizes the transformation model.
	Transform struct {
		// Kind is "dense" (identity) or "ffd" (cubic B-spline lattice).
		Kind string `yaml:"kind"`

		// ImgSize is the full-resolution spatial size, required for ffd.
		ImgSize []int `yaml:"img_size"`

		// CptSpacing is the control-point spacing in voxels per axis,
		// required for ffd.
		CptSpacing []int `yaml:"cpt_spacing"`
	} `yaml:"transform"`

	// Similarity selects and configures the intensity metric.
	Similarity struct {
		// Kind is "mi" or "lncc".
		Kind string `yaml:"kind"`

		// MI parameters.
		VMin         float64 `yaml:"vmin"`
		VMax         float64 `yaml:"vmax"`
		NumBins      int     `yaml:"num_bins"`
		ROI          bool    `yaml:"roi"`
		ROIThreshold float64 `yaml:"roi_threshold"`
		Normalised   bool    `yaml:"normalised"`

		// WindowSize is the LNCC window: one entry for all axes or one
		// per spatial axis.
		WindowSize []int `yaml:"window_size"`
	} `yaml:"similarity"`

	// Regulariser holds the Huber term weights. Both zero disables it.
	Regulariser struct {
		HuberSpatial  float64 `yaml:"huber_spatial"`
		HuberTemporal float64 `yaml:"huber_temporal"`
	} `yaml:"regulariser"`

	// Pyramid controls the multi-resolution schedule.
	Pyramid struct {
		Levels int `yaml:"levels"`
	} `yaml:"pyramid"`

	// Weights are the per-level loss weights, finest level first.
	Weights struct {
		Sim []float64 `yaml:"sim"`
		Reg []float64 `yaml:"reg"`
	} `yaml:"weights"`

	// InterpMode is "linear" or "nearest".
	InterpMode string `yaml:"interp_mode"`
}

// Default returns the configuration used when a field is omitted:
// dense transform, normalized MI over unit range with 64 bins, single
// pyramid level, linear resampling.
func Default() *Config {
	cfg := &Config{}
	cfg.Transform.Kind = "dense"
	cfg.Similarity.Kind = "mi"
	cfg.Similarity.VMin = 0.0
	cfg.Similarity.VMax = 1.0
	cfg.Similarity.NumBins = 64
	cfg.Similarity.ROIThreshold = 1e-4
	cfg.Similarity.Normalised = true
	cfg.Similarity.WindowSize = []int{7}
	cfg.Pyramid.Levels = 1
	cfg.Weights.Sim = []float64{1.0}
	cfg.InterpMode = "linear"
	return cfg
}

// Load reads a YAML configuration file over the defaults and validates
// the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on any inconsistent or unknown setting. There
// are no fallbacks: a bad configuration never degrades silently.
func (c *Config) Validate() error {
	switch c.Transform.Kind {
	case "dense":
	case "ffd":
		rank := len(c.Transform.ImgSize)
		if rank != 2 && rank != 3 {
			return fmt.Errorf("config: transform.img_size must have rank 2 or 3, got %d", rank)
		}
		if len(c.Transform.CptSpacing) != rank {
			return fmt.Errorf("config: transform.cpt_spacing rank %d does not match img_size rank %d",
				len(c.Transform.CptSpacing), rank)
		}
		for d := 0; d < rank; d++ {
			if c.Transform.ImgSize[d] < 1 || c.Transform.CptSpacing[d] < 1 {
				return fmt.Errorf("config: transform sizes and spacings must be positive")
			}
		}
	default:
		return fmt.Errorf("config: unknown transform.kind %q", c.Transform.Kind)
	}

	switch c.Similarity.Kind {
	case "mi":
		if c.Similarity.NumBins < 2 {
			return fmt.Errorf("config: similarity.num_bins must be >= 2, got %d", c.Similarity.NumBins)
		}
		if c.Similarity.VMax <= c.Similarity.VMin {
			return fmt.Errorf("config: empty similarity intensity range [%g, %g]",
				c.Similarity.VMin, c.Similarity.VMax)
		}
		if c.Similarity.ROI && c.Similarity.ROIThreshold < 0 {
			return fmt.Errorf("config: negative similarity.roi_threshold %g", c.Similarity.ROIThreshold)
		}
	case "lncc":
		if n := len(c.Similarity.WindowSize); n != 1 && n != 2 && n != 3 {
			return fmt.Errorf("config: similarity.window_size must have 1 entry or one per axis, got %d", n)
		}
		for _, w := range c.Similarity.WindowSize {
			if w < 1 {
				return fmt.Errorf("config: similarity.window_size entries must be positive, got %v",
					c.Similarity.WindowSize)
			}
		}
	default:
		return fmt.Errorf("config: unknown similarity.kind %q", c.Similarity.Kind)
	}

	if c.Regulariser.HuberSpatial < 0 || c.Regulariser.HuberTemporal < 0 {
		return fmt.Errorf("config: regulariser weights must be non-negative")
	}

	if c.Pyramid.Levels < 1 {
		return fmt.Errorf("config: pyramid.levels must be >= 1, got %d", c.Pyramid.Levels)
	}
	if len(c.Weights.Sim) != c.Pyramid.Levels {
		return fmt.Errorf("config: %d similarity weights for %d pyramid levels",
			len(c.Weights.Sim), c.Pyramid.Levels)
	}
	if len(c.Weights.Reg) != 0 && len(c.Weights.Reg) != c.Pyramid.Levels {
		return fmt.Errorf("config: %d regulariser weights for %d pyramid levels",
			len(c.Weights.Reg), c.Pyramid.Levels)
	}
	hasReg := c.Regulariser.HuberSpatial != 0 || c.Regulariser.HuberTemporal != 0
	if hasReg && len(c.Weights.Reg) == 0 {
		return fmt.Errorf("config: regulariser enabled but weights.reg is empty")
	}

	if _, err := tensor.ParseInterpMode(c.InterpMode); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
