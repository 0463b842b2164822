// Copyright 2026 The mireg Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package reg assembles the registration loss pipeline from a
// validated configuration: transformation model, spatial resampler,
// similarity metric, smoothness regularizer, image pyramid and loss
// aggregator.
//
// The Engine is the glue between the pieces; every stage remains
// individually usable through the internal packages' public wrappers.
package reg

import (
	"github.com/mireg-ml/mireg/internal/config"
	"github.com/mireg-ml/mireg/internal/loss"
	"github.com/mireg-ml/mireg/internal/metric"
	"github.com/mireg-ml/mireg/internal/pyramid"
	"github.com/mireg-ml/mireg/internal/regularize"
	"github.com/mireg-ml/mireg/internal/transform"
	"github.com/mireg-ml/mireg/internal/warp"
	"github.com/mireg-ml/mireg/tensor"
)

// Config is the YAML-backed configuration of the registration core.
type Config = config.Config

// DefaultConfig returns the configuration defaults.
var DefaultConfig = config.Default

// LoadConfig reads and validates a YAML configuration file.
var LoadConfig = config.Load

// Diagnostics exposes the distributions behind one MI evaluation.
type Diagnostics[B tensor.Backend] = metric.Diagnostics[B]

// Engine wires the registration stages together for one configuration.
// It is stateless beyond construction and safe for concurrent use.
type Engine[B tensor.Backend] struct {
	transform   transform.Model[B]
	metric      metric.Metric[B]
	regularizer *regularize.Huber[B]
	aggregator  *loss.Aggregator[B]
	mode        tensor.InterpMode
	levels      int
	backend     B
}

// NewFromConfig assembles an Engine from a validated configuration.
func NewFromConfig[B tensor.Backend](cfg *Config, backend B) (*Engine[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var model transform.Model[B]
	switch cfg.Transform.Kind {
	case "dense":
		model = transform.NewDenseField[B]()
	case "ffd":
		ffd, err := transform.NewBSplineFFD[B](cfg.Transform.ImgSize, cfg.Transform.CptSpacing)
		if err != nil {
			return nil, err
		}
		model = ffd
	}

	var m metric.Metric[B]
	switch cfg.Similarity.Kind {
	case "mi":
		mi, err := metric.NewMILoss(metric.MIConfig{
			VMin:         cfg.Similarity.VMin,
			VMax:         cfg.Similarity.VMax,
			NumBins:      cfg.Similarity.NumBins,
			ROI:          cfg.Similarity.ROI,
			ROIThreshold: cfg.Similarity.ROIThreshold,
			Normalised:   cfg.Similarity.Normalised,
		}, backend)
		if err != nil {
			return nil, err
		}
		m = mi
	case "lncc":
		lncc, err := metric.NewLNCCLoss(cfg.Similarity.WindowSize, backend)
		if err != nil {
			return nil, err
		}
		m = lncc
	}

	var reg *regularize.Huber[B]
	if cfg.Regulariser.HuberSpatial != 0 || cfg.Regulariser.HuberTemporal != 0 {
		reg = regularize.New(cfg.Regulariser.HuberSpatial, cfg.Regulariser.HuberTemporal, backend)
	}

	agg, err := loss.NewAggregator(m, reg, cfg.Weights.Sim, cfg.Weights.Reg, backend)
	if err != nil {
		return nil, err
	}

	mode, err := tensor.ParseInterpMode(cfg.InterpMode)
	if err != nil {
		return nil, err
	}

	return &Engine[B]{
		transform:   model,
		metric:      m,
		regularizer: reg,
		aggregator:  agg,
		mode:        mode,
		levels:      cfg.Pyramid.Levels,
		backend:     backend,
	}, nil
}

// Levels returns the number of pyramid levels.
func (e *Engine[B]) Levels() int {
	return e.levels
}

// Transform converts raw model parameters to a dense displacement
// field through the configured transformation model.
func (e *Engine[B]) Transform(params *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return e.transform.Apply(params)
}

// Pyramid builds the configured multi-resolution pyramid of a volume.
func (e *Engine[B]) Pyramid(vol *tensor.Tensor[float32, B]) ([]*tensor.Tensor[float32, B], error) {
	return pyramid.Build(vol, e.levels)
}

// Warp resamples a volume through a displacement field with the
// configured interpolation mode.
func (e *Engine[B]) Warp(vol, field *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return warp.Warp(vol, field, e.mode)
}

// Loss evaluates the full multi-resolution objective. targets, warped
// and fields are matched pyramid slices, finest level first; fields may
// be nil when no regularizer is configured. Returns the scalar loss
// tensor and a per-term breakdown keyed "sim/<level>", "reg/<level>"
// and "loss".
func (e *Engine[B]) Loss(
	targets, warped, fields []*tensor.Tensor[float32, B],
) (*tensor.Tensor[float32, B], map[string]float32, error) {
	return e.aggregator.Loss(targets, warped, fields)
}

// Evaluate runs the whole pipeline for one pair: builds pyramids of
// target and source, expands params to a dense field, derives
// per-level fields by pooling and rescaling the full-resolution field,
// warps each source level and aggregates the loss.
func (e *Engine[B]) Evaluate(
	target, source, params *tensor.Tensor[float32, B],
) (*tensor.Tensor[float32, B], map[string]float32, error) {
	field := e.transform.Apply(params)

	targets, err := e.Pyramid(target)
	if err != nil {
		return nil, nil, err
	}
	sources, err := e.Pyramid(source)
	if err != nil {
		return nil, nil, err
	}
	fields, err := fieldPyramid(field, e.levels)
	if err != nil {
		return nil, nil, err
	}

	warped, err := warp.WarpPyramid(sources, fields, e.mode)
	if err != nil {
		return nil, nil, err
	}
	return e.aggregator.Loss(targets, warped, fields)
}

// fieldPyramid downsamples a displacement field to each level, halving
// the displacement magnitudes along with the resolution so offsets
// stay in level voxel units.
func fieldPyramid[B tensor.Backend](field *tensor.Tensor[float32, B], levels int) ([]*tensor.Tensor[float32, B], error) {
	out, err := pyramid.Build(field, levels)
	if err != nil {
		return nil, err
	}
	for l := 1; l < levels; l++ {
		out[l] = out[l].MulScalar(1 / float64(int(1)<<l))
	}
	return out, nil
}
