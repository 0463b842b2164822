// Copyright 2026 The mireg Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package reg_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mireg-ml/mireg/autodiff"
	"github.com/mireg-ml/mireg/backend/cpu"
	"github.com/mireg-ml/mireg/reg"
	"github.com/mireg-ml/mireg/tensor"
)

// cosineVolume is a fixed 8x8x8 test volume with smooth variation
// along every axis and intensities inside [0, 1].
func cosineVolume[B tensor.Backend](t *testing.T, backend B) *tensor.Tensor[float32, B] {
	t.Helper()
	data := make([]float32, 8*8*8)
	idx := 0
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			for k := 0; k < 8; k++ {
				v := math.Cos(float64(i)*0.9) * math.Cos(float64(j)*1.1) * math.Cos(float64(k)*0.7)
				data[idx] = float32(v/2 + 0.5)
				idx++
			}
		}
	}
	vol, err := tensor.FromSlice(data, tensor.Shape{1, 1, 8, 8, 8}, backend)
	require.NoError(t, err)
	return vol
}

func TestEngineSelfRegistrationLNCC(t *testing.T) {
	backend := cpu.New()

	cfg := reg.DefaultConfig()
	cfg.Similarity.Kind = "lncc"
	cfg.Similarity.WindowSize = []int{3}
	cfg.Regulariser.HuberSpatial = 0.1
	cfg.Regulariser.HuberTemporal = 0.01
	cfg.Weights.Reg = []float64{1.0}

	engine, err := reg.NewFromConfig(cfg, backend)
	require.NoError(t, err)

	vol := cosineVolume(t, backend)
	field := tensor.Zeros[float32](tensor.Shape{1, 3, 8, 8, 8}, backend)

	total, breakdown, err := engine.Evaluate(vol, vol, field)
	require.NoError(t, err)

	// Identical volumes under a zero field: near-perfect correlation
	// and no smoothness penalty.
	assert.InDelta(t, -1.0, float64(breakdown["sim/0"]), 1e-2)
	assert.Zero(t, breakdown["reg/0"])
	assert.InDelta(t, float64(breakdown["loss"]), float64(total.Item()), 1e-7)
}

func TestEngineSelfRegistrationMI(t *testing.T) {
	backend := cpu.New()

	cfg := reg.DefaultConfig()
	engine, err := reg.NewFromConfig(cfg, backend)
	require.NoError(t, err)

	vol := cosineVolume(t, backend)
	field := tensor.Zeros[float32](tensor.Shape{1, 3, 8, 8, 8}, backend)

	_, breakdown, err := engine.Evaluate(vol, vol, field)
	require.NoError(t, err)

	assert.Greater(t, breakdown["sim/0"], float32(-2.001))
	assert.Less(t, breakdown["sim/0"], float32(-1.5))
}

func TestEngineMultiLevelPyramid(t *testing.T) {
	backend := cpu.New()

	cfg := reg.DefaultConfig()
	cfg.Similarity.Kind = "lncc"
	cfg.Similarity.WindowSize = []int{3}
	cfg.Pyramid.Levels = 2
	cfg.Weights.Sim = []float64{1.0, 0.5}

	engine, err := reg.NewFromConfig(cfg, backend)
	require.NoError(t, err)
	require.Equal(t, 2, engine.Levels())

	vol := cosineVolume(t, backend)
	field := tensor.Zeros[float32](tensor.Shape{1, 3, 8, 8, 8}, backend)

	_, breakdown, err := engine.Evaluate(vol, vol, field)
	require.NoError(t, err)
	assert.Contains(t, breakdown, "sim/0")
	assert.Contains(t, breakdown, "sim/1")
}

func TestEngineFFDPipeline(t *testing.T) {
	backend := cpu.New()

	cfg := reg.DefaultConfig()
	cfg.Transform.Kind = "ffd"
	cfg.Transform.ImgSize = []int{8, 8, 8}
	cfg.Transform.CptSpacing = []int{2, 2, 2}
	cfg.Similarity.Kind = "lncc"
	cfg.Similarity.WindowSize = []int{3}

	engine, err := reg.NewFromConfig(cfg, backend)
	require.NoError(t, err)

	vol := cosineVolume(t, backend)
	// (8-1)/2 + 5 control points per axis.
	cpts := tensor.Zeros[float32](tensor.Shape{1, 3, 8, 8, 8}, backend)

	field := engine.Transform(cpts)
	assert.Equal(t, tensor.Shape{1, 3, 8, 8, 8}, field.Shape())

	_, breakdown, err := engine.Evaluate(vol, vol, cpts)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, float64(breakdown["sim/0"]), 1e-2)
}

func TestEngineGradientFlowsToField(t *testing.T) {
	backend := autodiff.New(cpu.New())

	cfg := reg.DefaultConfig()
	cfg.Similarity.Kind = "lncc"
	cfg.Similarity.WindowSize = []int{3}

	engine, err := reg.NewFromConfig(cfg, backend)
	require.NoError(t, err)

	target := cosineVolume(t, backend)

	// Source shifted against the target so the loss is sensitive to
	// the field.
	srcData := make([]float32, len(target.Data()))
	copy(srcData[1:], target.Data())
	source, err := tensor.FromSlice(srcData, tensor.Shape{1, 1, 8, 8, 8}, backend)
	require.NoError(t, err)

	fieldData := make([]float32, 3*8*8*8)
	for i := range fieldData {
		fieldData[i] = 0.25
	}
	field, err := tensor.FromSlice(fieldData, tensor.Shape{1, 3, 8, 8, 8}, backend)
	require.NoError(t, err)

	backend.Tape().StartRecording()
	total, _, err := engine.Evaluate(target, source, field)
	require.NoError(t, err)
	backend.Tape().StopRecording()

	grads := autodiff.Backward(total, backend)
	grad := grads[field.Raw()]
	require.NotNil(t, grad, "no gradient flows to the displacement field")

	var norm float64
	for _, v := range grad.AsFloat32() {
		norm += float64(v) * float64(v)
	}
	assert.Greater(t, norm, 0.0, "field gradient is identically zero")
}

func TestEngineGradientFlowsAcrossLevels(t *testing.T) {
	backend := autodiff.New(cpu.New())

	cfg := reg.DefaultConfig()
	cfg.Similarity.Kind = "lncc"
	cfg.Similarity.WindowSize = []int{3}
	cfg.Pyramid.Levels = 2
	// Only the coarse level contributes, so any field gradient must
	// have come through the pooled path.
	cfg.Weights.Sim = []float64{0.0, 1.0}

	engine, err := reg.NewFromConfig(cfg, backend)
	require.NoError(t, err)

	target := cosineVolume(t, backend)

	srcData := make([]float32, len(target.Data()))
	copy(srcData[1:], target.Data())
	source, err := tensor.FromSlice(srcData, tensor.Shape{1, 1, 8, 8, 8}, backend)
	require.NoError(t, err)

	fieldData := make([]float32, 3*8*8*8)
	for i := range fieldData {
		fieldData[i] = 0.25
	}
	field, err := tensor.FromSlice(fieldData, tensor.Shape{1, 3, 8, 8, 8}, backend)
	require.NoError(t, err)

	backend.Tape().StartRecording()
	total, breakdown, err := engine.Evaluate(target, source, field)
	require.NoError(t, err)
	backend.Tape().StopRecording()

	require.Contains(t, breakdown, "sim/1")

	grads := autodiff.Backward(total, backend)
	grad := grads[field.Raw()]
	require.NotNil(t, grad)

	var norm float64
	for _, v := range grad.AsFloat32() {
		norm += float64(v) * float64(v)
	}
	assert.Greater(t, norm, 0.0)
}
