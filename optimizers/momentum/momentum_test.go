// Copyright 2025 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package momentum

import (
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

// runSteps minimizes loss = 2*x, starting from x = 1, and returns the values of x after each step.
func runSteps(t *testing.T, ctx *context.Context, opt optimizers.Interface, numSteps int) []float32 {
	backend := graphtest.BuildTestBackend()
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		x := ctx.In("test").VariableWithValue("x", float32(1)).ValueGraph(g)
		loss := MulScalar(x, 2)
		opt.UpdateGraph(ctx, g, loss)
		return loss
	})
	var values []float32
	for range numSteps {
		require.NotPanics(t, func() { _ = exec.Call() })
		xVar := ctx.InspectVariable("/test", "x")
		require.NotNil(t, xVar)
		values = append(values, xVar.Value().Value().(float32))
	}
	return values
}

func TestMomentum(t *testing.T) {
	ctx := context.New()
	opt := New().LearningRate(0.1).Momentum(0.9).Done()
	got := runSteps(t, ctx, opt, 2)
	// accumulator: 2, then 0.9*2+2 = 3.8.
	assert.InDeltaSlice(t, []float32{0.8, 0.42}, got, 1e-5)
	assert.Equal(t, int64(2), optimizers.GetGlobalStep(ctx))

	accum := ctx.InspectVariable("/"+DefaultScope+"/test", "x_accumulator")
	require.NotNil(t, accum)
	assert.False(t, accum.Trainable)
	assert.InDelta(t, float32(3.8), accum.Value().Value().(float32), 1e-5)

	opt.Clear(ctx)
	assert.Nil(t, ctx.InspectVariable("/"+DefaultScope+"/test", "x_accumulator"))
	assert.NotNil(t, ctx.InspectVariable("/test", "x"))
}

func TestNesterov(t *testing.T) {
	ctx := context.New()
	opt := New().LearningRate(0.1).Momentum(0.9).Nesterov(true).Done()
	got := runSteps(t, ctx, opt, 2)
	// steps: 2+0.9*2 = 3.8, then 2+0.9*3.8 = 5.42.
	assert.InDeltaSlice(t, []float32{0.62, 0.078}, got, 1e-5)
}

func TestFromContext(t *testing.T) {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		optimizers.ParamOptimizer:    "momentum",
		optimizers.ParamLearningRate: 0.1,
		ParamMomentum:                0.0,
	})
	opt := optimizers.FromContext(ctx)
	got := runSteps(t, ctx, opt, 2)
	// Without momentum it is plain SGD.
	assert.InDeltaSlice(t, []float32{0.8, 0.6}, got, 1e-5)

	require.Panics(t, func() { New().Momentum(-1) })
}

func TestByNameLearningRate(t *testing.T) {
	ctx := context.New()
	ctx.SetParam(optimizers.ParamLearningRate, 0.5)
	got := runSteps(t, ctx, optimizers.ByName(ctx, "momentum"), 1)
	assert.InDeltaSlice(t, []float32{0}, got, 1e-6)
	lrVar := ctx.InspectVariable("/"+optimizers.Scope, optimizers.ParamLearningRate)
	require.NotNil(t, lrVar)
	assert.InDelta(t, float32(0.5), lrVar.Value().Value().(float32), 1e-6)

	// Without the hyperparameter the default learning rate is used.
	ctx = context.New()
	got = runSteps(t, ctx, New().Done(), 1)
	assert.InDeltaSlice(t, []float32{1 - 2*DefaultLearningRate}, got, 1e-6)
}
