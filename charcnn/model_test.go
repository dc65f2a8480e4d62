// Copyright 2025 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package charcnn

import (
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

// smallModel has sequence lengths 20 -> 18 -> 9 (pooling) -> 7 (no pooling), and 4 features at the end.
func smallModel(embeddingDim int) *Model {
	return New(Config{
		EmbeddingDim: embeddingDim,
		MaxLen:       20,
		NumClasses:   3,
		AlphabetSize: 5,
		LearningRate: 0.1,
		NumBatches:   2,
		NumFilters:   4,
	}, []ConvLayer{{4, 3, 2}, {0, 3, NoPooling}}, []int{8})
}

func smallBatch() *tensors.Tensor {
	return tensors.FromValue([][]int32{
		{1, 2, 3, 4, 5, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		{5, 5, 4, 4, 3, 3, 2, 2, 1, 1, 0, 1, 2, 3, 4, 5, 1, 2, 3, 4},
	})
}

func TestOutputLength(t *testing.T) {
	m := smallModel(0)
	assert.Equal(t, 7, m.OutputLength())
	assert.Equal(t, 28, m.FlatDim())
	require.NoError(t, m.Validate())

	m.ConvLayers = nil
	assert.Equal(t, 20, m.OutputLength())
	assert.Equal(t, 20*5, m.FlatDim())
}

func TestValidate(t *testing.T) {
	m := smallModel(0)
	m.ConvLayers = []ConvLayer{{4, 21, NoPooling}}
	require.Error(t, m.Validate(), "kernel larger than the sequence")

	m = smallModel(0)
	m.ConvLayers = []ConvLayer{{4, 3, 0}}
	require.Error(t, m.Validate(), "pool height 0")

	m = smallModel(0)
	m.Config.NumFilters = 0
	require.Error(t, m.Validate(), "layer without features and no default")

	m = smallModel(0)
	m.FCLayers = []int{8, 0}
	require.Error(t, m.Validate(), "fully-connected layer with dimension 0")

	m = smallModel(0)
	m.Config.NumClasses = 0
	require.Error(t, m.Validate())

	m = smallModel(-1)
	require.Error(t, m.Validate())
}

func TestString(t *testing.T) {
	m := smallModel(16)
	want := "Char_CNN\n" +
		"Embedding Size : 16\n" +
		"Number of Filters : 4\n" +
		"Conv Layers : [[4 3 2] [0 3 -1]]\n" +
		"FC Layers : [8]"
	assert.Equal(t, want, m.String())
}

func TestEmbedGraph(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	chars := tensors.FromValue([][]int32{{0, 1, 5}})

	t.Run("OneHot", func(t *testing.T) {
		ctx := context.New()
		m := smallModel(0)
		exec := context.NewExec(backend, ctx, func(ctx *context.Context, chars *Node) *Node {
			return m.EmbedGraph(ctx, chars)
		})
		got := exec.Call(chars)[0]
		assert.Equal(t, []int{1, 3, 5, 1}, got.Shape().Dimensions)
		want := [][][][]float32{{
			{{0}, {0}, {0}, {0}, {0}},
			{{1}, {0}, {0}, {0}, {0}},
			{{0}, {0}, {0}, {0}, {1}},
		}}
		assert.Equal(t, want, got.Value())
		assert.Equal(t, 0, ctx.NumVariables(), "one-hot encoding should not create variables")
	})

	t.Run("Learned", func(t *testing.T) {
		ctx := context.New()
		m := smallModel(6)
		exec := context.NewExec(backend, ctx, func(ctx *context.Context, chars *Node) *Node {
			return m.EmbedGraph(ctx, chars)
		})
		got := exec.Call(chars)[0]
		assert.Equal(t, []int{1, 3, 6, 1}, got.Shape().Dimensions)
		embeddings := ctx.InspectVariable("/embedding", "embeddings")
		require.NotNil(t, embeddings)
		assert.True(t, embeddings.Trainable)
		assert.Equal(t, []int{5 + 1, 6}, embeddings.Shape().Dimensions)
	})
}

func TestConvolutionsGraph(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	m := smallModel(0)
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, chars *Node) *Node {
		return m.ConvolutionsGraph(ctx, m.EmbedGraph(ctx, chars))
	})
	got := exec.Call(smallBatch())[0]
	assert.Equal(t, []int{2, 7, 4, 1}, got.Shape().Dimensions)

	// Kernels span the whole width of their input: the alphabet for the first layer, the features of
	// the previous layer afterward.
	w0 := ctx.InspectVariable("/conv_00/conv", "weights")
	require.NotNil(t, w0)
	assert.Equal(t, []int{3, 5, 1, 4}, w0.Shape().Dimensions)
	w1 := ctx.InspectVariable("/conv_01/conv", "weights")
	require.NotNil(t, w1)
	assert.Equal(t, []int{3, 4, 1, 4}, w1.Shape().Dimensions)
}

func TestNoPooling(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, pool := range []int{NoPooling, 2} {
		ctx := context.New()
		m := smallModel(0)
		m.ConvLayers = []ConvLayer{{4, 5, pool}}
		exec := context.NewExec(backend, ctx, func(ctx *context.Context, chars *Node) *Node {
			return m.ConvolutionsGraph(ctx, m.EmbedGraph(ctx, chars))
		})
		got := exec.Call(smallBatch())[0]
		want := 20 - 5 + 1
		if pool != NoPooling {
			want /= pool
		}
		assert.Equal(t, []int{2, want, 4, 1}, got.Shape().Dimensions, "pool=%d", pool)
		assert.Equal(t, want, m.OutputLength())
	}
}

func TestLogitsGraph(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, embeddingDim := range []int{0, 6} {
		ctx := context.New()
		m := smallModel(embeddingDim)
		exec := context.NewExec(backend, ctx, func(ctx *context.Context, chars *Node) (logits, prediction *Node) {
			outputs := m.BuildGraph(ctx, chars, nil)
			return outputs.Logits, outputs.Prediction
		})
		results := exec.Call(smallBatch())
		logits, prediction := results[0], results[1]
		assert.Equal(t, []int{2, 3}, logits.Shape().Dimensions)
		assert.Equal(t, []int{2}, prediction.Shape().Dimensions)
		for _, class := range prediction.Value().([]int32) {
			assert.True(t, class >= 0 && class < 3, "invalid class %d", class)
		}

		fc := ctx.InspectVariable("/fc_00/dense", "weights")
		require.NotNil(t, fc)
		assert.Equal(t, []int{28, 8}, fc.Shape().Dimensions)
	}
}
