// Copyright 2025 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package charcnn implements a character-level convolutional network for text classification,
// as described in "Character-level Convolutional Networks for Text Classification" (Zhang et al., 2015).
//
// Texts are quantized into character ids (see package chardata), embedded (one-hot or learned),
// passed through a stack of convolutions with optional max-pooling, a stack of fully-connected
// layers, and a final linear projection to the class logits.
//
// The model is configured with a Config, a list of ConvLayer and a list of fully-connected dimensions,
// all of which can also be read from the context hyperparameters (see CreateDefaultContext).
package charcnn

import (
	"fmt"
	"strings"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/charcnn/optimizers/expdecay"
)

// DType used by the model.
var DType = dtypes.Float32

const (
	// InitStddev is the standard deviation of the normal distribution used to initialize the
	// convolution and fully-connected weights and biases.
	InitStddev = 0.05

	// DefaultFCDropoutRate is used if ParamFCDropoutRate is not set.
	DefaultFCDropoutRate = 0.5
)

// Model holds the configuration of the character CNN. The weights themselves are stored in the
// context.Context passed to the graph building methods.
type Model struct {
	Config     Config
	ConvLayers []ConvLayer
	FCLayers   []int
}

// New creates a Model with the given configuration, convolution layers and fully-connected layers dimensions.
func New(config Config, convLayers []ConvLayer, fcLayers []int) *Model {
	return &Model{
		Config:     config,
		ConvLayers: convLayers,
		FCLayers:   fcLayers,
	}
}

// FromContext creates a Model configured with the context hyperparameters.
func FromContext(ctx *context.Context) *Model {
	return New(ConfigFromContext(ctx), ConvLayersFromContext(ctx), FCLayersFromContext(ctx))
}

// String implements fmt.Stringer.
func (m *Model) String() string {
	return strings.Join([]string{
		"Char_CNN",
		fmt.Sprintf("Embedding Size : %d", m.Config.EmbeddingDim),
		fmt.Sprintf("Number of Filters : %d", m.Config.NumFilters),
		fmt.Sprintf("Conv Layers : %s", convLayersString(m.ConvLayers)),
		fmt.Sprintf("FC Layers : %v", m.FCLayers),
	}, "\n")
}

// features returns the number of filters of the convolution layer.
func (m *Model) features(layer ConvLayer) int {
	if layer.Features == 0 {
		return m.Config.NumFilters
	}
	return layer.Features
}

// Validate the configuration and the layers, including that the sequence is not reduced to length 0 by the
// convolutions.
func (m *Model) Validate() error {
	if err := m.Config.Validate(); err != nil {
		return err
	}
	for ii, layer := range m.ConvLayers {
		if m.features(layer) <= 0 {
			return errors.Errorf("convolution layer #%d %s has no features, and Config.NumFilters is not set", ii, layer)
		}
		if layer.KernelHeight <= 0 {
			return errors.Errorf("convolution layer #%d %s must have kernel height > 0", ii, layer)
		}
		if layer.PoolHeight != NoPooling && layer.PoolHeight <= 0 {
			return errors.Errorf("convolution layer #%d %s must have pool height > 0 or NoPooling (%d)",
				ii, layer, NoPooling)
		}
	}
	for ii, dim := range m.FCLayers {
		if dim <= 0 {
			return errors.Errorf("fully-connected layer #%d must have dimension > 0, got %d", ii, dim)
		}
	}
	if length := m.OutputLength(); length <= 0 {
		return errors.Errorf("convolutions %s reduce sequences of %d characters to length %d",
			convLayersString(m.ConvLayers), m.Config.MaxLen, length)
	}
	return nil
}

// OutputLength returns the sequence length after the convolution blocks, without building any graph.
// It may be <= 0 if the kernels and poolings are too large for Config.MaxLen.
func (m *Model) OutputLength() int {
	length := m.Config.MaxLen
	for _, layer := range m.ConvLayers {
		length = length - layer.KernelHeight + 1
		if length <= 0 {
			return length
		}
		if layer.PoolHeight != NoPooling {
			length /= layer.PoolHeight
		}
	}
	return length
}

// FlatDim returns the dimension of the flattened convolution output, the input of the fully-connected layers.
func (m *Model) FlatDim() int {
	if len(m.ConvLayers) == 0 {
		return m.Config.MaxLen * m.Config.EmbeddingWidth()
	}
	return m.OutputLength() * m.features(m.ConvLayers[len(m.ConvLayers)-1])
}

// EmbedGraph converts the character ids shaped `int32[batch_size, max_len]` to a "single channel image"
// shaped `[batch_size, max_len, width, 1]`, where width is Config.EmbeddingWidth.
//
// With Config.EmbeddingDim == 0 characters are one-hot encoded: id 0 (padding or unknown) becomes the zero
// vector, and id i becomes the one-hot vector of i-1. Otherwise, a trainable embedding table with
// Config.AlphabetSize+1 rows is created in the "embedding" scope.
func (m *Model) EmbedGraph(ctx *context.Context, chars *Node) *Node {
	chars.AssertRank(2)
	cfg := m.Config
	var embed *Node
	if cfg.EmbeddingDim == 0 {
		embed = OneHot(chars, cfg.AlphabetSize+1, DType)
		embed = Slice(embed, AxisRange(), AxisRange(), AxisRange(1))
	} else {
		embedCtx := ctx.In("embedding").WithInitializer(initializers.XavierNormalFn(ctx))
		embed = layers.Embedding(embedCtx, chars, DType, cfg.AlphabetSize+1, cfg.EmbeddingDim)
	}
	return InsertAxes(embed, -1)
}

// ConvolutionsGraph applies the convolution blocks to x shaped `[batch_size, length, width, 1]`.
//
// Each convolution spans the whole width, so its output is shaped `[batch_size, length', 1, features]`.
// After the optional max-pooling the last two axes are transposed back to `[batch_size, length'', features, 1]`,
// so the features become the width of the next convolution.
func (m *Model) ConvolutionsGraph(ctx *context.Context, x *Node) *Node {
	x.AssertRank(4)
	for ii, layer := range m.ConvLayers {
		convCtx := ctx.Inf("conv_%02d", ii).WithInitializer(initializers.RandomNormalFn(ctx, InitStddev))
		width := x.Shape().Dimensions[2]
		x = layers.Convolution(convCtx, x).
			Filters(m.features(layer)).
			KernelSizePerDim(layer.KernelHeight, width).
			NoPadding().
			Done()
		x = activations.Relu(x)
		if layer.PoolHeight != NoPooling {
			x = MaxPool(x).
				WindowPerAxis(layer.PoolHeight, 1).
				StridePerAxis(layer.PoolHeight, 1).
				NoPadding().
				Done()
		}
		x = Transpose(x, 2, 3)
	}
	return x
}

// FullyConnectedGraph applies the fully-connected blocks (dense, relu and dropout) to x shaped `[batch_size, dim]`.
//
// Dropout rate is given by ParamFCDropoutRate, and it is only applied during training.
func (m *Model) FullyConnectedGraph(ctx *context.Context, x *Node) *Node {
	x.AssertRank(2)
	dropoutRate := context.GetParamOr(ctx, ParamFCDropoutRate, DefaultFCDropoutRate)
	for ii, dim := range m.FCLayers {
		fcCtx := ctx.Inf("fc_%02d", ii).WithInitializer(initializers.RandomNormalFn(ctx, InitStddev))
		x = layers.Dense(fcCtx, x, true, dim)
		x = activations.Relu(x)
		x = layers.DropoutStatic(fcCtx, x, dropoutRate)
	}
	return x
}

// LogitsGraph builds the whole network: it takes the characters ids shaped `int32[batch_size, max_len]`
// and returns the logits shaped `[batch_size, num_classes]`.
func (m *Model) LogitsGraph(ctx *context.Context, chars *Node) *Node {
	batchSize := chars.Shape().Dimensions[0]
	x := m.EmbedGraph(ctx, chars)
	x = m.ConvolutionsGraph(ctx, x)
	x = Reshape(x, batchSize, -1)
	x = m.FullyConnectedGraph(ctx, x)
	outCtx := ctx.In("output").WithInitializer(initializers.RandomNormalFn(ctx, InitStddev))
	logits := layers.Dense(outCtx, x, true, m.Config.NumClasses)
	logits.AssertDims(batchSize, m.Config.NumClasses)
	return logits
}

// ModelGraph implements train.ModelFn. It takes one input, the character ids, and returns the logits.
//
// While training it also sets up the exponential decay of the learning rate: it is multiplied by the
// hyperparameter expdecay.ParamDecayRate (default 0.5, halving it) every Config.DecaySteps steps.
func (m *Model) ModelGraph(ctx *context.Context, _ any, inputs []*Node) []*Node {
	g := inputs[0].Graph()
	expdecay.New(ctx, g, DType).
		LearningRate(m.Config.LearningRate).
		DecaySteps(m.Config.DecaySteps()).
		DecayRate(context.GetParamOr(ctx, expdecay.ParamDecayRate, expdecay.DefaultDecayRate)).
		Staircase(true).
		Done()
	return []*Node{m.LogitsGraph(ctx, inputs[0])}
}
