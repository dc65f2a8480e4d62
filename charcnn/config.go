// Copyright 2025 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package charcnn

import (
	"fmt"
	"strings"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/pkg/errors"
)

// NoPooling as ConvLayer.PoolHeight disables the max-pooling after the convolution.
const NoPooling = -1

// Hyperparameters read by ConfigFromContext, ConvLayersFromContext and FCLayersFromContext.
const (
	// ParamEmbeddingDim is the size of the learned character embedding. If 0 characters are one-hot encoded.
	ParamEmbeddingDim = "charcnn_embedding_dim"

	// ParamMaxLen is the number of characters per example: longer texts are truncated, shorter ones padded.
	ParamMaxLen = "charcnn_max_len"

	// ParamNumClasses is the number of output classes.
	ParamNumClasses = "charcnn_num_classes"

	// ParamAlphabetSize is the number of known characters. Character ids go from 1 to alphabet size, 0 is
	// reserved for padding and unknown characters.
	ParamAlphabetSize = "charcnn_alphabet_size"

	// ParamNumBatches is the number of batches in one epoch. The learning rate halves every 3 epochs.
	ParamNumBatches = "charcnn_num_batches"

	// ParamNumFilters is the default number of features of the convolutions that don't set one.
	ParamNumFilters = "charcnn_num_filters"

	// ParamConvLayers is a flat list of (features, kernel height, pool height) triples, one per convolution.
	ParamConvLayers = "charcnn_conv_layers"

	// ParamFCLayers is the list of the output dimensions of the fully-connected layers.
	ParamFCLayers = "charcnn_fc_layers"

	// ParamFCDropoutRate is the dropout rate applied after each fully-connected layer, during training only.
	ParamFCDropoutRate = "charcnn_fc_dropout_rate"
)

// Config is the flat set of scalars that define the model and its training.
type Config struct {
	EmbeddingDim int
	MaxLen       int
	NumClasses   int
	AlphabetSize int
	LearningRate float64
	NumBatches   int
	NumFilters   int
}

// ConvLayer configures one convolution block.
type ConvLayer struct {
	// Features is the number of filters. If 0, Config.NumFilters is used.
	Features int

	// KernelHeight is the number of characters (or features of the previous block) the kernel spans.
	KernelHeight int

	// PoolHeight is the max-pooling window (and stride), or NoPooling.
	PoolHeight int
}

// String implements fmt.Stringer.
func (l ConvLayer) String() string {
	return fmt.Sprintf("[%d %d %d]", l.Features, l.KernelHeight, l.PoolHeight)
}

// Validate checks the configuration values, it doesn't check the layers.
func (c Config) Validate() error {
	switch {
	case c.EmbeddingDim < 0:
		return errors.Errorf("embedding dimension must be >= 0 (0 for one-hot), got %d", c.EmbeddingDim)
	case c.MaxLen <= 0:
		return errors.Errorf("max length must be > 0, got %d", c.MaxLen)
	case c.NumClasses <= 0:
		return errors.Errorf("number of classes must be > 0, got %d", c.NumClasses)
	case c.AlphabetSize <= 0:
		return errors.Errorf("alphabet size must be > 0, got %d", c.AlphabetSize)
	case c.LearningRate <= 0:
		return errors.Errorf("learning rate must be > 0, got %g", c.LearningRate)
	case c.NumBatches <= 0:
		return errors.Errorf("number of batches per epoch must be > 0, got %d", c.NumBatches)
	case c.NumFilters < 0:
		return errors.Errorf("number of filters must be >= 0, got %d", c.NumFilters)
	}
	return nil
}

// EmbeddingWidth is the width of each embedded character: the embedding dimension, or the alphabet
// size for one-hot encoding.
func (c Config) EmbeddingWidth() int {
	if c.EmbeddingDim == 0 {
		return c.AlphabetSize
	}
	return c.EmbeddingDim
}

// DecaySteps is the number of steps after which the learning rate is halved.
func (c Config) DecaySteps() int {
	return 3 * c.NumBatches
}

// SetParams stores the configuration in the context hyperparameters.
func (c Config) SetParams(ctx *context.Context) {
	ctx.SetParams(map[string]any{
		ParamEmbeddingDim:            c.EmbeddingDim,
		ParamMaxLen:                  c.MaxLen,
		ParamNumClasses:              c.NumClasses,
		ParamAlphabetSize:            c.AlphabetSize,
		optimizers.ParamLearningRate: c.LearningRate,
		ParamNumBatches:              c.NumBatches,
		ParamNumFilters:              c.NumFilters,
	})
}

// ConfigFromContext reads the configuration from the context hyperparameters.
func ConfigFromContext(ctx *context.Context) Config {
	return Config{
		EmbeddingDim: context.GetParamOr(ctx, ParamEmbeddingDim, 0),
		MaxLen:       context.GetParamOr(ctx, ParamMaxLen, 0),
		NumClasses:   context.GetParamOr(ctx, ParamNumClasses, 0),
		AlphabetSize: context.GetParamOr(ctx, ParamAlphabetSize, 0),
		LearningRate: context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.0),
		NumBatches:   context.GetParamOr(ctx, ParamNumBatches, 0),
		NumFilters:   context.GetParamOr(ctx, ParamNumFilters, 0),
	}
}

// ConvLayersFromContext decodes ParamConvLayers. It panics if the list is not made of triples.
func ConvLayersFromContext(ctx *context.Context) []ConvLayer {
	flat := context.GetParamOr(ctx, ParamConvLayers, []int{})
	if len(flat)%3 != 0 {
		Panicf("hyperparameter %q must be a list of (features, kernel height, pool height) triples, got %d values",
			ParamConvLayers, len(flat))
	}
	layers := make([]ConvLayer, 0, len(flat)/3)
	for ii := 0; ii < len(flat); ii += 3 {
		layers = append(layers, ConvLayer{Features: flat[ii], KernelHeight: flat[ii+1], PoolHeight: flat[ii+2]})
	}
	return layers
}

// EncodeConvLayers is the inverse of ConvLayersFromContext: it returns the flat value for ParamConvLayers.
func EncodeConvLayers(layers []ConvLayer) []int {
	flat := make([]int, 0, 3*len(layers))
	for _, l := range layers {
		flat = append(flat, l.Features, l.KernelHeight, l.PoolHeight)
	}
	return flat
}

// FCLayersFromContext returns the fully-connected layers dimensions.
func FCLayersFromContext(ctx *context.Context) []int {
	return context.GetParamOr(ctx, ParamFCLayers, []int{})
}

func convLayersString(layers []ConvLayer) string {
	parts := make([]string, len(layers))
	for ii, l := range layers {
		parts[ii] = l.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
