// Copyright 2025 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package charcnn

import (
	"testing"

	"github.com/gomlx/gomlx/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromContext(t *testing.T) {
	ctx := context.New()
	config := Config{
		EmbeddingDim: 16,
		MaxLen:       100,
		NumClasses:   4,
		AlphabetSize: 69,
		LearningRate: 0.01,
		NumBatches:   10,
		NumFilters:   32,
	}
	config.SetParams(ctx)
	convLayers := []ConvLayer{{32, 7, 3}, {0, 3, NoPooling}}
	ctx.SetParams(map[string]any{
		ParamConvLayers: EncodeConvLayers(convLayers),
		ParamFCLayers:   []int{64, 32},
	})

	assert.Equal(t, config, ConfigFromContext(ctx))
	assert.Equal(t, convLayers, ConvLayersFromContext(ctx))
	assert.Equal(t, []int{64, 32}, FCLayersFromContext(ctx))

	// Sub-scopes see the same values.
	m := FromContext(ctx.In(ModelScope))
	assert.Equal(t, config, m.Config)
	assert.Equal(t, 30, m.Config.DecaySteps())
	assert.Equal(t, 16, m.Config.EmbeddingWidth())
	assert.Equal(t, "[[32 7 3] [0 3 -1]]", convLayersString(m.ConvLayers))

	ctx.SetParam(ParamConvLayers, []int{32, 7})
	require.Panics(t, func() { _ = ConvLayersFromContext(ctx) })
}

func TestConfigValidate(t *testing.T) {
	valid := Config{MaxLen: 10, NumClasses: 2, AlphabetSize: 3, LearningRate: 0.1, NumBatches: 1}
	require.NoError(t, valid.Validate())
	assert.Equal(t, 3, valid.EmbeddingWidth(), "one-hot width is the alphabet size")

	for name, modify := range map[string]func(c *Config){
		"embedding":     func(c *Config) { c.EmbeddingDim = -1 },
		"max_len":       func(c *Config) { c.MaxLen = 0 },
		"num_classes":   func(c *Config) { c.NumClasses = 0 },
		"alphabet_size": func(c *Config) { c.AlphabetSize = 0 },
		"learning_rate": func(c *Config) { c.LearningRate = 0 },
		"num_batches":   func(c *Config) { c.NumBatches = 0 },
		"num_filters":   func(c *Config) { c.NumFilters = -1 },
	} {
		c := valid
		modify(&c)
		require.Errorf(t, c.Validate(), "invalid %s should fail", name)
	}
}
