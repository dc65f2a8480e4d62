// Copyright 2025 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package expdecay implements an exponential decay schedule for the learning rate:
//
//	learning_rate = initial_learning_rate * decay_rate ^ (global_step / decay_steps)
//
// With "staircase" the exponent is truncated to an integer, so the learning rate changes in discrete
// intervals.
//
// See New for details and example of usage.
package expdecay

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"
)

var (
	// ParamDecaySteps enables the exponential decay of the learning rate if set to a value > 0.
	// It is the number of steps over which the learning rate is multiplied by ParamDecayRate.
	//
	// Requires calling `New().FromContext().Done()` at the start of your model.
	ParamDecaySteps = "expdecay_steps"

	// ParamDecayRate is the multiplicative factor applied every ParamDecaySteps. Defaults to 0.5.
	ParamDecayRate = "expdecay_rate"

	// ParamStaircase makes the decay happen in discrete intervals. Defaults to true.
	ParamStaircase = "expdecay_staircase"
)

// DefaultDecayRate is used if no decay rate is configured.
const DefaultDecayRate = 0.5

// Config is returned by New to configure the exponential decay schedule.
// When finished to configure, call `Done`.
type Config struct {
	graph        *Graph
	ctx          *context.Context
	dtype        dtypes.DType
	learningRate float64
	decayRate    float64
	decaySteps   int
	staircase    bool
}

// New creates a configuration to apply an exponential decay to the learning rate.
//
// The decay uses the global step (see optimizers.GetGlobalStepVar) before it is incremented by the
// optimizer, so the first training step uses the initial learning rate.
//
// Example, halving the learning rate every 3 epochs:
//
//	func modelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
//		g := inputs[0].Graph()
//		expdecay.New(ctx, g, dtypes.Float32).DecaySteps(3 * numBatchesPerEpoch).Done()
//		...
//	}
//
// It is a no-op during inference and evaluation.
func New(ctx *context.Context, graph *Graph, dtype dtypes.DType) *Config {
	return &Config{
		ctx:       ctx,
		graph:     graph,
		dtype:     dtype,
		decayRate: DefaultDecayRate,
		staircase: true,
	}
}

// FromContext configures the exponential decay from the context, using the keys
// [ParamDecaySteps], [ParamDecayRate], [ParamStaircase] and optimizers.ParamLearningRate.
func (opt *Config) FromContext() *Config {
	opt.decaySteps = context.GetParamOr(opt.ctx, ParamDecaySteps, 0)
	opt.decayRate = context.GetParamOr(opt.ctx, ParamDecayRate, DefaultDecayRate)
	opt.staircase = context.GetParamOr(opt.ctx, ParamStaircase, true)
	opt.learningRate = context.GetParamOr(opt.ctx, optimizers.ParamLearningRate, 0.0)
	return opt
}

// LearningRate at step 0. If not given, it is read from the context parameter optimizers.ParamLearningRate.
func (opt *Config) LearningRate(learningRate float64) *Config {
	opt.learningRate = learningRate
	return opt
}

// DecaySteps sets the number of steps for the learning rate to be multiplied by the decay rate.
// If set to 0 the schedule is silently disabled.
func (opt *Config) DecaySteps(steps int) *Config {
	opt.decaySteps = steps
	return opt
}

// DecayRate sets the multiplicative factor applied every DecaySteps. Default is 0.5.
func (opt *Config) DecayRate(rate float64) *Config {
	opt.decayRate = rate
	return opt
}

// Staircase sets whether the exponent is truncated to an integer. Default is true.
func (opt *Config) Staircase(staircase bool) *Config {
	opt.staircase = staircase
	return opt
}

// Done finalizes the configuration and generates the computation graph that updates the
// learning rate variable.
func (opt *Config) Done() {
	ctx := opt.ctx.Checked(false)
	g := opt.graph
	if !ctx.IsTraining(g) || opt.decaySteps == 0 {
		return
	}
	if opt.decaySteps < 0 {
		Panicf("exponential decay steps must be > 0, got %d", opt.decaySteps)
	}
	if opt.decayRate <= 0 {
		Panicf("exponential decay rate must be > 0, got %g", opt.decayRate)
	}
	lrValue := opt.learningRate
	if lrValue == 0 {
		lrValue = context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.0)
		if lrValue == 0 {
			Panicf("learning rate not configured for expdecay and also not set in the context as parameter %q",
				optimizers.ParamLearningRate)
		}
	}

	globalStep := optimizers.GetGlobalStepVar(ctx).ValueGraph(g)
	exponent := DivScalar(ConvertDType(globalStep, opt.dtype), float64(opt.decaySteps))
	if opt.staircase {
		exponent = Floor(exponent)
	}
	lr := MulScalar(Pow(Scalar(g, opt.dtype, opt.decayRate), exponent), lrValue)

	lrVar := optimizers.LearningRateVarWithValue(ctx, opt.dtype, lrValue)
	lrVar.SetValueGraph(lr)
}
