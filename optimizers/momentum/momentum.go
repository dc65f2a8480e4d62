// Copyright 2025 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package momentum implements stochastic gradient descent with momentum (optionally Nesterov's),
// as an optimizers.Interface.
//
// For each trainable variable it keeps an accumulator of the gradients:
//
//	accumulator = momentum * accumulator + gradient
//	variable = variable - learning_rate * accumulator
//
// Importing the package registers it in optimizers.KnownOptimizers as "momentum", so it can be selected
// with the hyperparameter optimizers.ParamOptimizer.
package momentum

import (
	"fmt"
	"strings"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/ml/train/optimizers"
)

const (
	// DefaultLearningRate is used if no learning rate is configured or set in the context.
	DefaultLearningRate = 0.01

	// DefaultMomentum is the default decay of the accumulated gradients.
	DefaultMomentum = 0.9

	// DefaultScope is the default scope name for the gradient accumulators.
	DefaultScope = "MomentumOptimizer"
)

var (
	// ParamMomentum is the context hyperparameter for the momentum. Default is DefaultMomentum.
	ParamMomentum = "momentum"

	// ParamNesterov is the context hyperparameter to enable Nesterov momentum. Default is false.
	ParamNesterov = "momentum_nesterov"
)

func init() {
	optimizers.KnownOptimizers["momentum"] = func(ctx *context.Context) optimizers.Interface {
		return New().FromContext(ctx).Done()
	}
}

// Config holds the configuration of the momentum optimizer. Create it with New, and once configured
// call Done to get the optimizers.Interface.
type Config struct {
	scopeName    string
	learningRate float64
	momentum     float64
	nesterov     bool
}

// New returns a configuration for a momentum optimizer with the default values.
func New() *Config {
	return &Config{
		scopeName:    DefaultScope,
		learningRate: -1, // < 0 means use the context value, or the default.
		momentum:     DefaultMomentum,
	}
}

// FromContext reads the learning rate, momentum and Nesterov configuration from the context hyperparameters
// optimizers.ParamLearningRate, ParamMomentum and ParamNesterov.
func (c *Config) FromContext(ctx *context.Context) *Config {
	c.learningRate = context.GetParamOr(ctx, optimizers.ParamLearningRate, c.learningRate)
	c.momentum = context.GetParamOr(ctx, ParamMomentum, c.momentum)
	c.nesterov = context.GetParamOr(ctx, ParamNesterov, c.nesterov)
	return c
}

// Scope defines the top-level scope where the gradient accumulators are stored. Default is DefaultScope.
func (c *Config) Scope(name string) *Config {
	c.scopeName = name
	return c
}

// LearningRate sets the base learning rate.
//
// Default is the value of optimizers.ParamLearningRate in the context if set, or DefaultLearningRate.
// Learning rate schedules (e.g. expdecay) update the learning rate variable, so its value only matters
// for the creation of that variable.
func (c *Config) LearningRate(value float64) *Config {
	c.learningRate = value
	return c
}

// Momentum sets the decay of the accumulated gradients. Default is DefaultMomentum.
func (c *Config) Momentum(momentum float64) *Config {
	if momentum < 0 {
		Panicf("momentum must be >= 0, got %g", momentum)
	}
	c.momentum = momentum
	return c
}

// Nesterov configures the use of Nesterov momentum. Default is false.
func (c *Config) Nesterov(nesterov bool) *Config {
	c.nesterov = nesterov
	return c
}

// Done returns the configured optimizer.
func (c *Config) Done() optimizers.Interface {
	return &optimizer{config: c}
}

// optimizer implements optimizers.Interface.
type optimizer struct {
	config *Config
}

// UpdateGraph builds the graph to update the weights for one training step.
// It implements optimizers.Interface.
func (o *optimizer) UpdateGraph(ctx *context.Context, g *Graph, loss *Node) {
	if !loss.Shape().IsScalar() {
		Panicf("optimizer requires a scalar loss to optimize, got loss.shape=%s instead", loss.Shape())
	}
	dtype := loss.DType()

	lrValue := o.config.learningRate
	if lrValue < 0 {
		lrValue = context.GetParamOr(ctx, optimizers.ParamLearningRate, DefaultLearningRate)
	}
	learningRate := optimizers.LearningRateVarWithValue(ctx, dtype, lrValue).ValueGraph(g)
	_ = optimizers.IncrementGlobalStepGraph(ctx, g, dtype)

	grads := ctx.BuildTrainableVariablesGradientsGraph(loss)
	if len(grads) == 0 {
		Panicf("Context.BuildTrainableVariablesGradientsGraph returned 0 gradients, are there any trainable variables ?")
	}
	numTrainable := len(grads)
	ii := 0
	ctx.EnumerateVariables(func(v *context.Variable) {
		if !v.Trainable || !v.InUseByGraph(g) {
			return
		}
		if ii < numTrainable {
			o.applyGraph(ctx, g, v, grads[ii], learningRate)
		}
		ii++
	})
	if ii != numTrainable {
		Panicf("Context.BuildTrainableVariablesGradientsGraph returned gradients for %d variables, but "+
			"the momentum optimizer sees %d variables -- were new variables created in between ?",
			numTrainable, ii)
	}
}

// applyGraph updates the accumulator and the variable v.
func (o *optimizer) applyGraph(ctx *context.Context, g *Graph, v *context.Variable, grad, learningRate *Node) {
	accumVar := o.accumulatorVar(ctx, v)
	lr := learningRate
	if lr.DType() != grad.DType() {
		lr = ConvertDType(lr, grad.DType())
	}
	accum := Add(MulScalar(accumVar.ValueGraph(g), o.config.momentum), grad)
	accumVar.SetValueGraph(accum)

	step := accum
	if o.config.nesterov {
		step = Add(grad, MulScalar(accum, o.config.momentum))
	}
	step = optimizers.ClipStepByValue(ctx, Mul(step, lr))
	v.SetValueGraph(Sub(v.ValueGraph(g), step))
}

// accumulatorVar returns the accumulator for the trainable variable, creating it (zero initialized) if needed.
func (o *optimizer) accumulatorVar(ctx *context.Context, trainable *context.Variable) *context.Variable {
	scopePath := fmt.Sprintf("%s%s%s", context.ScopeSeparator, o.config.scopeName, trainable.Scope())
	name := fmt.Sprintf("%s_accumulator", trainable.Name())
	return ctx.Checked(false).InAbsPath(scopePath).WithInitializer(initializers.Zero).
		VariableWithShape(name, trainable.Shape()).SetTrainable(false)
}

// Clear deletes the gradient accumulators.
// It implements optimizers.Interface.
func (o *optimizer) Clear(ctx *context.Context) {
	prefix := context.ScopeSeparator + o.config.scopeName
	var toDelete []*context.Variable
	ctx.EnumerateVariables(func(v *context.Variable) {
		if v.Scope() == prefix || strings.HasPrefix(v.Scope(), prefix+context.ScopeSeparator) {
			toDelete = append(toDelete, v)
		}
	})
	for _, v := range toDelete {
		ctx.DeleteVariable(v.Scope(), v.Name())
	}
}
