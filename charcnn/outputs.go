// Copyright 2025 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package charcnn

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/metrics"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/charcnn/optimizers/momentum"
)

// Outputs of the model graph, built by Model.BuildGraph.
type Outputs struct {
	// Logits shaped `[batch_size, num_classes]`.
	Logits *Node

	// Prediction is the arg-max of the logits, shaped `int32[batch_size]`.
	Prediction *Node

	// Loss is the mean softmax cross-entropy, a scalar. Nil if no labels were given.
	Loss *Node

	// Accuracy is the ratio of correct predictions, a scalar. Nil if no labels were given.
	Accuracy *Node
}

// BuildGraph builds the model and its heads. labels, shaped `int32[batch_size]`, can be nil, in which case
// only Outputs.Logits and Outputs.Prediction are set.
func (m *Model) BuildGraph(ctx *context.Context, chars, labels *Node) *Outputs {
	logits := m.LogitsGraph(ctx, chars)
	out := &Outputs{
		Logits:     logits,
		Prediction: PredictionGraph(logits),
	}
	if labels != nil {
		out.Loss = LossGraph([]*Node{labels}, []*Node{logits})
		out.Accuracy = AccuracyGraph(ctx, []*Node{labels}, []*Node{logits})
	}
	return out
}

// Optimizer returns the momentum optimizer used to train the model, with momentum 0.9 and the configured
// learning rate. The learning rate decay is set up by Model.ModelGraph and Model.TrainStepGraph.
func (m *Model) Optimizer() optimizers.Interface {
	return momentum.New().LearningRate(m.Config.LearningRate).Momentum(0.9).Done()
}

// TrainStepGraph builds the model, the learning rate decay and the optimizer update of the variables.
// It returns the model outputs, computed with the variables values before the update.
func (m *Model) TrainStepGraph(ctx *context.Context, chars, labels *Node) *Outputs {
	g := chars.Graph()
	ctx.SetTraining(g, true)
	logits := m.ModelGraph(ctx, nil, []*Node{chars})[0]
	out := &Outputs{
		Logits:     logits,
		Prediction: PredictionGraph(logits),
		Loss:       LossGraph([]*Node{labels}, []*Node{logits}),
		Accuracy:   AccuracyGraph(ctx, []*Node{labels}, []*Node{logits}),
	}
	m.Optimizer().UpdateGraph(ctx, g, out.Loss)
	return out
}

// NewTrainStepExec returns an executor of one training step for an external training loop.
// It takes the characters `int32[batch_size, max_len]` and labels `int32[batch_size]`, and returns
// the loss, accuracy and predictions; the variables in ctx are updated at every call.
func (m *Model) NewTrainStepExec(backend backends.Backend, ctx *context.Context) *context.Exec {
	return context.NewExec(backend, ctx, func(ctx *context.Context, chars, labels *Node) (loss, accuracy, prediction *Node) {
		out := m.TrainStepGraph(ctx, chars, labels)
		return out.Loss, out.Accuracy, out.Prediction
	})
}

// NewEvalExec returns an executor that evaluates a batch: it takes the characters and the labels and returns
// the loss, accuracy and predictions. It doesn't change the variables.
//
// If the model was already trained with ctx, pass ctx.Reuse().
func (m *Model) NewEvalExec(backend backends.Backend, ctx *context.Context) *context.Exec {
	return context.NewExec(backend, ctx, func(ctx *context.Context, chars, labels *Node) (loss, accuracy, prediction *Node) {
		out := m.BuildGraph(ctx, chars, labels)
		return out.Loss, out.Accuracy, out.Prediction
	})
}

// PredictionGraph returns the arg-max of the logits over the classes axis, as int32.
func PredictionGraph(logits *Node) *Node {
	return ArgMax(logits, -1, dtypes.Int32)
}

// LossGraph implements losses.LossFn: the mean softmax cross-entropy of the logits against the one-hot
// encoded labels. Labels are class ids shaped `[batch_size]` or `[batch_size, 1]`.
func LossGraph(labels, logits []*Node) *Node {
	numClasses := logits[0].Shape().Dimensions[logits[0].Rank()-1]
	oneHot := OneHot(classIds(labels[0]), numClasses, logits[0].DType())
	oneHot = StopGradient(oneHot)
	return ReduceAllMean(losses.CategoricalCrossEntropyLogits([]*Node{oneHot}, logits))
}

// AccuracyGraph implements metrics.BaseMetricGraph: the mean of the elementwise equality of the
// predictions and the labels.
func AccuracyGraph(_ *context.Context, labels, logits []*Node) *Node {
	prediction := PredictionGraph(logits[0])
	ids := ConvertDType(classIds(labels[0]), prediction.DType())
	return ReduceAllMean(ConvertDType(Equal(prediction, ids), logits[0].DType()))
}

// classIds returns the labels shaped `[batch_size]`, removing a trailing axis of dimension 1 if present.
func classIds(labels *Node) *Node {
	if !labels.DType().IsInt() {
		Panicf("labels must be integer class ids, got %s", labels.Shape())
	}
	if labels.Rank() == 2 && labels.Shape().Dimensions[1] == 1 {
		return Reshape(labels, labels.Shape().Dimensions[0])
	}
	labels.AssertRank(1)
	return labels
}

// NewMeanAccuracy returns a metric with the mean accuracy over all the batches seen.
func NewMeanAccuracy(name, shortName string) metrics.Interface {
	return metrics.NewMeanMetric(name, shortName, metrics.AccuracyMetricType, AccuracyGraph, nil)
}

// NewMovingAverageAccuracy returns a metric with the exponential moving average of the accuracy.
func NewMovingAverageAccuracy(name, shortName string, newExampleWeight float64) metrics.Interface {
	return metrics.NewExponentialMovingAverageMetric(name, shortName, metrics.AccuracyMetricType,
		AccuracyGraph, nil, newExampleWeight)
}
