// Copyright 2025 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package charcnn

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/pkg/errors"

	"github.com/gomlx/charcnn/chardata"
)

// Classifier predicts the class of texts with a trained model.
type Classifier struct {
	model    *Model
	alphabet *chardata.Alphabet
	exec     *context.Exec
}

// NewClassifier creates a Classifier using the variables of a trained model in ctx, under ModelScope.
// The variables must already exist, either trained or loaded from a checkpoint.
func NewClassifier(backend backends.Backend, ctx *context.Context, model *Model, alphabet *chardata.Alphabet) (*Classifier, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if alphabet.Size() != model.Config.AlphabetSize {
		return nil, errors.Errorf("alphabet size %d doesn't match the model alphabet size %d",
			alphabet.Size(), model.Config.AlphabetSize)
	}
	ctx = ctx.In(ModelScope).Reuse()
	c := &Classifier{model: model, alphabet: alphabet}
	c.exec = context.NewExec(backend, ctx, func(ctx *context.Context, chars *Node) *Node {
		return model.BuildGraph(ctx, chars, nil).Prediction
	})
	return c, nil
}

// Classify returns the predicted class of each text.
func (c *Classifier) Classify(texts []string) ([]int, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	examples := &chardata.Examples{Texts: texts, Labels: make([]int32, len(texts))}
	chars, _ := examples.Tensors(c.alphabet, c.model.Config.MaxLen)
	var classes []int
	err := exceptions.TryCatch[error](func() {
		prediction := c.exec.Call(chars)[0]
		ids := prediction.Value().([]int32)
		classes = make([]int, len(ids))
		for ii, id := range ids {
			classes[ii] = int(id)
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to classify texts")
	}
	return classes, nil
}
