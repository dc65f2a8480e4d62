// Copyright 2025 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package chardata

import (
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

// Tensors converts the examples to tensors: the characters ids shaped `int32[num_examples, maxLen]` and
// the labels shaped `int32[num_examples]`.
func (e *Examples) Tensors(alphabet *Alphabet, maxLen int) (chars, labels *tensors.Tensor) {
	flat := make([]int32, e.Len()*maxLen)
	for ii, text := range e.Texts {
		alphabet.EncodeTo(text, flat[ii*maxLen:(ii+1)*maxLen])
	}
	chars = tensors.FromFlatDataAndDimensions(flat, e.Len(), maxLen)
	labels = tensors.FromFlatDataAndDimensions(append([]int32(nil), e.Labels...), e.Len())
	return
}

// NewDataset creates an in-memory dataset for training or evaluation. Each yielded batch has one input, the
// characters ids shaped `int32[batch_size, maxLen]`, and one label, the class ids shaped `int32[batch_size]`.
//
// Configure batch size, shuffling and looping with the returned data.InMemoryDataset methods.
func NewDataset(backend backends.Backend, name string, examples *Examples, alphabet *Alphabet, maxLen int) (*data.InMemoryDataset, error) {
	if examples.Len() == 0 {
		return nil, errors.Errorf("no examples to create dataset %q", name)
	}
	chars, labels := examples.Tensors(alphabet, maxLen)
	ds, err := data.InMemoryFromData(backend, name, []any{chars}, []any{labels})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create dataset %q", name)
	}
	return ds, nil
}
