// Copyright 2025 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package chardata

import (
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
)

// Examples holds labeled texts.
type Examples struct {
	Texts  []string
	Labels []int32
}

// Len returns the number of examples.
func (e *Examples) Len() int {
	return len(e.Texts)
}

// NumClasses returns the largest label + 1.
func (e *Examples) NumClasses() int {
	maxLabel := int32(-1)
	for _, l := range e.Labels {
		maxLabel = max(maxLabel, l)
	}
	return int(maxLabel) + 1
}

// Shuffle the examples in place, using the given random source.
func (e *Examples) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(e.Texts), func(i, j int) {
		e.Texts[i], e.Texts[j] = e.Texts[j], e.Texts[i]
		e.Labels[i], e.Labels[j] = e.Labels[j], e.Labels[i]
	})
}

// Split the examples in two: the first holds the given fraction of the examples, the second the rest.
// The underlying slices are shared.
func (e *Examples) Split(fraction float64) (first, second *Examples) {
	n := int(fraction * float64(len(e.Texts)))
	n = min(max(n, 0), len(e.Texts))
	first = &Examples{Texts: e.Texts[:n], Labels: e.Labels[:n]}
	second = &Examples{Texts: e.Texts[n:], Labels: e.Labels[n:]}
	return
}

// LoadCSV reads labeled texts from CSV rows shaped `label,text[,text...]`: the first column is an integer
// label, and the remaining columns are joined with a space to form the text (e.g.: title and description in
// the AG News dataset).
//
// labelOffset is subtracted from the labels, so they start at 0: AG News labels for instance start at 1.
func LoadCSV(r io.Reader, labelOffset int) (*Examples, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(false),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to parse CSV")
	}
	numRows, numCols := df.Dims()
	if numCols < 2 {
		return nil, errors.Errorf("CSV must have at least 2 columns (label and text), got %d", numCols)
	}
	examples := &Examples{
		Texts:  make([]string, numRows),
		Labels: make([]int32, numRows),
	}
	parts := make([]string, numCols-1)
	for row := range numRows {
		labelStr := strings.TrimSpace(df.Elem(row, 0).String())
		label, err := strconv.Atoi(labelStr)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid label %q in row %d", labelStr, row)
		}
		label -= labelOffset
		if label < 0 {
			return nil, errors.Errorf("label %q in row %d is smaller than the label offset %d", labelStr, row, labelOffset)
		}
		examples.Labels[row] = int32(label)
		for col := 1; col < numCols; col++ {
			parts[col-1] = df.Elem(row, col).String()
		}
		examples.Texts[row] = strings.Join(parts, " ")
	}
	return examples, nil
}

// LoadCSVFile opens the file and calls LoadCSV.
func LoadCSVFile(path string, labelOffset int) (*Examples, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()
	examples, err := LoadCSV(f, labelOffset)
	if err != nil {
		return nil, errors.WithMessagef(err, "while loading %q", path)
	}
	return examples, nil
}
