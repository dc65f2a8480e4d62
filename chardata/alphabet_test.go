// Copyright 2025 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package chardata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultAlphabet(t *testing.T) {
	assert.Equal(t, 69, DefaultAlphabet.Size())
	assert.Equal(t, int32(1), DefaultAlphabet.Id('a'))
	assert.Equal(t, int32(27), DefaultAlphabet.Id('0'))
	assert.Equal(t, int32(69), DefaultAlphabet.Id('\n'))
	assert.Equal(t, int32(1), DefaultAlphabet.Id('A'), "upper case should fall back to lower case")
	assert.Equal(t, int32(Padding), DefaultAlphabet.Id(' '))
	assert.Equal(t, int32(Padding), DefaultAlphabet.Id('é'))
}

func TestNewAlphabet(t *testing.T) {
	_, err := NewAlphabet("abca")
	require.Error(t, err)
	_, err = NewAlphabet("")
	require.Error(t, err)
	require.Panics(t, func() { _ = MustNewAlphabet("aa") })

	a, err := NewAlphabet("xyzX")
	require.NoError(t, err)
	assert.Equal(t, 4, a.Size())
	assert.Equal(t, "xyzX", a.String())
	assert.Equal(t, int32(4), a.Id('X'), "characters in the alphabet are not lower cased")
	assert.Equal(t, int32(2), a.Id('Y'))
	assert.Equal(t, int32(Padding), a.Id('w'))
}

func TestEncode(t *testing.T) {
	a := MustNewAlphabet("abc")
	assert.Equal(t, []int32{1, 2, 0, 3, 0, 0}, a.Encode("ab-c", 6))
	assert.Equal(t, []int32{3, 3}, a.Encode("cccab", 2))
	assert.Equal(t, []int32{0, 0, 0}, a.Encode("", 3))
	assert.Equal(t, []int32{}, a.Encode("abc", 0))

	ids := []int32{9, 9, 9, 9}
	a.EncodeTo("BA", ids)
	assert.Equal(t, []int32{2, 1, 0, 0}, ids)
}

func TestDecode(t *testing.T) {
	a := MustNewAlphabet("abc")
	assert.Equal(t, "ab_c", a.Decode([]int32{1, 2, 0, 3, 0, 0}, '_'))
	assert.Equal(t, "a__", a.Decode([]int32{1, 7, -1}, '_'))
	assert.Equal(t, "", a.Decode([]int32{0, 0}, '_'))
	assert.Equal(t, "abc", a.Decode(a.Encode("ABC and more", 3), '_'))
}
