// Copyright 2025 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package chardata converts labeled texts into character ids datasets for the charcnn model.
//
// Texts are quantized with an Alphabet: each known character becomes its 1-based position in the
// alphabet, and anything else (including padding) becomes 0.
package chardata

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// DefaultCharacters are the characters used by Zhang et al. (2015): 26 letters, 10 digits,
// 32 other characters and the new line character.
const DefaultCharacters = "abcdefghijklmnopqrstuvwxyz0123456789-,;.!?:'\"/\\|_@#$%^&*~`+=<>()[]{}\n"

// Padding is the id of padding and unknown characters.
const Padding = 0

// Alphabet maps characters to ids and back.
type Alphabet struct {
	chars []rune
	ids   map[rune]int32
}

// DefaultAlphabet built from DefaultCharacters.
var DefaultAlphabet = MustNewAlphabet(DefaultCharacters)

// NewAlphabet creates an alphabet with the given characters, in order. Characters can't be repeated.
func NewAlphabet(chars string) (*Alphabet, error) {
	a := &Alphabet{ids: make(map[rune]int32)}
	for _, r := range chars {
		if _, found := a.ids[r]; found {
			return nil, errors.Errorf("character %q repeated in alphabet %q", r, chars)
		}
		a.chars = append(a.chars, r)
		a.ids[r] = int32(len(a.chars))
	}
	if len(a.chars) == 0 {
		return nil, errors.New("alphabet can't be empty")
	}
	return a, nil
}

// MustNewAlphabet is like NewAlphabet, but panics on error.
func MustNewAlphabet(chars string) *Alphabet {
	a, err := NewAlphabet(chars)
	if err != nil {
		panic(err)
	}
	return a
}

// Size returns the number of characters in the alphabet. Ids go from 1 to Size.
func (a *Alphabet) Size() int {
	return len(a.chars)
}

// String returns the characters of the alphabet.
func (a *Alphabet) String() string {
	return string(a.chars)
}

// Id returns the id of the rune, or Padding if it is not in the alphabet.
// Upper case letters not in the alphabet are looked up in lower case.
func (a *Alphabet) Id(r rune) int32 {
	if id, found := a.ids[r]; found {
		return id
	}
	if lower := unicode.ToLower(r); lower != r {
		return a.ids[lower]
	}
	return Padding
}

// Encode text into maxLen character ids. Longer texts are truncated, shorter ones padded at the end
// with Padding.
func (a *Alphabet) Encode(text string, maxLen int) []int32 {
	ids := make([]int32, maxLen)
	a.EncodeTo(text, ids)
	return ids
}

// EncodeTo encodes text into ids, truncating or padding it to len(ids).
func (a *Alphabet) EncodeTo(text string, ids []int32) {
	ii := 0
	for _, r := range text {
		if ii >= len(ids) {
			break
		}
		ids[ii] = a.Id(r)
		ii++
	}
	for ; ii < len(ids); ii++ {
		ids[ii] = Padding
	}
}

// Decode converts ids back to text. Padding and unknown characters are converted to placeholder,
// and trailing padding is dropped.
func (a *Alphabet) Decode(ids []int32, placeholder rune) string {
	end := len(ids)
	for end > 0 && ids[end-1] == Padding {
		end--
	}
	var sb strings.Builder
	for _, id := range ids[:end] {
		if id <= 0 || int(id) > len(a.chars) {
			sb.WriteRune(placeholder)
			continue
		}
		sb.WriteRune(a.chars[id-1])
	}
	return sb.String()
}
