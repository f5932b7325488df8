// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundedMean(t *testing.T) {
	patterns := []struct {
		name string
		sum  int64
		n    int64
		want int64
	}{
		{"exact", 400, 4, 100},
		{"below half", 401, 4, 100},
		{"above half", 403, 4, 101},
		{"half to even down", 402, 4, 100},
		{"half to even up", 406, 4, 102},
		{"single", 7, 1, 7},
		{"negative exact", -400, 4, -100},
		{"negative below half", -401, 4, -100},
		{"negative above half", -403, 4, -101},
		{"negative half to even", -402, 4, -100},
		{"negative half to even odd", -406, 4, -102},
		{"negative half from zero", -2, 4, 0},
		{"half at zero", 2, 4, 0},
		{"half at one", 6, 4, 2},
	}
	for _, p := range patterns {
		tf := func(t *testing.T) {
			assert.Equal(t, p.want, roundedMean(p.sum, p.n))
		}
		t.Run(p.name, tf)
	}
}

func TestAccumulator(t *testing.T) {
	a := accumulator{n: 4}
	for _, v := range []int32{100, 101, 99} {
		_, ok := a.add(v)
		assert.False(t, ok)
	}
	m, ok := a.add(102)
	assert.True(t, ok)
	assert.Equal(t, 100, m)

	// restarts after each mean
	for _, v := range []int32{101, 102, 101} {
		_, ok = a.add(v)
		assert.False(t, ok)
	}
	m, ok = a.add(102)
	assert.True(t, ok)
	assert.Equal(t, 102, m)

	a = accumulator{n: 1}
	m, ok = a.add(-5)
	assert.True(t, ok)
	assert.Equal(t, -5, m)
}
