// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"flag"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIota(t *testing.T) {
	assert.Equal(t, []float64{3, 4}, Iota(3.0, 2))
	assert.Equal(t, []int32{0, 1, 2}, Iota(int32(0), 3))
	assert.Equal(t, []float32{-1, 0, 1, -1, 0}, Cycle(float32(-1), 3, 5))
	assert.Equal(t, []int{7, 7, 7}, SliceWithValue(3, 7))
	assert.Equal(t, []string{"0", "1"}, Map([]int{0, 1}, strconv.Itoa))
}

func TestMaxAbsDiff(t *testing.T) {
	diff, idx := MaxAbsDiff([]float32{1, 2, 3}, []float32{1, 2.5, 2.75})
	assert.InDelta(t, 0.5, diff, 1e-6)
	assert.Equal(t, 1, idx)

	diff, idx = MaxAbsDiff([]int{1}, []int{1, 2})
	assert.True(t, math.IsInf(diff, 1))
	assert.Equal(t, -1, idx)

	assert.True(t, InDelta([]float64{1, 2}, []float64{1.01, 1.99}, 0.02))
	assert.False(t, InDelta([]float64{1, 2}, []float64{1.01, 1.9}, 0.02))
	assert.False(t, InDelta([]float64{math.NaN()}, []float64{1}, 1))
}

func TestFlag(t *testing.T) {
	chunks := Flag("test_chunks", []int{1, 2}, "chunks", strconv.Atoi)
	assert.Equal(t, []int{1, 2}, *chunks)
	require.NoError(t, flag.Set("test_chunks", "4, 8,16"))
	assert.Equal(t, []int{4, 8, 16}, *chunks)
	assert.Equal(t, "4,8,16", flag.Lookup("test_chunks").Value.String())
	require.Error(t, flag.Set("test_chunks", "4,x"))
}
