// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package threadwise

import (
	"testing"

	"github.com/gomlx/blockgemm/pkg/core/matrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestCopy(t *testing.T) {
	// src is a [4, 6] row-major matrix, we copy the [2, 3] sub-matrix starting at (1, 2).
	src := make([]int32, 24)
	for i := range src {
		src[i] = int32(i)
	}
	srcDesc := matrix.Make(4, 6)
	dstDesc := matrix.MakeStrided(2, 3, 5)
	dst := make([]int32, dstDesc.ElementSpace())
	Copy(srcDesc, src[srcDesc.Offset(1, 2):], dstDesc, dst, 2, 3)
	assert.Equal(t, []int32{8, 9, 10, 0, 0, 14, 15, 16}, dst)

	t.Run("ColMajor", func(t *testing.T) {
		colDesc := matrix.MakeColMajor(2, 3)
		colDst := make([]int32, colDesc.ElementSpace())
		Copy(srcDesc, src[srcDesc.Offset(1, 2):], colDesc, colDst, 2, 3)
		assert.Equal(t, []int32{8, 14, 9, 15, 10, 16}, colDst)
	})
}

func TestGemm(t *testing.T) {
	// a = [[1, 2], [3, 4], [5, 6]] is [K=3, M=2], b = [[1, 0, 2], [0, 1, 1], [1, 1, 0]] is [K=3, N=3].
	a := []float32{1, 2, 3, 4, 5, 6}
	b := []float32{1, 0, 2, 0, 1, 1, 1, 1, 0}
	c := []float32{100, 0, 0, 0, 0, 0}
	Gemm(matrix.Make(3, 2), a, matrix.Make(3, 3), b, matrix.Make(2, 3), c, MulAdd[float32])
	// c[i][j] = initial + sum_k a[k][i]*b[k][j]
	want := []float32{100 + 1 + 5, 3 + 5, 2 + 3, 2 + 6, 4 + 6, 4 + 4}
	require.Equal(t, want, c)

	t.Run("TransposedDescriptor", func(t *testing.T) {
		// Same a, but stored as [M, K] and addressed through a transposed descriptor.
		aT := []float32{1, 3, 5, 2, 4, 6}
		c2 := []float32{100, 0, 0, 0, 0, 0}
		Gemm(matrix.Make(2, 3).Transposed(), aT, matrix.Make(3, 3), b, matrix.Make(2, 3), c2, MulAdd[float32])
		require.Equal(t, want, c2)
	})

	t.Run("Float16", func(t *testing.T) {
		a16 := make([]float16.Float16, len(a))
		b16 := make([]float16.Float16, len(b))
		for i, v := range a {
			a16[i] = float16.Fromfloat32(v)
		}
		for i, v := range b {
			b16[i] = float16.Fromfloat32(v)
		}
		c3 := []float32{100, 0, 0, 0, 0, 0}
		Gemm(matrix.Make(3, 2), a16, matrix.Make(3, 3), b16, matrix.Make(2, 3), c3, MulAddFloat16)
		require.Equal(t, want, c3)
	})
}
