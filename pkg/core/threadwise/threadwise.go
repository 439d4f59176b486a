// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package threadwise implements the operations a single execution unit performs on small tiles
// it owns: element-by-element copies between described regions and a fully unrolled
// multiply-accumulate.
//
// Nothing here synchronizes: callers guarantee that the destination regions are exclusively owned.
package threadwise

import (
	"github.com/gomlx/blockgemm/pkg/core/matrix"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// Accumulator folds the product of a and b into c, typically `*c += a*b`.
type Accumulator[TA, TB, TC any] func(c *TC, a TA, b TB)

// Number is the set of Go types MulAdd accepts.
type Number interface {
	constraints.Integer | constraints.Float
}

// MulAdd is the default Accumulator: *c += a*b.
//
// The product is explicitly rounded to T before the addition, so the compiler won't fuse it into an
// FMA instruction, and all accumulation kernels produce the same bits.
func MulAdd[T Number](c *T, a, b T) {
	*c += T(a * b)
}

// MulAddFloat16 accumulates the product of two half-precision values into a float32 accumulator.
// Accumulating directly in float16 loses too much precision for long reductions.
func MulAddFloat16(c *float32, a, b float16.Float16) {
	*c += float32(a.Float32() * b.Float32())
}

// Copy copies the [rows, cols] region starting at the origin of src into the origin of dst.
// src and dst are the buffers already sliced at the region origins.
func Copy[T any](srcDesc matrix.Descriptor, src []T, dstDesc matrix.Descriptor, dst []T, rows, cols int) {
	if srcDesc.Layout == matrix.RowMajor && dstDesc.Layout == matrix.RowMajor {
		for row := range rows {
			srcIdx := row * srcDesc.Stride
			dstIdx := row * dstDesc.Stride
			copy(dst[dstIdx:dstIdx+cols], src[srcIdx:srcIdx+cols])
		}
		return
	}
	for row := range rows {
		for col := range cols {
			dst[dstDesc.Offset(row, col)] = src[srcDesc.Offset(row, col)]
		}
	}
}

// Gemm accumulates c += transpose(a) x b using accum.
//
// Both operands are reduction-major: a is described as [K, M], b as [K, N] and c as [M, N].
// For each output element the reduction terms are accumulated in increasing k order.
func Gemm[TA, TB, TC any](
	aDesc matrix.Descriptor, a []TA,
	bDesc matrix.Descriptor, b []TB,
	cDesc matrix.Descriptor, c []TC,
	accum Accumulator[TA, TB, TC]) {
	contractingSize := aDesc.Rows
	rows, cols := cDesc.Rows, cDesc.Cols
	for k := range contractingSize {
		for i := range rows {
			valA := a[aDesc.Offset(k, i)]
			for j := range cols {
				accum(&c[cDesc.Offset(i, j)], valA, b[bDesc.Offset(k, j)])
			}
		}
	}
}
