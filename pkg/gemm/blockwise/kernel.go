// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package blockwise

import (
	"github.com/gomlx/blockgemm/pkg/core/matrix"
	"github.com/gomlx/blockgemm/pkg/core/threadwise"
	"github.com/gomlx/blockgemm/pkg/gemm/tiling"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// ErrKernelShape is returned when a kernel cannot handle the accumulator tile of a configuration.
var ErrKernelShape = errors.New("kernel doesn't support the tile shape")

// Kernel accumulates one staged reduction chunk into a unit's accumulator tile:
// c += transpose(a) x b, with a as [chunk, MPerThread], b as [chunk, NPerThread] and c as ThreadC.
type Kernel[TA, TB, TC any] interface {
	// Name of the kernel, for logging.
	Name() string

	// Check returns an error wrapping ErrKernelShape if the kernel can't be used with cfg.
	Check(cfg *tiling.Config) error

	// Accumulate folds the products of the register tiles into c.
	Accumulate(aDesc matrix.Descriptor, a []TA, bDesc matrix.Descriptor, b []TB, cDesc matrix.Descriptor, c []TC)
}

// genericKernel works for any shape, using threadwise.Gemm.
type genericKernel[TA, TB, TC any] struct {
	accum threadwise.Accumulator[TA, TB, TC]
}

// Generic returns the kernel that handles any tile shape with the given accumulator function.
func Generic[TA, TB, TC any](accum threadwise.Accumulator[TA, TB, TC]) Kernel[TA, TB, TC] {
	return genericKernel[TA, TB, TC]{accum: accum}
}

func (genericKernel[TA, TB, TC]) Name() string { return "generic" }

func (genericKernel[TA, TB, TC]) Check(*tiling.Config) error { return nil }

func (k genericKernel[TA, TB, TC]) Accumulate(
	aDesc matrix.Descriptor, a []TA, bDesc matrix.Descriptor, b []TB, cDesc matrix.Descriptor, c []TC) {
	threadwise.Gemm(aDesc, a, bDesc, b, cDesc, c, k.accum)
}

const (
	unrolledRows = 16
	unrolledCols = 4
)

// unrolled16x4 is the float32 fast path for 16x4 accumulator tiles.
type unrolled16x4 struct{}

// Unrolled16x4 returns the float32 kernel specialized for [16, 4] row-major accumulator tiles.
// It processes 4 output columns per step and produces the same bits as Generic(threadwise.MulAdd[float32]).
func Unrolled16x4() Kernel[float32, float32, float32] {
	return unrolled16x4{}
}

func (unrolled16x4) Name() string { return "unrolled16x4" }

func (unrolled16x4) Check(cfg *tiling.Config) error {
	if cfg.DType != dtypes.Float32 {
		return errors.Wrapf(ErrKernelShape, "unrolled16x4 requires Float32, got %s", cfg.DType)
	}
	if cfg.ThreadC.Rows != unrolledRows || cfg.ThreadC.Cols != unrolledCols || cfg.ThreadC.Layout != matrix.RowMajor {
		return errors.Wrapf(ErrKernelShape, "unrolled16x4 requires a [%d, %d] row-major thread tile, got %s",
			unrolledRows, unrolledCols, cfg.ThreadC)
	}
	return nil
}

// Accumulate requires packed row-major register tiles, which is what the Scheduler stages,
// and panics otherwise.
func (unrolled16x4) Accumulate(
	aDesc matrix.Descriptor, a []float32, bDesc matrix.Descriptor, b []float32, cDesc matrix.Descriptor, c []float32) {
	chunk := aDesc.Rows
	if aDesc != matrix.Make(chunk, unrolledRows) || bDesc != matrix.Make(chunk, unrolledCols) {
		exceptions.Panicf("unrolled16x4: register tiles must be packed [%d, %d] and [%d, %d], got A=%s, B=%s",
			chunk, unrolledRows, chunk, unrolledCols, aDesc, bDesc)
	}
	if cDesc.Rows != unrolledRows || cDesc.Cols != unrolledCols || cDesc.Layout != matrix.RowMajor {
		exceptions.Panicf("unrolled16x4: accumulator must be a row-major [%d, %d] tile, got %s",
			unrolledRows, unrolledCols, cDesc)
	}
	stride := cDesc.Stride
	_ = c[(unrolledRows-1)*stride+unrolledCols-1]
	for k := range aDesc.Rows {
		rowA := a[k*unrolledRows : k*unrolledRows+unrolledRows]
		rowB := b[k*unrolledCols : k*unrolledCols+unrolledCols]
		b0, b1, b2, b3 := rowB[0], rowB[1], rowB[2], rowB[3]
		for i, valA := range rowA {
			rowC := c[i*stride : i*stride+unrolledCols]
			rowC[0] += float32(valA * b0)
			rowC[1] += float32(valA * b1)
			rowC[2] += float32(valA * b2)
			rowC[3] += float32(valA * b3)
		}
	}
}

// SelectFloat32Kernel returns Unrolled16x4 if it supports cfg exactly, and otherwise the generic kernel.
func SelectFloat32Kernel(cfg *tiling.Config) Kernel[float32, float32, float32] {
	fast := Unrolled16x4()
	if fast.Check(cfg) == nil {
		return fast
	}
	return Generic(threadwise.MulAdd[float32])
}
