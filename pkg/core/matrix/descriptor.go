// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package matrix describes 2D matrices stored in flat buffers.
//
// A Descriptor maps a logical (row, col) position to the offset of the element in a flat slice.
// It is a pure value: it owns no data, and the same descriptor can address any number of buffers
// (e.g. one per batch element, separated by a fixed stride).
package matrix

import (
	"fmt"

	"github.com/pkg/errors"
)

// Layout of a matrix in its flat buffer.
type Layout int

const (
	// RowMajor stores consecutive columns of a row next to each other. The stride is the
	// distance between the start of two consecutive rows.
	RowMajor Layout = iota

	// ColMajor stores consecutive rows of a column next to each other. The stride is the
	// distance between the start of two consecutive columns.
	ColMajor
)

// String implements fmt.Stringer.
func (l Layout) String() string {
	switch l {
	case RowMajor:
		return "RowMajor"
	case ColMajor:
		return "ColMajor"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// Descriptor maps a 2D index to a flat offset.
type Descriptor struct {
	Rows, Cols int
	Stride     int
	Layout     Layout
}

// Make returns a packed row-major descriptor of shape [rows, cols].
func Make(rows, cols int) Descriptor {
	return Descriptor{Rows: rows, Cols: cols, Stride: cols, Layout: RowMajor}
}

// MakeStrided returns a row-major descriptor of shape [rows, cols] whose rows are `stride`
// elements apart. Used to address a sub-matrix of a larger row-major matrix.
func MakeStrided(rows, cols, stride int) Descriptor {
	return Descriptor{Rows: rows, Cols: cols, Stride: stride, Layout: RowMajor}
}

// MakeColMajor returns a packed column-major descriptor of shape [rows, cols].
func MakeColMajor(rows, cols int) Descriptor {
	return Descriptor{Rows: rows, Cols: cols, Stride: rows, Layout: ColMajor}
}

// Offset returns the flat offset of element (row, col).
func (d Descriptor) Offset(row, col int) int {
	if d.Layout == ColMajor {
		return col*d.Stride + row
	}
	return row*d.Stride + col
}

// RowStride is the offset difference between (row+1, col) and (row, col).
func (d Descriptor) RowStride() int {
	if d.Layout == ColMajor {
		return 1
	}
	return d.Stride
}

// ColStride is the offset difference between (row, col+1) and (row, col).
func (d Descriptor) ColStride() int {
	if d.Layout == ColMajor {
		return d.Stride
	}
	return 1
}

// Size is the number of logical elements, Rows*Cols.
func (d Descriptor) Size() int {
	return d.Rows * d.Cols
}

// ElementSpace is the minimum length of a buffer addressed by the descriptor.
func (d Descriptor) ElementSpace() int {
	if d.Rows == 0 || d.Cols == 0 {
		return 0
	}
	return d.Offset(d.Rows-1, d.Cols-1) + 1
}

// Transposed returns the descriptor of the transposed matrix over the same buffer:
// element (i, j) of the result is element (j, i) of d.
func (d Descriptor) Transposed() Descriptor {
	t := Descriptor{Rows: d.Cols, Cols: d.Rows, Stride: d.Stride, Layout: ColMajor}
	if d.Layout == ColMajor {
		t.Layout = RowMajor
	}
	return t
}

// Validate checks that the dimensions are positive and that the stride doesn't make
// consecutive rows (or columns, for ColMajor) overlap.
func (d Descriptor) Validate() error {
	if d.Rows <= 0 || d.Cols <= 0 {
		return errors.Errorf("matrix %s has non-positive dimensions", d)
	}
	contiguous := d.Cols
	if d.Layout == ColMajor {
		contiguous = d.Rows
	} else if d.Layout != RowMajor {
		return errors.Errorf("matrix %s has unknown layout", d)
	}
	if d.Stride < contiguous {
		return errors.Errorf("matrix %s has stride %d smaller than its contiguous extent %d", d, d.Stride, contiguous)
	}
	return nil
}

// String implements fmt.Stringer.
func (d Descriptor) String() string {
	return fmt.Sprintf("[%d, %d]{stride=%d, %s}", d.Rows, d.Cols, d.Stride, d.Layout)
}
