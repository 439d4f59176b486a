// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptor(t *testing.T) {
	t.Run("RowMajor", func(t *testing.T) {
		d := MakeStrided(3, 4, 6)
		assert.Equal(t, 0, d.Offset(0, 0))
		assert.Equal(t, 6+2, d.Offset(1, 2))
		assert.Equal(t, 6, d.RowStride())
		assert.Equal(t, 1, d.ColStride())
		assert.Equal(t, 2*6+3+1, d.ElementSpace())
		assert.Equal(t, 12, d.Size())
		require.NoError(t, d.Validate())
	})

	t.Run("ColMajor", func(t *testing.T) {
		d := MakeColMajor(3, 4)
		assert.Equal(t, 3*2+1, d.Offset(1, 2))
		assert.Equal(t, 1, d.RowStride())
		assert.Equal(t, 3, d.ColStride())
		assert.Equal(t, 12, d.ElementSpace())
		require.NoError(t, d.Validate())
	})

	t.Run("Transposed", func(t *testing.T) {
		d := MakeStrided(3, 4, 5)
		tr := d.Transposed()
		assert.Equal(t, 4, tr.Rows)
		assert.Equal(t, 3, tr.Cols)
		for row := range d.Rows {
			for col := range d.Cols {
				assert.Equal(t, d.Offset(row, col), tr.Offset(col, row))
			}
		}
		assert.Equal(t, d.ElementSpace(), tr.ElementSpace())
		assert.Equal(t, d, tr.Transposed())
	})

	t.Run("Validate", func(t *testing.T) {
		require.Error(t, MakeStrided(2, 4, 3).Validate())
		require.Error(t, Make(0, 4).Validate())
		require.Error(t, Descriptor{Rows: 2, Cols: 2, Stride: 2, Layout: Layout(7)}.Validate())
		assert.Equal(t, 0, Descriptor{}.ElementSpace())
	})
}
