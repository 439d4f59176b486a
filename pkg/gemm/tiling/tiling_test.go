// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiling

import (
	"fmt"
	"testing"

	"github.com/gomlx/blockgemm/pkg/core/matrix"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/go-cmp/cmp"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenarioBuilder is 64 units computing 4 batch elements of a [16, 16] output, each unit
// owning a 4x4 tile made of 2x2 repeats of a 2x2 sub-tile.
func scenarioBuilder() *Builder {
	return Build(64).
		Batch(4, 1).
		BlockTile(8, 16, 16).
		ThreadTile(4, 4).
		SubTile(2, 2).
		Level0(2, 2).
		Level1(2, 2).
		ReductionChunk(4)
}

func testConfigs(t *testing.T) map[string]*Config {
	return map[string]*Config{
		"scenario": must.M1(scenarioBuilder().Done()),
		"batch-per-thread": must.M1(Build(32).Batch(4, 2).BlockTile(4, 16, 16).ThreadTile(4, 4).
			SubTile(2, 2).Level0(4, 2).Level1(1, 2).ReductionChunk(2).Done()),
		"rectangular": must.M1(Build(8).BlockTile(3, 16, 16).ThreadTile(8, 4).
			SubTile(4, 2).Level0(2, 2).Level1(1, 2).ReductionChunk(1).Done()),
		"flat": must.M1(Build(16).Batch(2, 1).BlockTile(4, 8, 8).ThreadTile(2, 4).
			Flat(ColumnFirst).ReductionChunk(2).Done()),
		"flat-batch-per-thread": must.M1(Build(4).Batch(4, 2).BlockTile(2, 4, 4).ThreadTile(2, 4).
			Flat(ColumnFirst).ReductionChunk(2).BroadcastB().Done()),
	}
}

func TestBuild(t *testing.T) {
	cfg, err := scenarioBuilder().Done()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.K())
	assert.Equal(t, 16, cfg.M())
	assert.Equal(t, 16, cfg.N())
	assert.Equal(t, 4, cfg.BatchThreadWork())
	mRepeat, nRepeat := cfg.Repeats()
	assert.Equal(t, 2, mRepeat)
	assert.Equal(t, 2, nRepeat)
	rowsPerLevel1, colsPerLevel1 := cfg.Level1Extent()
	assert.Equal(t, 8, rowsPerLevel1)
	assert.Equal(t, 8, colsPerLevel1)
	assert.Equal(t, 8*16, cfg.BlockStrideA)
	assert.Equal(t, 8*16, cfg.BlockStrideB)
	assert.Equal(t, 16*16, cfg.BlockStrideC)
	assert.Equal(t, 16, cfg.ThreadStrideC)
	assert.Equal(t, 16, cfg.AccumulatorLen())
	assert.Equal(t, 4*8*16, cfg.SharedLenA())
	assert.Equal(t, uintptr(4*(4*8*16+4*8*16+4*16*16)), cfg.SharedMemoryBytes())
	assert.Equal(t, uintptr(4*(2*(16+16)+16)), cfg.RegisterBytes())

	broadcast := must.M1(scenarioBuilder().BroadcastA().Done())
	assert.Equal(t, 0, broadcast.BlockStrideA)
	assert.Equal(t, 8*16, broadcast.SharedLenA())
}

func TestValidation(t *testing.T) {
	testCases := []struct {
		name    string
		builder *Builder
		want    error
	}{
		{"batch-not-divisible", scenarioBuilder().Batch(4, 3), ErrInvalidConfig},
		{"wrong-block-size", scenarioBuilder().Level1(2, 1), ErrInvalidConfig},
		{"reduction-chunk", scenarioBuilder().ReductionChunk(3), ErrInvalidConfig},
		{"thread-not-divisible-by-sub", scenarioBuilder().ThreadTile(4, 3), ErrInvalidConfig},
		{"sub-tile-mismatch", scenarioBuilder().SubTile(1, 1).ThreadTile(2, 2), ErrInvalidConfig},
		{"level-mismatch", Build(64).Batch(4, 1).BlockTile(8, 32, 16).ThreadTile(4, 4).SubTile(2, 2).
			Level0(2, 2).Level1(2, 2).ReductionChunk(4), ErrInvalidConfig},
		{"missing-tile", Build(64).ThreadTile(4, 4), ErrInvalidConfig},
		{"negative-stride", scenarioBuilder().BlockStrides(-1, 0, 256), ErrInvalidConfig},
		{"overlapping-c", scenarioBuilder().BlockStrides(128, 128, 8), ErrInvalidConfig},
		{"overlapping-accumulators", Build(16).Batch(4, 4).BlockTile(8, 16, 16).ThreadTile(4, 4).SubTile(2, 2).
			Level0(2, 2).Level1(2, 2).ReductionChunk(4).ThreadStrideC(8), ErrInvalidConfig},
		{"flat-work", Build(6).BlockTile(4, 8, 8).ThreadTile(2, 4).Flat(ColumnFirst).ReductionChunk(2),
			ErrInvalidConfig},
		{"flat-row-first", Build(8).BlockTile(4, 8, 8).ThreadTile(2, 4).Flat(RowFirst).ReductionChunk(2),
			ErrNotImplemented},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := tc.builder.Done()
			require.Error(t, err)
			require.Nil(t, cfg)
			fmt.Printf("\t- %s: %v\n", tc.name, err)
			require.Truef(t, errors.Is(err, tc.want), "expected %v, got %+v", tc.want, err)
		})
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse("block=64, batch=4, batch_per_thread=1, tile=8x16x16, thread=4x4, sub=2x2, " +
		"level0=2x2, level1=2x2, chunk=4, broadcast_a, dtype=float64")
	require.NoError(t, err)
	want := must.M1(scenarioBuilder().BroadcastA().DType(dtypes.Float64).Done())
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("Parse() mismatch (-want +got):\n%s", diff)
	}

	// String() is accepted by Parse.
	for name, cfg := range testConfigs(t) {
		t.Run(name, func(t *testing.T) {
			parsed, err := Parse(cfg.String())
			require.NoError(t, err, "parsing %q", cfg.String())
			if diff := cmp.Diff(cfg, parsed); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", cfg.String(), diff)
			}
		})
	}

	for _, bad := range []string{"", "batch=4", "block=64,dtype=complex128", "block=x", "block=4,tile=4x4", "block=4,foo=1",
		"block=4,policy=other", "block=16,tile=4x8x8,thread=2x4,policy=flat,traversal=row,chunk=2",
		scenarioConfig + ",broadcast_a=false", scenarioConfig + ",broadcast_b=1", scenarioConfig + ",packed=false"} {
		_, err := Parse(bad)
		require.Errorf(t, err, "Parse(%q) should have failed", bad)
		require.True(t, errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrNotImplemented), "Parse(%q): %+v", bad, err)
	}
	_, err = Parse(scenarioConfig + ",packed=true")
	require.NoError(t, err)

	_, err = Parse(scenarioConfig + ",chunks=2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"chunks"`)
}

// scenarioConfig is scenarioBuilder in the format accepted by Parse.
const scenarioConfig = "block=64,batch=4,tile=8x16x16,thread=4x4,sub=2x2,level0=2x2,level1=2x2,chunk=4"

func TestPacked(t *testing.T) {
	for name, cfg := range testConfigs(t) {
		assert.Truef(t, cfg.Packed(), "config %q", name)
		assert.NotContains(t, cfg.String(), "packed")
	}

	for name, builder := range map[string]*Builder{
		"col-major-a": scenarioBuilder().BlockMatrices(
			matrix.MakeColMajor(8, 16), matrix.Make(8, 16), matrix.Make(16, 16)),
		"padded-c": scenarioBuilder().BlockMatrices(
			matrix.Make(8, 16), matrix.Make(8, 16), matrix.MakeStrided(16, 16, 17)),
		"block-strides":  scenarioBuilder().BlockStrides(256, 128, 256),
		"thread-strides": Build(32).Batch(4, 2).BlockTile(4, 16, 16).ThreadTile(4, 4).
			SubTile(2, 2).Level0(4, 2).Level1(1, 2).ReductionChunk(2).ThreadStrideC(20),
	} {
		t.Run(name, func(t *testing.T) {
			cfg := must.M1(builder.Done())
			require.False(t, cfg.Packed())
			_, err := Parse(cfg.String())
			require.Errorf(t, err, "Parse(%q) should reject a configuration it can't express", cfg.String())
		})
	}
}

func TestOrigin(t *testing.T) {
	t.Run("Cluster", func(t *testing.T) {
		mapping := NewMapping(must.M1(scenarioBuilder().Done()))
		got := map[int]Coord{}
		for _, unit := range []int{0, 1, 2, 4, 8, 15, 16, 63} {
			got[unit] = mapping.Origin(unit)
		}
		want := map[int]Coord{
			0:  {0, 0, 0},
			1:  {0, 0, 2},
			2:  {0, 2, 0},
			4:  {0, 0, 4},
			8:  {0, 4, 0},
			15: {0, 6, 6},
			16: {1, 0, 0},
			63: {3, 6, 6},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Origin() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Flat", func(t *testing.T) {
		mapping := NewMapping(testConfigs(t)["flat"])
		assert.Equal(t, Coord{0, 0, 0}, mapping.Origin(0))
		assert.Equal(t, Coord{0, 0, 4}, mapping.Origin(1))
		assert.Equal(t, Coord{0, 2, 4}, mapping.Origin(3))
		assert.Equal(t, Coord{1, 0, 4}, mapping.Origin(9))
		assert.Equal(t, Coord{1, 6, 4}, mapping.Origin(15))
	})

	t.Run("OutOfRange", func(t *testing.T) {
		mapping := NewMapping(must.M1(scenarioBuilder().Done()))
		err := exceptions.TryCatch[error](func() { mapping.Origin(64) })
		require.Error(t, err)
		err = exceptions.TryCatch[error](func() { mapping.Origin(-1) })
		require.Error(t, err)
	})
}

// TestTilingCoverage checks that the tiles of all units cover the output exactly once.
func TestTilingCoverage(t *testing.T) {
	for name, cfg := range testConfigs(t) {
		t.Run(name, func(t *testing.T) {
			owners := make(map[Coord]int)
			var count int
			EnumerateTiles(cfg, func(unit int, pos Coord) {
				count++
				require.GreaterOrEqual(t, pos.Batch, 0)
				require.Less(t, pos.Batch, cfg.BatchSize)
				require.GreaterOrEqual(t, pos.Row, 0)
				require.Less(t, pos.Row, cfg.M())
				require.GreaterOrEqual(t, pos.Col, 0)
				require.Less(t, pos.Col, cfg.N())
				if previous, found := owners[pos]; found {
					t.Fatalf("position %s owned by units %d and %d", pos, previous, unit)
				}
				owners[pos] = unit
			})
			require.Equal(t, cfg.BatchSize*cfg.M()*cfg.N(), count)
			require.Len(t, owners, count)
		})
	}
}

// TestDistance checks Distance against the origin of each repeat, computed directly.
func TestDistance(t *testing.T) {
	for name, cfg := range testConfigs(t) {
		t.Run(name, func(t *testing.T) {
			mapping := NewMapping(cfg)
			require.Equal(t, Coord{}, mapping.Distance(0, 0, 0))
			subRows, subCols := mapping.SubTile()
			mRepeat, nRepeat := mapping.Repeats()
			rowStride, colStride := mapping.RepeatStride()
			require.Equal(t, cfg.MPerThread(), mRepeat*subRows)
			require.Equal(t, cfg.NPerThread(), nRepeat*subCols)

			for unit := range cfg.BlockSize {
				origin := mapping.Origin(unit)
				offsetC := origin.Batch*cfg.BlockStrideC + cfg.BlockC.Offset(origin.Row, origin.Col)
				for batch := range cfg.BatchPerThread {
					for mr := range mRepeat {
						for nr := range nRepeat {
							for i := range subRows {
								for j := range subCols {
									d := mapping.Distance(batch, mr*subRows+i, nr*subCols+j)
									direct := Coord{
										Batch: origin.Batch + batch,
										Row:   origin.Row + mr*rowStride + i,
										Col:   origin.Col + nr*colStride + j,
									}
									require.Equal(t, direct, origin.Add(d))
									require.Equal(t,
										direct.Batch*cfg.BlockStrideC+cfg.BlockC.Offset(direct.Row, direct.Col),
										offsetC+d.Batch*cfg.BlockStrideC+cfg.BlockC.Offset(d.Row, d.Col))
								}
							}
						}
					}
				}
			}
		})
	}
}
