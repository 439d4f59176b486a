// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiling

import (
	"fmt"

	"github.com/gomlx/exceptions"
)

// Coord is a position in the block-level output tile.
type Coord struct {
	Batch, Row, Col int
}

// Add returns the element-wise sum of two coordinates.
func (c Coord) Add(other Coord) Coord {
	return Coord{Batch: c.Batch + other.Batch, Row: c.Row + other.Row, Col: c.Col + other.Col}
}

// String implements fmt.Stringer.
func (c Coord) String() string {
	return fmt.Sprintf("{batch=%d, row=%d, col=%d}", c.Batch, c.Row, c.Col)
}

// Mapping assigns sub-tiles of the block-level output to execution units.
//
// The union of the tiles of all units covers the output tile exactly once.
type Mapping interface {
	// Origin returns the top-left corner of the first sub-tile owned by the unit,
	// with unit in [0, BlockSize).
	Origin(unit int) Coord

	// Distance converts a position (batch, row, col) inside a unit's accumulator tile to the
	// distance from the unit's Origin in the block-level output tile.
	Distance(batch, row, col int) Coord

	// SubTile is the shape of one contiguous piece of a unit's tile.
	SubTile() (rows, cols int)

	// Repeats is the number of sub-tiles a unit owns along rows and columns.
	Repeats() (rows, cols int)

	// RepeatStride is the distance in the output tile between two consecutive repeats of a unit.
	RepeatStride() (rows, cols int)
}

// NewMapping returns the mapping for the configuration's policy.
func NewMapping(cfg *Config) Mapping {
	if cfg.Policy == PolicyFlat {
		return newFlatMapping(cfg)
	}
	return &ClusterMapping{cfg: cfg}
}

func checkUnit(cfg *Config, unit int) {
	if unit < 0 || unit >= cfg.BlockSize {
		exceptions.Panicf("unit id %d out of range [0, %d)", unit, cfg.BlockSize)
	}
}

// FlatMapping decomposes the unit id into (batch, row, col) work items, with the column work
// varying fastest.
type FlatMapping struct {
	cfg          *Config
	mWork, nWork int
}

var _ Mapping = (*FlatMapping)(nil)

func newFlatMapping(cfg *Config) *FlatMapping {
	return &FlatMapping{
		cfg:   cfg,
		mWork: (cfg.M() + cfg.MPerThread() - 1) / cfg.MPerThread(),
		nWork: (cfg.N() + cfg.NPerThread() - 1) / cfg.NPerThread(),
	}
}

// Origin implements Mapping.
func (f *FlatMapping) Origin(unit int) Coord {
	checkUnit(f.cfg, unit)
	perBatch := f.mWork * f.nWork
	batchWork := unit / perBatch
	rest := unit - batchWork*perBatch
	mWork := rest / f.nWork
	nWork := rest - mWork*f.nWork
	return Coord{
		Batch: batchWork * f.cfg.BatchPerThread,
		Row:   mWork * f.cfg.MPerThread(),
		Col:   nWork * f.cfg.NPerThread(),
	}
}

// Distance implements Mapping. A flat tile is contiguous, so it is the identity.
func (f *FlatMapping) Distance(batch, row, col int) Coord {
	return Coord{Batch: batch, Row: row, Col: col}
}

// SubTile implements Mapping.
func (f *FlatMapping) SubTile() (rows, cols int) { return f.cfg.MPerThread(), f.cfg.NPerThread() }

// Repeats implements Mapping.
func (f *FlatMapping) Repeats() (rows, cols int) { return 1, 1 }

// RepeatStride implements Mapping.
func (f *FlatMapping) RepeatStride() (rows, cols int) { return f.cfg.M(), f.cfg.N() }

// ClusterMapping decomposes the unit id into a batch work id, a Level1 cluster position and a
// Level0 position inside it. Each unit owns Repeats() sub-tiles, RepeatStride() apart.
type ClusterMapping struct {
	cfg *Config
}

var _ Mapping = (*ClusterMapping)(nil)

// Origin implements Mapping.
func (m *ClusterMapping) Origin(unit int) Coord {
	cfg := m.cfg
	checkUnit(cfg, unit)
	threadsPerLevel0 := cfg.Level0.Size()
	threadsPerLevel1 := threadsPerLevel0 * cfg.Level1.Size()

	batchWork := unit / threadsPerLevel1
	clusterID := unit - batchWork*threadsPerLevel1

	level1ID := clusterID / threadsPerLevel0
	level1Row := level1ID / cfg.Level1.Cols
	level1Col := level1ID % cfg.Level1.Cols

	level0ID := clusterID % threadsPerLevel0
	level0Row := level0ID / cfg.Level0.Cols
	level0Col := level0ID % cfg.Level0.Cols

	rowsPerLevel0 := cfg.SubRows * cfg.Level0.Rows
	colsPerLevel0 := cfg.SubCols * cfg.Level0.Cols
	return Coord{
		Batch: batchWork * cfg.BatchPerThread,
		Row:   level1Row*rowsPerLevel0 + level0Row*cfg.SubRows,
		Col:   level1Col*colsPerLevel0 + level0Col*cfg.SubCols,
	}
}

// Distance implements Mapping.
func (m *ClusterMapping) Distance(batch, row, col int) Coord {
	cfg := m.cfg
	rowsPerLevel1, colsPerLevel1 := cfg.Level1Extent()
	return Coord{
		Batch: batch,
		Row:   (row/cfg.SubRows)*rowsPerLevel1 + row%cfg.SubRows,
		Col:   (col/cfg.SubCols)*colsPerLevel1 + col%cfg.SubCols,
	}
}

// SubTile implements Mapping.
func (m *ClusterMapping) SubTile() (rows, cols int) { return m.cfg.SubRows, m.cfg.SubCols }

// Repeats implements Mapping.
func (m *ClusterMapping) Repeats() (rows, cols int) { return m.cfg.Repeats() }

// RepeatStride implements Mapping.
func (m *ClusterMapping) RepeatStride() (rows, cols int) { return m.cfg.Level1Extent() }

// EnumerateTiles calls fn for every element owned by every unit, with the element position
// in the block-level output tile. Elements of a unit are visited in its accumulator order.
func EnumerateTiles(cfg *Config, fn func(unit int, pos Coord)) {
	mapping := NewMapping(cfg)
	for unit := range cfg.BlockSize {
		origin := mapping.Origin(unit)
		for batch := range cfg.BatchPerThread {
			for row := range cfg.MPerThread() {
				for col := range cfg.NPerThread() {
					fn(unit, origin.Add(mapping.Distance(batch, row, col)))
				}
			}
		}
	}
}
