// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/blockgemm/pkg/gemm/blockwise"
	"github.com/gomlx/blockgemm/pkg/gemm/tiling"
	"github.com/pkg/errors"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)

	// unitStyles color the cells of the tile map, alternating per unit.
	unitStyles = []lipgloss.Style{
		lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Padding(0, 1),
		lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Padding(0, 1),
		lipgloss.NewStyle().Foreground(lipgloss.Color("76")).Padding(0, 1),
		lipgloss.NewStyle().Foreground(lipgloss.Color("170")).Padding(0, 1),
	}
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == lgtable.HeaderRow {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				// Even row style.
				s = oddRowStyle
			default:
				// Odd row style
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

// summary prints the configuration and its derived values.
func summary(cfg *tiling.Config) {
	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(false)
	table.Row("config", cfg.String())
	table.Row("units per block", humanize.Comma(int64(cfg.BlockSize)))
	table.Row("batch", fmt.Sprintf("%d (%d per unit)", cfg.BatchSize, cfg.BatchPerThread))
	table.Row("block tile (K x M x N)", fmt.Sprintf("%d x %d x %d", cfg.K(), cfg.M(), cfg.N()))
	table.Row("block A", cfg.BlockA.String())
	table.Row("block B", cfg.BlockB.String())
	table.Row("block C", cfg.BlockC.String())
	table.Row("block strides (A, B, C)", fmt.Sprintf("%d, %d, %d", cfg.BlockStrideA, cfg.BlockStrideB, cfg.BlockStrideC))
	table.Row("thread tile", fmt.Sprintf("%s, stride %d", cfg.ThreadC, cfg.ThreadStrideC))
	table.Row("policy", cfg.Policy.String())
	if cfg.Policy == tiling.PolicyCluster {
		mRepeat, nRepeat := cfg.Repeats()
		rowsPerLevel1, colsPerLevel1 := cfg.Level1Extent()
		table.Row("sub-tile", fmt.Sprintf("%dx%d", cfg.SubRows, cfg.SubCols))
		table.Row("repeats", fmt.Sprintf("%dx%d, %dx%d apart", mRepeat, nRepeat, rowsPerLevel1, colsPerLevel1))
		table.Row("clusters (level0, level1)", fmt.Sprintf("%s, %s", cfg.Level0, cfg.Level1))
	} else {
		table.Row("traversal", cfg.Traversal.String())
	}
	table.Row("reduction chunk", strconv.Itoa(cfg.ReductionChunk))
	table.Row("dtype", cfg.DType.String())
	table.Row("shared memory", humanize.Bytes(uint64(cfg.SharedMemoryBytes())))
	table.Row("registers per unit", humanize.Bytes(uint64(cfg.RegisterBytes())))
	table.Row("registers per block", humanize.Bytes(uint64(cfg.RegisterBytes())*uint64(cfg.BlockSize)))
	table.Row("float32 kernel", blockwise.SelectFloat32Kernel(cfg).Name())
	fmt.Println(table.Render())
}

// maxTileMapCells limits the size of the printed tile map.
const maxTileMapCells = 64 * 64

// tiles checks that the units cover the block-level output exactly once, and prints the owner
// of each element of the first batch element.
func tiles(cfg *tiling.Config) error {
	owners := make([]int, cfg.BatchSize*cfg.M()*cfg.N())
	for i := range owners {
		owners[i] = -1
	}
	var err error
	tiling.EnumerateTiles(cfg, func(unit int, pos tiling.Coord) {
		if err != nil {
			return
		}
		idx := (pos.Batch*cfg.M()+pos.Row)*cfg.N() + pos.Col
		if owners[idx] != -1 {
			err = errors.Errorf("element %s owned by units %d and %d", pos, owners[idx], unit)
			return
		}
		owners[idx] = unit
	})
	if err != nil {
		return err
	}
	for idx, unit := range owners {
		if unit == -1 {
			return errors.Errorf("element #%d of the block-level output is not owned by any unit", idx)
		}
	}

	fmt.Println(titleStyle.Render("Tile ownership"))
	fmt.Printf("  %s elements covered exactly once by %d units.\n",
		humanize.Comma(int64(len(owners))), cfg.BlockSize)
	if cfg.M()*cfg.N() > maxTileMapCells {
		fmt.Printf("  Output tile [%d, %d] too large to display.\n", cfg.M(), cfg.N())
		return nil
	}
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow || col == 0 {
				return headerRowStyle
			}
			unit := owners[row*cfg.N()+col-1]
			return unitStyles[unit%len(unitStyles)]
		})
	headers := make([]string, cfg.N()+1)
	headers[0] = "row"
	for col := range cfg.N() {
		headers[col+1] = strconv.Itoa(col)
	}
	table.Headers(headers...)
	for row := range cfg.M() {
		cells := make([]string, cfg.N()+1)
		cells[0] = strconv.Itoa(row)
		for col := range cfg.N() {
			cells[col+1] = strconv.Itoa(owners[row*cfg.N()+col])
		}
		table.Row(cells...)
	}
	fmt.Println(table.Render())
	return nil
}
