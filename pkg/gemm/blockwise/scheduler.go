// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package blockwise implements the per-unit schedule of a blocked batched GEMM.
//
// A block-level tile is computed by tiling.Config.BlockSize execution units. Each unit creates its
// own Scheduler, which stages its share of the block-level A and B tiles into small register tiles
// one reduction chunk at a time, accumulates them into the unit's accumulator tile, and finally
// scatters the accumulator into the block-level C tile.
//
// The Scheduler does not synchronize: the block-level A and B tiles must be fully written before
// any unit calls Run, and the block-level C tile must not be read before every unit called Scatter.
// See package launch for a runner that provides these barriers.
package blockwise

import (
	"github.com/gomlx/blockgemm/pkg/core/matrix"
	"github.com/gomlx/blockgemm/pkg/core/threadwise"
	"github.com/gomlx/blockgemm/pkg/gemm/tiling"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Scheduler runs the batched GEMM of one execution unit over block-level tiles.
//
// It is not safe for concurrent use, but each unit of a block uses its own Scheduler
// over the same shared tiles.
type Scheduler[TA, TB, TC any] struct {
	cfg     *tiling.Config
	mapping tiling.Mapping
	kernel  Kernel[TA, TB, TC]

	unit             int
	origin           tiling.Coord
	offsetA, offsetB int

	subRows, subCols     int
	mRepeat, nRepeat     int
	rowStride, colStride int

	// Ping-pong register tiles: while one slot is consumed by the kernel, the next batch element
	// is staged into the other.
	regADesc, regBDesc matrix.Descriptor
	regA               [2][]TA
	regB               [2][]TB
}

// New creates the scheduler of the given unit, in [0, cfg.BlockSize).
//
// It returns an error if the unit is out of range or if the kernel doesn't support cfg.
func New[TA, TB, TC any](cfg *tiling.Config, unit int, kernel Kernel[TA, TB, TC]) (*Scheduler[TA, TB, TC], error) {
	if cfg == nil {
		return nil, errors.Wrap(tiling.ErrInvalidConfig, "nil configuration")
	}
	if unit < 0 || unit >= cfg.BlockSize {
		return nil, errors.Errorf("unit %d out of range for a block of %d units", unit, cfg.BlockSize)
	}
	if kernel == nil {
		return nil, errors.New("nil kernel")
	}
	if err := kernel.Check(cfg); err != nil {
		return nil, errors.WithMessagef(err, "unit %d", unit)
	}
	s := &Scheduler[TA, TB, TC]{
		cfg:      cfg,
		mapping:  tiling.NewMapping(cfg),
		kernel:   kernel,
		unit:     unit,
		regADesc: cfg.RegisterA(),
		regBDesc: cfg.RegisterB(),
	}
	s.origin = s.mapping.Origin(unit)
	s.offsetA = s.origin.Batch*cfg.BlockStrideA + cfg.BlockA.Offset(0, s.origin.Row)
	s.offsetB = s.origin.Batch*cfg.BlockStrideB + cfg.BlockB.Offset(0, s.origin.Col)
	s.subRows, s.subCols = s.mapping.SubTile()
	s.mRepeat, s.nRepeat = s.mapping.Repeats()
	s.rowStride, s.colStride = s.mapping.RepeatStride()
	for slot := range 2 {
		s.regA[slot] = make([]TA, s.regADesc.ElementSpace())
		s.regB[slot] = make([]TB, s.regBDesc.ElementSpace())
	}
	if klog.V(2).Enabled() {
		klog.Infof("blockwise: unit %d origin=%s offsetA=%d offsetB=%d kernel=%s",
			unit, s.origin, s.offsetA, s.offsetB, kernel.Name())
	}
	return s, nil
}

// Unit returns the id of the execution unit.
func (s *Scheduler[TA, TB, TC]) Unit() int { return s.unit }

// Origin returns the position of the first element owned by the unit in the block-level C tile.
func (s *Scheduler[TA, TB, TC]) Origin() tiling.Coord { return s.origin }

// OffsetA returns the flat offset of the unit's first A element in the block-level A tile.
func (s *Scheduler[TA, TB, TC]) OffsetA() int { return s.offsetA }

// OffsetB returns the flat offset of the unit's first B element in the block-level B tile.
func (s *Scheduler[TA, TB, TC]) OffsetB() int { return s.offsetB }

// Kernel returns the accumulation kernel in use.
func (s *Scheduler[TA, TB, TC]) Kernel() Kernel[TA, TB, TC] { return s.kernel }

// Config returns the tiling configuration.
func (s *Scheduler[TA, TB, TC]) Config() *tiling.Config { return s.cfg }

// NewAccumulator allocates a zeroed accumulator buffer for the unit.
func (s *Scheduler[TA, TB, TC]) NewAccumulator() []TC {
	return make([]TC, s.cfg.AccumulatorLen())
}

// stageA copies the unit's A columns of batch element ib, reduction rows [k, k+ReductionChunk),
// into the register slot.
func (s *Scheduler[TA, TB, TC]) stageA(aBlock []TA, k, ib, slot int) {
	cfg := s.cfg
	base := s.offsetA + ib*cfg.BlockStrideA
	for mr := range s.mRepeat {
		src := aBlock[base+cfg.BlockA.Offset(k, mr*s.rowStride):]
		dst := s.regA[slot][s.regADesc.Offset(0, mr*s.subRows):]
		threadwise.Copy(cfg.BlockA, src, s.regADesc, dst, cfg.ReductionChunk, s.subRows)
	}
}

// stageB is the same as stageA for the B columns.
func (s *Scheduler[TA, TB, TC]) stageB(bBlock []TB, k, ib, slot int) {
	cfg := s.cfg
	base := s.offsetB + ib*cfg.BlockStrideB
	for nr := range s.nRepeat {
		src := bBlock[base+cfg.BlockB.Offset(k, nr*s.colStride):]
		dst := s.regB[slot][s.regBDesc.Offset(0, nr*s.subCols):]
		threadwise.Copy(cfg.BlockB, src, s.regBDesc, dst, cfg.ReductionChunk, s.subCols)
	}
}

// Run accumulates the unit's share of transpose(aBlock) x bBlock into cThread, for each of the
// BatchPerThread batch elements the unit owns.
//
// aBlock and bBlock are the block-level tiles (described by cfg.BlockA/BlockB, with batch
// elements BlockStrideA/BlockStrideB apart) and cThread the unit's accumulator, see NewAccumulator.
// cThread is not zeroed, so Run can be called for consecutive reduction blocks before Scatter.
//
// It panics if any of the buffers is too short.
func (s *Scheduler[TA, TB, TC]) Run(aBlock []TA, bBlock []TB, cThread []TC) {
	cfg := s.cfg
	if len(aBlock) < cfg.SharedLenA() || len(bBlock) < cfg.SharedLenB() {
		exceptions.Panicf("blockwise.Run: block tiles too short: len(A)=%d (needs %d), len(B)=%d (needs %d)",
			len(aBlock), cfg.SharedLenA(), len(bBlock), cfg.SharedLenB())
	}
	if len(cThread) < cfg.AccumulatorLen() {
		exceptions.Panicf("blockwise.Run: accumulator too short: len=%d, needs %d", len(cThread), cfg.AccumulatorLen())
	}
	lastBatch := cfg.BatchPerThread - 1
	for k := 0; k < cfg.K(); k += cfg.ReductionChunk {
		slotA, slotB := 0, 0
		s.stageA(aBlock, k, 0, slotA)
		s.stageB(bBlock, k, 0, slotB)
		for ib := range cfg.BatchPerThread {
			s.kernel.Accumulate(s.regADesc, s.regA[slotA], s.regBDesc, s.regB[slotB],
				cfg.ThreadC, cThread[ib*cfg.ThreadStrideC:])
			if ib == lastBatch {
				break
			}
			// A broadcast operand (stride 0) is the same for all batch elements: keep it.
			if cfg.BlockStrideA != 0 {
				slotA ^= 1
				s.stageA(aBlock, k, ib+1, slotA)
			}
			if cfg.BlockStrideB != 0 {
				slotB ^= 1
				s.stageB(bBlock, k, ib+1, slotB)
			}
		}
	}
}

// Scatter copies the unit's accumulators into their positions of the block-level C tile.
// Only the elements owned by the unit are written.
//
// It panics if any of the buffers is too short.
func (s *Scheduler[TA, TB, TC]) Scatter(cThread []TC, cBlock []TC) {
	cfg := s.cfg
	if len(cThread) < cfg.AccumulatorLen() || len(cBlock) < cfg.SharedLenC() {
		exceptions.Panicf("blockwise.Scatter: buffers too short: len(accumulator)=%d (needs %d), len(C)=%d (needs %d)",
			len(cThread), cfg.AccumulatorLen(), len(cBlock), cfg.SharedLenC())
	}
	for ib := range cfg.BatchPerThread {
		for mr := range s.mRepeat {
			for nr := range s.nRepeat {
				row, col := mr*s.subRows, nr*s.subCols
				pos := s.origin.Add(s.mapping.Distance(ib, row, col))
				src := cThread[ib*cfg.ThreadStrideC+cfg.ThreadC.Offset(row, col):]
				dst := cBlock[pos.Batch*cfg.BlockStrideC+cfg.BlockC.Offset(pos.Row, pos.Col):]
				threadwise.Copy(cfg.ThreadC, src, cfg.BlockC, dst, s.subRows, s.subCols)
			}
		}
	}
}
