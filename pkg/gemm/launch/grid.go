// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package launch

import (
	"context"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/blockgemm/pkg/core/matrix"
	"github.com/gomlx/blockgemm/pkg/core/threadwise"
	"github.com/gomlx/blockgemm/pkg/gemm/blockwise"
	"github.com/gomlx/blockgemm/pkg/gemm/tiling"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrProblemShape is wrapped by errors of problems that can't be tiled by a configuration.
var ErrProblemShape = errors.New("problem shape not supported by the tiling configuration")

// Problem describes a batched matrix multiplication C[b] = A[b] x B[b] over row-major global
// matrices: A is [Batch, M, K], B is [Batch, K, N] and C is [Batch, M, N].
//
// A broadcast operand has a single batch element, shared by all batch elements of the output.
type Problem struct {
	Batch, M, N, K         int
	BroadcastA, BroadcastB bool
}

// String implements fmt.Stringer.
func (p Problem) String() string {
	s := fmt.Sprintf("[%d] [%d, %d] x [%d, %d]", p.Batch, p.M, p.K, p.K, p.N)
	if p.BroadcastA {
		s += " (broadcast A)"
	}
	if p.BroadcastB {
		s += " (broadcast B)"
	}
	return s
}

// LenA is the number of elements of the global A matrix.
func (p Problem) LenA() int {
	if p.BroadcastA {
		return p.M * p.K
	}
	return p.Batch * p.M * p.K
}

// LenB is the number of elements of the global B matrix.
func (p Problem) LenB() int {
	if p.BroadcastB {
		return p.K * p.N
	}
	return p.Batch * p.K * p.N
}

// LenC is the number of elements of the global C matrix.
func (p Problem) LenC() int { return p.Batch * p.M * p.N }

// Flops is the number of multiplications and additions of the problem.
func (p Problem) Flops() int64 { return 2 * int64(p.Batch) * int64(p.M) * int64(p.N) * int64(p.K) }

// Check returns an error wrapping ErrProblemShape if the problem can't be tiled exactly by cfg.
func (p Problem) Check(cfg *tiling.Config) error {
	if p.Batch <= 0 || p.M <= 0 || p.N <= 0 || p.K <= 0 {
		return errors.Wrapf(ErrProblemShape, "problem %s has non-positive dimensions", p)
	}
	if p.Batch%cfg.BatchSize != 0 || p.M%cfg.M() != 0 || p.N%cfg.N() != 0 || p.K%cfg.K() != 0 {
		return errors.Wrapf(ErrProblemShape, "problem %s is not divisible by the block tile "+
			"(batch=%d, M=%d, N=%d, K=%d)", p, cfg.BatchSize, cfg.M(), cfg.N(), cfg.K())
	}
	if cfg.BatchSize > 1 && cfg.BlockStrideA == 0 && !p.BroadcastA {
		return errors.Wrapf(ErrProblemShape, "configuration broadcasts A, but problem %s doesn't", p)
	}
	if cfg.BatchSize > 1 && cfg.BlockStrideB == 0 && !p.BroadcastB {
		return errors.Wrapf(ErrProblemShape, "configuration broadcasts B, but problem %s doesn't", p)
	}
	// Each batch element is loaded from its own global matrix, so block tiles can't overlap.
	if cfg.BatchSize > 1 {
		if cfg.BlockStrideA > 0 && cfg.BlockStrideA < cfg.BlockA.ElementSpace() {
			return errors.Wrapf(ErrProblemShape, "BlockStrideA (%d) makes the batch elements of %s overlap",
				cfg.BlockStrideA, cfg.BlockA)
		}
		if cfg.BlockStrideB > 0 && cfg.BlockStrideB < cfg.BlockB.ElementSpace() {
			return errors.Wrapf(ErrProblemShape, "BlockStrideB (%d) makes the batch elements of %s overlap",
				cfg.BlockStrideB, cfg.BlockB)
		}
	}
	return nil
}

// gridTile is the position of a block-level tile in the grid, in tiles.
type gridTile struct {
	batch, row, col int
}

// BatchedMatMul computes c = a x b for the problem, with one Group of units per block-level output tile.
//
// Output tiles are computed concurrently on the pool of workers (see WithPool). Within a tile the
// units cooperatively load the global A and B into the block-level tiles (transposing A into
// reduction-major), accumulate, one block-level reduction tile at a time, and finally scatter and
// store the result. c is fully overwritten.
//
// If ctx is canceled, tiles not yet started are skipped and the error is returned: c is then
// only partially written.
func BatchedMatMul[TA, TB, TC any](ctx context.Context, cfg *tiling.Config, p Problem,
	a []TA, b []TB, c []TC, kernel blockwise.Kernel[TA, TB, TC], opts ...Option) error {
	if err := p.Check(cfg); err != nil {
		return err
	}
	if len(a) < p.LenA() || len(b) < p.LenB() || len(c) < p.LenC() {
		return errors.Wrapf(ErrProblemShape, "buffers too short for %s: len(a)=%d (needs %d), "+
			"len(b)=%d (needs %d), len(c)=%d (needs %d)", p, len(a), p.LenA(), len(b), p.LenB(), len(c), p.LenC())
	}
	if err := kernel.Check(cfg); err != nil {
		return err
	}
	pool := NewGroup(cfg, opts...).pool
	batchTiles, rowTiles, colTiles := p.Batch/cfg.BatchSize, p.M/cfg.M(), p.N/cfg.N()
	numTiles := batchTiles * rowTiles * colTiles

	launchID := uuid.New()
	if klog.V(1).Enabled() {
		klog.Infof("grid %s: %s, %s tiles of %d units, %s flops, kernel=%s", launchID, p,
			humanize.Comma(int64(numTiles)), cfg.BlockSize, humanize.Comma(p.Flops()), kernel.Name())
	}

	var (
		mu       sync.Mutex
		firstErr error
	)
	err := pool.ForEachContext(ctx, numTiles, func(tileIdx int) {
		tile := gridTile{
			batch: tileIdx / (rowTiles * colTiles),
			row:   (tileIdx / colTiles) % rowTiles,
			col:   tileIdx % colTiles,
		}
		tileErr := runTile(ctx, &Group{cfg: cfg, pool: pool}, p, tile, a, b, c, kernel)
		if tileErr != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = errors.WithMessagef(tileErr, "grid %s, tile %+v", launchID, tile)
			}
			mu.Unlock()
		}
	})
	if err != nil {
		return errors.Wrapf(err, "grid %s", launchID)
	}
	if firstErr != nil {
		return firstErr
	}
	klog.V(2).Infof("grid %s: done", launchID)
	return nil
}

// runTile computes one block-level output tile.
func runTile[TA, TB, TC any](ctx context.Context, g *Group, p Problem, tile gridTile,
	a []TA, b []TB, c []TC, kernel blockwise.Kernel[TA, TB, TC]) error {
	cfg := g.cfg
	block, err := NewBlock(g, kernel)
	if err != nil {
		return err
	}
	sharedA := make([]TA, cfg.SharedLenA())
	sharedB := make([]TB, cfg.SharedLenB())
	sharedC := make([]TC, cfg.SharedLenC())

	// Global sub-matrices, described in the block-level orientation: A as [K, M], B as [K, N].
	globalA := matrix.MakeStrided(cfg.M(), cfg.K(), p.K).Transposed()
	globalB := matrix.MakeStrided(cfg.K(), cfg.N(), p.N)
	globalC := matrix.MakeStrided(cfg.M(), cfg.N(), p.N)
	batchesA, batchesB := cfg.BatchSize, cfg.BatchSize
	if cfg.BlockStrideA == 0 {
		batchesA = 1
	}
	if cfg.BlockStrideB == 0 {
		batchesB = 1
	}
	globalBatch := func(blockBatch int, broadcast bool) int {
		if broadcast {
			return 0
		}
		return tile.batch*cfg.BatchSize + blockBatch
	}

	for kTile := range p.K / cfg.K() {
		err = g.Phase(ctx, func(unit int) {
			for row := unit; row < batchesA*cfg.K(); row += cfg.BlockSize {
				blockBatch, k := row/cfg.K(), row%cfg.K()
				base := globalBatch(blockBatch, p.BroadcastA)*p.M*p.K + tile.row*cfg.M()*p.K + kTile*cfg.K()
				threadwise.Copy(globalA, a[base+globalA.Offset(k, 0):],
					cfg.BlockA, sharedA[blockBatch*cfg.BlockStrideA+cfg.BlockA.Offset(k, 0):], 1, cfg.M())
			}
			for row := unit; row < batchesB*cfg.K(); row += cfg.BlockSize {
				blockBatch, k := row/cfg.K(), row%cfg.K()
				base := globalBatch(blockBatch, p.BroadcastB)*p.K*p.N + kTile*cfg.K()*p.N + tile.col*cfg.N()
				threadwise.Copy(globalB, b[base+globalB.Offset(k, 0):],
					cfg.BlockB, sharedB[blockBatch*cfg.BlockStrideB+cfg.BlockB.Offset(k, 0):], 1, cfg.N())
			}
		})
		if err != nil {
			return err
		}
		if err = block.Accumulate(ctx, sharedA, sharedB); err != nil {
			return err
		}
	}
	if err = block.Scatter(ctx, sharedC); err != nil {
		return err
	}
	return g.Phase(ctx, func(unit int) {
		for row := unit; row < cfg.BatchSize*cfg.M(); row += cfg.BlockSize {
			blockBatch, i := row/cfg.M(), row%cfg.M()
			base := globalBatch(blockBatch, false)*p.M*p.N + tile.row*cfg.M()*p.N + tile.col*cfg.N()
			threadwise.Copy(cfg.BlockC, sharedC[blockBatch*cfg.BlockStrideC+cfg.BlockC.Offset(i, 0):],
				globalC, c[base+globalC.Offset(i, 0):], 1, cfg.N())
		}
	})
}
