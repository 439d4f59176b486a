// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package launch runs the execution units of a blocked batched GEMM.
//
// A Group stands for one compute block: BlockSize execution units that share the block-level tiles.
// Work is issued in phases (Group.Phase), and the end of a phase is the only synchronization point,
// the equivalent of a block-wide barrier. A Block keeps the per-unit schedulers and accumulators
// of a Group across phases, and BatchedMatMul runs a whole grid of blocks over global matrices.
package launch

import (
	"context"

	"github.com/gomlx/blockgemm/internal/workerspool"
	"github.com/gomlx/blockgemm/pkg/gemm/tiling"
	"github.com/pkg/errors"
)

// Group of execution units computing one block-level tile.
type Group struct {
	cfg  *tiling.Config
	pool *workerspool.Pool
}

// Option configures a Group.
type Option func(g *Group)

// WithPool sets the pool of workers used to run the units. By default, each Group creates its own.
//
// Use a pool with SetMaxParallelism(0) to run all units sequentially, which is deterministic and
// easier to debug.
func WithPool(pool *workerspool.Pool) Option {
	return func(g *Group) {
		g.pool = pool
	}
}

// NewGroup creates a group of cfg.BlockSize execution units.
func NewGroup(cfg *tiling.Config, opts ...Option) *Group {
	g := &Group{cfg: cfg}
	for _, opt := range opts {
		opt(g)
	}
	if g.pool == nil {
		g.pool = workerspool.New()
	}
	return g
}

// Config returns the tiling configuration of the group.
func (g *Group) Config() *tiling.Config { return g.cfg }

// Pool returns the workers pool used by the group.
func (g *Group) Pool() *workerspool.Pool { return g.pool }

// Phase runs fn for every unit of the group, possibly concurrently, and returns once all of them
// finished: writes done by any unit in a phase are visible to every unit in the following phases.
//
// Cancellation is only checked before the phase starts.
func (g *Group) Phase(ctx context.Context, fn func(unit int)) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "launch phase canceled")
	}
	g.pool.ForEach(g.cfg.BlockSize, fn)
	return nil
}
