// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package launch

import (
	"context"

	"github.com/gomlx/blockgemm/pkg/gemm/blockwise"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Block holds the schedulers and accumulators of all units of a Group, so the units can accumulate
// several block-level reduction tiles before scattering the result.
type Block[TA, TB, TC any] struct {
	group        *Group
	schedulers   []*blockwise.Scheduler[TA, TB, TC]
	accumulators [][]TC
}

// NewBlock creates the schedulers of every unit of the group, using the given kernel.
func NewBlock[TA, TB, TC any](g *Group, kernel blockwise.Kernel[TA, TB, TC]) (*Block[TA, TB, TC], error) {
	cfg := g.cfg
	b := &Block[TA, TB, TC]{
		group:        g,
		schedulers:   make([]*blockwise.Scheduler[TA, TB, TC], cfg.BlockSize),
		accumulators: make([][]TC, cfg.BlockSize),
	}
	for unit := range cfg.BlockSize {
		s, err := blockwise.New(cfg, unit, kernel)
		if err != nil {
			return nil, errors.WithMessage(err, "creating block schedulers")
		}
		b.schedulers[unit] = s
		b.accumulators[unit] = s.NewAccumulator()
	}
	return b, nil
}

// Group returns the group of units of the block.
func (b *Block[TA, TB, TC]) Group() *Group { return b.group }

// Reset zeroes the accumulators of all units.
func (b *Block[TA, TB, TC]) Reset() {
	for _, acc := range b.accumulators {
		clear(acc)
	}
}

// Accumulate runs one phase where every unit accumulates its share of transpose(aBlock) x bBlock.
// aBlock and bBlock must not be modified until it returns.
func (b *Block[TA, TB, TC]) Accumulate(ctx context.Context, aBlock []TA, bBlock []TB) error {
	return b.group.Phase(ctx, func(unit int) {
		b.schedulers[unit].Run(aBlock, bBlock, b.accumulators[unit])
	})
}

// Scatter runs one phase where every unit writes its accumulators into cBlock.
func (b *Block[TA, TB, TC]) Scatter(ctx context.Context, cBlock []TC) error {
	return b.group.Phase(ctx, func(unit int) {
		b.schedulers[unit].Scatter(b.accumulators[unit], cBlock)
	})
}

// RunBlock computes cBlock = transpose(aBlock) x bBlock for all batch elements of a block-level tile,
// using all units of the group.
//
// The block-level tiles are laid out as described by the group's tiling.Config. The caller must
// have finished writing aBlock and bBlock, and cBlock is complete when RunBlock returns.
func RunBlock[TA, TB, TC any](ctx context.Context, g *Group, aBlock []TA, bBlock []TB, cBlock []TC,
	kernel blockwise.Kernel[TA, TB, TC]) error {
	launchID := uuid.New()
	if klog.V(1).Enabled() {
		klog.Infof("launch %s: %d units, kernel=%s, config %s", launchID, g.cfg.BlockSize, kernel.Name(), g.cfg)
	}
	block, err := NewBlock(g, kernel)
	if err != nil {
		return errors.WithMessagef(err, "launch %s", launchID)
	}
	if err = block.Accumulate(ctx, aBlock, bBlock); err != nil {
		return errors.WithMessagef(err, "launch %s", launchID)
	}
	if err = block.Scatter(ctx, cBlock); err != nil {
		return errors.WithMessagef(err, "launch %s", launchID)
	}
	klog.V(2).Infof("launch %s: done", launchID)
	return nil
}
