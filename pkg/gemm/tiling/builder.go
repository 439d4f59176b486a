// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiling

import (
	"github.com/gomlx/blockgemm/pkg/core/matrix"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Builder collects the shape constants of a Config. Create it with Build, chain the setters,
// and call Done to validate all constants together.
//
// Example, 64 units computing 4 batch elements of a [16, 16] output with 8 reduction elements:
//
//	cfg, err := tiling.Build(64).
//		Batch(4, 1).
//		BlockTile(8, 16, 16).
//		ThreadTile(4, 4).
//		SubTile(2, 2).
//		Level0(2, 2).
//		Level1(2, 2).
//		ReductionChunk(4).
//		Done()
type Builder struct {
	cfg Config

	stridesSet       bool
	threadStrideSet  bool
	subTileSet       bool
	broadcastA       bool
	broadcastB       bool
	blockMatricesSet bool
	tileK, tileM     int
	tileN            int
}

// Build starts the configuration of a block of blockSize execution units.
//
// Defaults: BatchSize=BatchPerThread=1, PolicyCluster, ColumnFirst traversal, Float32,
// packed row-major block tiles and batch strides equal to the size of one batch element.
func Build(blockSize int) *Builder {
	return &Builder{
		cfg: Config{
			BlockSize:      blockSize,
			BatchSize:      1,
			BatchPerThread: 1,
			Policy:         PolicyCluster,
			Traversal:      ColumnFirst,
			DType:          dtypes.Float32,
		},
	}
}

// Batch sets the number of batch elements in the block tile and how many each unit computes.
func (b *Builder) Batch(batchSize, batchPerThread int) *Builder {
	b.cfg.BatchSize = batchSize
	b.cfg.BatchPerThread = batchPerThread
	return b
}

// BlockTile sets packed block tiles: A is [reduction, rows], B is [reduction, cols] and C is [rows, cols].
func (b *Builder) BlockTile(reduction, rows, cols int) *Builder {
	b.tileK, b.tileM, b.tileN = reduction, rows, cols
	b.blockMatricesSet = false
	return b
}

// BlockMatrices sets explicit descriptors for the block tiles, e.g. padded or column-major ones.
// It takes precedence over BlockTile.
func (b *Builder) BlockMatrices(blockA, blockB, blockC matrix.Descriptor) *Builder {
	b.cfg.BlockA, b.cfg.BlockB, b.cfg.BlockC = blockA, blockB, blockC
	b.blockMatricesSet = true
	return b
}

// ThreadTile sets the [rows, cols] accumulator tile owned by each unit.
func (b *Builder) ThreadTile(rows, cols int) *Builder {
	b.cfg.ThreadC = matrix.Make(rows, cols)
	return b
}

// SubTile sets the smallest sub-tile a unit addresses. Only used by PolicyCluster.
func (b *Builder) SubTile(rows, cols int) *Builder {
	b.cfg.SubRows, b.cfg.SubCols = rows, cols
	b.subTileSet = true
	return b
}

// Level0 sets the shape of the inner cluster level, in units.
func (b *Builder) Level0(rows, cols int) *Builder {
	b.cfg.Level0 = Cluster{Rows: rows, Cols: cols}
	return b
}

// Level1 sets the shape of the outer cluster level, in Level0 clusters.
func (b *Builder) Level1(rows, cols int) *Builder {
	b.cfg.Level1 = Cluster{Rows: rows, Cols: cols}
	return b
}

// Flat selects PolicyFlat with the given traversal order.
func (b *Builder) Flat(traversal Traversal) *Builder {
	b.cfg.Policy = PolicyFlat
	b.cfg.Traversal = traversal
	return b
}

// ReductionChunk sets how many reduction elements are staged into registers at a time.
func (b *Builder) ReductionChunk(chunk int) *Builder {
	b.cfg.ReductionChunk = chunk
	return b
}

// BroadcastA makes all batch elements share the same A block tile (BlockStrideA = 0).
func (b *Builder) BroadcastA() *Builder {
	b.broadcastA = true
	return b
}

// BroadcastB makes all batch elements share the same B block tile (BlockStrideB = 0).
func (b *Builder) BroadcastB() *Builder {
	b.broadcastB = true
	return b
}

// BlockStrides sets explicit strides between batch elements of the block tiles.
// It takes precedence over BroadcastA and BroadcastB.
func (b *Builder) BlockStrides(strideA, strideB, strideC int) *Builder {
	b.cfg.BlockStrideA, b.cfg.BlockStrideB, b.cfg.BlockStrideC = strideA, strideB, strideC
	b.stridesSet = true
	return b
}

// ThreadStrideC sets the distance between the accumulators of consecutive batch elements of a unit.
func (b *Builder) ThreadStrideC(stride int) *Builder {
	b.cfg.ThreadStrideC = stride
	b.threadStrideSet = true
	return b
}

// DType sets the operands data type, only used to report memory footprints.
func (b *Builder) DType(dtype dtypes.DType) *Builder {
	b.cfg.DType = dtype
	return b
}

// Done fills in the defaults, validates all the constants together and returns the immutable Config.
// Errors wrap ErrInvalidConfig or ErrNotImplemented.
func (b *Builder) Done() (*Config, error) {
	cfg := b.cfg
	if !b.blockMatricesSet {
		cfg.BlockA = matrix.Make(b.tileK, b.tileM)
		cfg.BlockB = matrix.Make(b.tileK, b.tileN)
		cfg.BlockC = matrix.Make(b.tileM, b.tileN)
	}
	if cfg.Policy == PolicyFlat && !b.subTileSet {
		cfg.SubRows, cfg.SubCols = cfg.ThreadC.Rows, cfg.ThreadC.Cols
	}
	if !b.stridesSet {
		cfg.BlockStrideA = cfg.BlockA.ElementSpace()
		cfg.BlockStrideB = cfg.BlockB.ElementSpace()
		cfg.BlockStrideC = cfg.BlockC.ElementSpace()
		if b.broadcastA {
			cfg.BlockStrideA = 0
		}
		if b.broadcastB {
			cfg.BlockStrideB = 0
		}
	}
	if !b.threadStrideSet {
		cfg.ThreadStrideC = cfg.ThreadC.ElementSpace()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if klog.V(1).Enabled() {
		klog.Infof("tiling: built %s (shared=%d bytes, registers/unit=%d bytes)",
			&cfg, cfg.SharedMemoryBytes(), cfg.RegisterBytes())
	}
	return &cfg, nil
}

func invalidf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidConfig, format, args...)
}

// validate checks all the invariants of the configuration.
func (c *Config) validate() error {
	if c.BlockSize <= 0 {
		return invalidf("BlockSize must be positive, got %d", c.BlockSize)
	}
	if c.BatchSize <= 0 || c.BatchPerThread <= 0 {
		return invalidf("BatchSize (%d) and BatchPerThread (%d) must be positive", c.BatchSize, c.BatchPerThread)
	}
	if c.BatchSize%c.BatchPerThread != 0 {
		return invalidf("BatchSize (%d) is not divisible by BatchPerThread (%d)", c.BatchSize, c.BatchPerThread)
	}
	for _, named := range []struct {
		name string
		desc matrix.Descriptor
	}{{"A", c.BlockA}, {"B", c.BlockB}, {"C", c.BlockC}, {"thread C", c.ThreadC}} {
		if err := named.desc.Validate(); err != nil {
			return errors.Wrapf(ErrInvalidConfig, "block matrix %s: %v", named.name, err)
		}
	}
	if c.BlockA.Rows != c.BlockB.Rows {
		return invalidf("reduction dimension not consistent: A is %s, B is %s", c.BlockA, c.BlockB)
	}
	if c.BlockC.Rows != c.M() || c.BlockC.Cols != c.N() {
		return invalidf("block C %s doesn't match [M=%d, N=%d]", c.BlockC, c.M(), c.N())
	}
	if c.ThreadC.Layout != matrix.RowMajor {
		return invalidf("thread C %s must be row-major", c.ThreadC)
	}
	if c.ReductionChunk <= 0 || c.K()%c.ReductionChunk != 0 {
		return invalidf("reduction extent %d is not divisible by ReductionChunk %d", c.K(), c.ReductionChunk)
	}
	if c.BlockStrideA < 0 || c.BlockStrideB < 0 || c.BlockStrideC < 0 {
		return invalidf("block strides must be non-negative, got A=%d, B=%d, C=%d",
			c.BlockStrideA, c.BlockStrideB, c.BlockStrideC)
	}
	if c.BatchSize > 1 && c.BlockStrideC < c.BlockC.ElementSpace() {
		return invalidf("BlockStrideC (%d) would make the output of batch elements overlap (needs >= %d)",
			c.BlockStrideC, c.BlockC.ElementSpace())
	}
	if c.BatchPerThread > 1 && c.ThreadStrideC < c.ThreadC.ElementSpace() {
		return invalidf("ThreadStrideC (%d) would make accumulators overlap (needs >= %d)",
			c.ThreadStrideC, c.ThreadC.ElementSpace())
	}
	if c.DType.Memory() == 0 {
		return invalidf("DType %s has no fixed size", c.DType)
	}
	switch c.Policy {
	case PolicyFlat:
		return c.validateFlat()
	case PolicyCluster:
		return c.validateCluster()
	default:
		return invalidf("unknown policy %s", c.Policy)
	}
}

func (c *Config) validateFlat() error {
	if c.Traversal != ColumnFirst {
		return errors.Wrapf(ErrNotImplemented, "flat policy with %s traversal", c.Traversal)
	}
	mPerThread, nPerThread := c.MPerThread(), c.NPerThread()
	if c.SubRows != mPerThread || c.SubCols != nPerThread {
		return invalidf("flat policy requires the sub-tile (%dx%d) to be the thread tile (%dx%d)",
			c.SubRows, c.SubCols, mPerThread, nPerThread)
	}
	if c.M()%mPerThread != 0 || c.N()%nPerThread != 0 {
		return invalidf("block tile [%d, %d] is not divisible by the thread tile [%d, %d]",
			c.M(), c.N(), mPerThread, nPerThread)
	}
	work := c.BatchThreadWork() * (c.M() / mPerThread) * (c.N() / nPerThread)
	if c.BlockSize != work {
		return invalidf("BlockSize (%d) != batch work (%d) x row work (%d) x col work (%d) = %d",
			c.BlockSize, c.BatchThreadWork(), c.M()/mPerThread, c.N()/nPerThread, work)
	}
	return nil
}

func (c *Config) validateCluster() error {
	if c.Level0.Rows <= 0 || c.Level0.Cols <= 0 || c.Level1.Rows <= 0 || c.Level1.Cols <= 0 {
		return invalidf("cluster shapes must be positive, got level0=%s, level1=%s", c.Level0, c.Level1)
	}
	threadsPerLevel1 := c.Level0.Size() * c.Level1.Size()
	if c.BlockSize != c.BatchThreadWork()*threadsPerLevel1 {
		return invalidf("BlockSize (%d) != batch work (%d) x level0 (%s) x level1 (%s) = %d",
			c.BlockSize, c.BatchThreadWork(), c.Level0, c.Level1, c.BatchThreadWork()*threadsPerLevel1)
	}
	if c.SubRows <= 0 || c.SubCols <= 0 {
		return invalidf("sub-tile %dx%d must be positive", c.SubRows, c.SubCols)
	}
	mPerThread, nPerThread := c.MPerThread(), c.NPerThread()
	if mPerThread%c.SubRows != 0 || nPerThread%c.SubCols != 0 {
		return invalidf("thread tile %dx%d cannot be evenly divided in repeats of the sub-tile %dx%d",
			mPerThread, nPerThread, c.SubRows, c.SubCols)
	}
	mRepeat, nRepeat := c.Repeats()
	if c.M()%mRepeat != 0 || c.N()%nRepeat != 0 {
		return invalidf("block tile [%d, %d] cannot be evenly divided among %dx%d repeats",
			c.M(), c.N(), mRepeat, nRepeat)
	}
	mPerLevel1, nPerLevel1 := c.M()/mRepeat, c.N()/nRepeat
	if mPerLevel1%c.Level1.Rows != 0 || nPerLevel1%c.Level1.Cols != 0 {
		return invalidf("level1 extent [%d, %d] cannot be evenly divided among level1 cluster %s",
			mPerLevel1, nPerLevel1, c.Level1)
	}
	mPerLevel0, nPerLevel0 := mPerLevel1/c.Level1.Rows, nPerLevel1/c.Level1.Cols
	if mPerLevel0%c.Level0.Rows != 0 || nPerLevel0%c.Level0.Cols != 0 {
		return invalidf("level0 extent [%d, %d] cannot be evenly divided among level0 cluster %s",
			mPerLevel0, nPerLevel0, c.Level0)
	}
	if c.SubRows != mPerLevel0/c.Level0.Rows || c.SubCols != nPerLevel0/c.Level0.Cols {
		return invalidf("sub-tile %dx%d doesn't match the work per unit %dx%d",
			c.SubRows, c.SubCols, mPerLevel0/c.Level0.Rows, nPerLevel0/c.Level0.Cols)
	}
	return nil
}
