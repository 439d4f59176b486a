// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tiling holds the shape configuration of a blocked batched GEMM and the mapping from
// execution units to the sub-tiles of the block-level output they own.
//
// A Config is built and validated once (see Build and Parse) and is immutable afterwards: every
// divisibility invariant is checked when the configuration is built, so the schedulers that
// consume it never have to check shapes in their loops.
//
// Naming follows the block-level operands:
//
//   - A is the [Reduction, M] block tile of the left operand, stored reduction-major.
//   - B is the [Reduction, N] block tile of the right operand.
//   - C is the [M, N] block tile of the output.
//
// Each of the BlockSize execution units owns a [MPerThread, NPerThread] accumulator tile
// (ThreadC) for each of its BatchPerThread batch elements.
package tiling

import (
	"fmt"

	"github.com/gomlx/blockgemm/pkg/core/matrix"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidConfig is wrapped by all shape validation errors.
	ErrInvalidConfig = errors.New("invalid tiling configuration")

	// ErrNotImplemented is wrapped by errors of configurations that are well-formed but not supported.
	ErrNotImplemented = errors.New("tiling configuration not implemented")
)

// Policy selects how unit ids are mapped to sub-tiles.
type Policy int

const (
	// PolicyCluster splits units into two levels of clusters, with sub-tile repetition.
	PolicyCluster Policy = iota

	// PolicyFlat splits units into (batch, row, col) work items by successive division.
	PolicyFlat
)

// String implements fmt.Stringer.
func (p Policy) String() string {
	switch p {
	case PolicyCluster:
		return "cluster"
	case PolicyFlat:
		return "flat"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// Traversal is the order in which the flat policy distributes units over the tile.
type Traversal int

const (
	// ColumnFirst makes consecutive units own consecutive column work items.
	ColumnFirst Traversal = iota

	// RowFirst makes consecutive units own consecutive row work items. Not implemented.
	RowFirst
)

// String implements fmt.Stringer.
func (t Traversal) String() string {
	switch t {
	case ColumnFirst:
		return "col"
	case RowFirst:
		return "row"
	default:
		return fmt.Sprintf("Traversal(%d)", int(t))
	}
}

// Cluster is the shape of a group of units, in units.
type Cluster struct {
	Rows, Cols int
}

// Size is the number of units in the cluster.
func (c Cluster) Size() int { return c.Rows * c.Cols }

// String implements fmt.Stringer.
func (c Cluster) String() string { return fmt.Sprintf("%dx%d", c.Rows, c.Cols) }

// Config is a validated, immutable shape configuration.
//
// It must only be created with Builder.Done or Parse, and it must not be modified afterwards.
type Config struct {
	// BlockSize is the number of execution units cooperating on one block-level tile.
	BlockSize int

	// BatchSize is the number of batch elements in the block-level tile,
	// and BatchPerThread the number of them each unit computes.
	BatchSize, BatchPerThread int

	// BlockA ([K, M]), BlockB ([K, N]) and BlockC ([M, N]) describe one batch element of the block tiles.
	BlockA, BlockB, BlockC matrix.Descriptor

	// BlockStrideA and BlockStrideB separate batch elements of the A and B block tiles.
	// A stride of 0 means all batch elements share the same operand (broadcast).
	BlockStrideA, BlockStrideB int

	// BlockStrideC separates batch elements of the output block tile.
	BlockStrideC int

	// ThreadC describes the accumulator tile of one unit for one batch element, and ThreadStrideC
	// separates the accumulators of the BatchPerThread batch elements.
	ThreadC       matrix.Descriptor
	ThreadStrideC int

	// SubRows x SubCols is the smallest addressable sub-tile of a unit. ThreadC is a
	// repetition of sub-tiles spread over the block tile. For PolicyFlat it equals ThreadC.
	SubRows, SubCols int

	// Level0 and Level1 are the shapes of the two nested cluster levels (PolicyCluster only).
	Level0, Level1 Cluster

	// ReductionChunk is the number of reduction elements staged in registers at a time.
	ReductionChunk int

	Policy    Policy
	Traversal Traversal

	// DType of the operands, used to report memory footprints.
	DType dtypes.DType
}

// K is the reduction extent of the block tile.
func (c *Config) K() int { return c.BlockA.Rows }

// M is the number of rows of the block output tile.
func (c *Config) M() int { return c.BlockA.Cols }

// N is the number of columns of the block output tile.
func (c *Config) N() int { return c.BlockB.Cols }

// MPerThread is the number of output rows owned by one unit.
func (c *Config) MPerThread() int { return c.ThreadC.Rows }

// NPerThread is the number of output columns owned by one unit.
func (c *Config) NPerThread() int { return c.ThreadC.Cols }

// BatchThreadWork is the number of groups of units, one per BatchPerThread batch elements.
func (c *Config) BatchThreadWork() int { return c.BatchSize / c.BatchPerThread }

// Repeats returns how many sub-tiles a unit owns along rows and along columns.
func (c *Config) Repeats() (rows, cols int) {
	return c.ThreadC.Rows / c.SubRows, c.ThreadC.Cols / c.SubCols
}

// Level1Extent is the number of rows and columns covered by one sub-tile of every unit of a
// Level1 cluster. It is the distance between two repeats of the same unit.
func (c *Config) Level1Extent() (rows, cols int) {
	return c.SubRows * c.Level0.Rows * c.Level1.Rows, c.SubCols * c.Level0.Cols * c.Level1.Cols
}

// RegisterA describes a unit's staged slice of A: [ReductionChunk, MPerThread].
func (c *Config) RegisterA() matrix.Descriptor { return matrix.Make(c.ReductionChunk, c.ThreadC.Rows) }

// RegisterB describes a unit's staged slice of B: [ReductionChunk, NPerThread].
func (c *Config) RegisterB() matrix.Descriptor { return matrix.Make(c.ReductionChunk, c.ThreadC.Cols) }

// AccumulatorLen is the minimum length of a unit's accumulator buffer.
func (c *Config) AccumulatorLen() int {
	return (c.BatchPerThread-1)*c.ThreadStrideC + c.ThreadC.ElementSpace()
}

// batchedSpace is the number of elements needed by BatchSize elements of a block tile.
func (c *Config) batchedSpace(desc matrix.Descriptor, stride int) int {
	return (c.BatchSize-1)*stride + desc.ElementSpace()
}

// SharedLenA is the minimum length of the shared A block buffer.
func (c *Config) SharedLenA() int { return c.batchedSpace(c.BlockA, c.BlockStrideA) }

// SharedLenB is the minimum length of the shared B block buffer.
func (c *Config) SharedLenB() int { return c.batchedSpace(c.BlockB, c.BlockStrideB) }

// SharedLenC is the minimum length of the shared C block buffer.
func (c *Config) SharedLenC() int { return c.batchedSpace(c.BlockC, c.BlockStrideC) }

// SharedMemoryBytes is the size of the block-level A, B and C tiles.
func (c *Config) SharedMemoryBytes() uintptr {
	return uintptr(c.SharedLenA()+c.SharedLenB()+c.SharedLenC()) * c.DType.Memory()
}

// RegisterBytes is the private memory one unit uses: two (double-buffered) register tiles per
// operand plus the accumulators.
func (c *Config) RegisterBytes() uintptr {
	regs := 2*(c.RegisterA().ElementSpace()+c.RegisterB().ElementSpace()) + c.AccumulatorLen()
	return uintptr(regs) * c.DType.Memory()
}

// Packed returns whether the configuration only uses packed row-major tiles and default strides
// (or broadcast), the configurations Parse can express.
func (c *Config) Packed() bool {
	k, m, n := c.K(), c.M(), c.N()
	if c.BlockA != matrix.Make(k, m) || c.BlockB != matrix.Make(k, n) || c.BlockC != matrix.Make(m, n) {
		return false
	}
	if (c.BlockStrideA != 0 && c.BlockStrideA != c.BlockA.ElementSpace()) ||
		(c.BlockStrideB != 0 && c.BlockStrideB != c.BlockB.ElementSpace()) ||
		c.BlockStrideC != c.BlockC.ElementSpace() {
		return false
	}
	if c.ThreadStrideC != c.ThreadC.ElementSpace() {
		return false
	}
	return c.Policy != PolicyFlat || (c.SubRows == c.ThreadC.Rows && c.SubCols == c.ThreadC.Cols)
}

// String returns the configuration in the format accepted by Parse.
//
// Only Packed configurations round-trip: explicit descriptors (padding or column-major layouts)
// and explicit strides are not represented, and for those a "packed=false" option is appended,
// which Parse rejects.
func (c *Config) String() string {
	s := fmt.Sprintf("block=%d,batch=%d,batch_per_thread=%d,tile=%dx%dx%d,thread=%dx%d,chunk=%d,policy=%s",
		c.BlockSize, c.BatchSize, c.BatchPerThread, c.K(), c.M(), c.N(),
		c.ThreadC.Rows, c.ThreadC.Cols, c.ReductionChunk, c.Policy)
	if c.Policy == PolicyCluster {
		s += fmt.Sprintf(",sub=%dx%d,level0=%s,level1=%s", c.SubRows, c.SubCols, c.Level0, c.Level1)
	} else {
		s += fmt.Sprintf(",traversal=%s", c.Traversal)
	}
	if c.BlockStrideA == 0 {
		s += ",broadcast_a"
	}
	if c.BlockStrideB == 0 {
		s += ",broadcast_b"
	}
	s += fmt.Sprintf(",dtype=%s", dtypeName(c.DType))
	if !c.Packed() {
		s += ",packed=false"
	}
	return s
}
