// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiling

import (
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// ConfigEnv is the environment variable tools read a default configuration from, in the format
// accepted by Parse.
const ConfigEnv = "BLOCKGEMM_CONFIG"

// Parse builds a Config from a comma-separated list of "key=value" options:
//
//   - block=<n>: BlockSize (required).
//   - batch=<n>, batch_per_thread=<n>: BatchSize and BatchPerThread.
//   - tile=<K>x<M>x<N>: packed block tiles.
//   - thread=<rows>x<cols>: accumulator tile per unit.
//   - sub=<rows>x<cols>, level0=<rows>x<cols>, level1=<rows>x<cols>: cluster policy shapes.
//   - chunk=<n>: ReductionChunk.
//   - policy=cluster|flat, traversal=col|row.
//   - broadcast_a, broadcast_b: zero batch stride for the operand (no value).
//   - packed=true: accepted for symmetry with Config.String, which emits packed=false for
//     configurations Parse can't express.
//   - dtype=float32|float64|float16|bfloat16.
//
// Example: "block=64,batch=4,tile=8x16x16,thread=4x4,sub=2x2,level0=2x2,level1=2x2,chunk=4".
func Parse(config string) (*Config, error) {
	var (
		b         = Build(0)
		traversal = ColumnFirst
		flat      bool
		hasBlock  bool
	)
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		var err error
		switch key {
		case "block":
			b.cfg.BlockSize, err = strconv.Atoi(value)
			hasBlock = true
		case "batch":
			b.cfg.BatchSize, err = strconv.Atoi(value)
		case "batch_per_thread":
			b.cfg.BatchPerThread, err = strconv.Atoi(value)
		case "tile":
			var dims []int
			dims, err = parseDims(value, 3)
			if err == nil {
				b.BlockTile(dims[0], dims[1], dims[2])
			}
		case "thread", "sub", "level0", "level1":
			var dims []int
			dims, err = parseDims(value, 2)
			if err == nil {
				switch key {
				case "thread":
					b.ThreadTile(dims[0], dims[1])
				case "sub":
					b.SubTile(dims[0], dims[1])
				case "level0":
					b.Level0(dims[0], dims[1])
				default:
					b.Level1(dims[0], dims[1])
				}
			}
		case "chunk":
			b.cfg.ReductionChunk, err = strconv.Atoi(value)
		case "policy":
			switch value {
			case "cluster":
				flat = false
			case "flat":
				flat = true
			default:
				err = errors.Errorf("unknown policy %q", value)
			}
		case "traversal":
			switch value {
			case "col":
				traversal = ColumnFirst
			case "row":
				traversal = RowFirst
			default:
				err = errors.Errorf("unknown traversal %q", value)
			}
		case "broadcast_a", "broadcast_b":
			if hasValue {
				err = errors.Errorf("flag %q takes no value", key)
			} else if key == "broadcast_a" {
				b.BroadcastA()
			} else {
				b.BroadcastB()
			}
		case "packed":
			if value != "true" {
				err = errors.Errorf("only packed tiles can be described, got packed=%q", value)
			}
		case "dtype":
			var dtype dtypes.DType
			dtype, err = parseDType(value)
			b.DType(dtype)
		default:
			err = errors.Errorf("unknown option %q", key)
		}
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "parsing option %q: %v", part, err)
		}
	}
	if !hasBlock {
		return nil, errors.Wrapf(ErrInvalidConfig, "missing \"block=<n>\" in %q", config)
	}
	if flat {
		b.Flat(traversal)
	}
	return b.Done()
}

// parseDims parses "AxBxC" with exactly n positive dimensions.
func parseDims(value string, n int) ([]int, error) {
	parts := strings.Split(value, "x")
	if len(parts) != n {
		return nil, errors.Errorf("expected %d dimensions separated by 'x', got %q", n, value)
	}
	dims := make([]int, n)
	for i, p := range parts {
		dim, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrapf(err, "dimension #%d of %q", i, value)
		}
		dims[i] = dim
	}
	return dims, nil
}

var dtypeNames = map[string]dtypes.DType{
	"float32":  dtypes.Float32,
	"float64":  dtypes.Float64,
	"float16":  dtypes.Float16,
	"bfloat16": dtypes.BFloat16,
	"int32":    dtypes.Int32,
	"int64":    dtypes.Int64,
}

func parseDType(name string) (dtypes.DType, error) {
	dtype, found := dtypeNames[strings.ToLower(name)]
	if !found {
		return dtypes.InvalidDType, errors.Errorf("unsupported dtype %q", name)
	}
	return dtype, nil
}

func dtypeName(dtype dtypes.DType) string {
	for name, d := range dtypeNames {
		if d == dtype {
			return name
		}
	}
	return strings.ToLower(dtype.String())
}
