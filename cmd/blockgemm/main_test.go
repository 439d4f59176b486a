// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/blockgemm/pkg/gemm/launch"
	"github.com/gomlx/blockgemm/pkg/gemm/tiling"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigString(t *testing.T) {
	t.Setenv(tiling.ConfigEnv, "")
	assert.Equal(t, DefaultConfig, configString())
	t.Setenv(tiling.ConfigEnv, "block=4,tile=2x4x4,thread=2x4,policy=flat,batch=2,chunk=1")
	assert.Equal(t, "block=4,tile=2x4x4,thread=2x4,policy=flat,batch=2,chunk=1", configString())
}

func TestTiles(t *testing.T) {
	for _, config := range []string{
		DefaultConfig,
		"block=4,batch=2,batch_per_thread=2,tile=8x32x8,thread=16x4,sub=8x2,level0=2x1,level1=1x2,chunk=2",
		"block=16,batch=4,batch_per_thread=2,tile=6x8x16,thread=4x4,policy=flat,chunk=3",
	} {
		cfg := must.M1(tiling.Parse(config))
		require.NoError(t, tiles(cfg), "config %q", config)
	}
}

func TestVerify(t *testing.T) {
	for _, dtype := range []string{"float32", "float64", "float16"} {
		cfg := must.M1(tiling.Parse(DefaultConfig + ",dtype=" + dtype))
		p, err := problemFromFlags(cfg)
		require.NoError(t, err)
		assert.Equal(t, launch.Problem{Batch: 8, M: 32, N: 32, K: 16}, p)
		require.NoError(t, verify(cfg, p), "dtype=%s", dtype)
	}

	cfg := must.M1(tiling.Parse(DefaultConfig + ",dtype=int32"))
	p := must.M1(problemFromFlags(cfg))
	require.Error(t, verify(cfg, p))
}

func TestSweep(t *testing.T) {
	cfg := must.M1(tiling.Parse(DefaultConfig + ",broadcast_b"))
	p := must.M1(problemFromFlags(cfg))
	assert.True(t, p.BroadcastB)
	// Chunk 3 doesn't divide the reduction dimension, and is reported as invalid.
	require.NoError(t, sweep(cfg, p, []int{1, 2, 3, 4, 8}, ""))

	for _, name := range []string{"sweep.png", "sweep.svg"} {
		plotPath := filepath.Join(t.TempDir(), name)
		require.NoError(t, sweep(cfg, p, []int{1, 2, 4}, plotPath))
		info, err := os.Stat(plotPath)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	// Nothing valid to plot.
	require.Error(t, sweep(cfg, p, []int{3}, filepath.Join(t.TempDir(), "empty.png")))
}

func TestSeededOperands(t *testing.T) {
	require.Equal(t, uint64(42), *flagSeed)
	cfg := must.M1(tiling.Parse(DefaultConfig))
	p := must.M1(problemFromFlags(cfg))
	results := make([][]float32, 2)
	for i := range results {
		rng := rand.New(rand.NewPCG(*flagSeed, 1))
		a := randomOperand(rng, p.LenA())
		b := randomOperand(rng, p.LenB())
		results[i] = launch.Reference(p, a, b)
	}
	require.Equal(t, results[0], results[1])
}
