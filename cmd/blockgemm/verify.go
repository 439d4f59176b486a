// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/blockgemm/pkg/core/threadwise"
	"github.com/gomlx/blockgemm/pkg/gemm/blockwise"
	"github.com/gomlx/blockgemm/pkg/gemm/launch"
	"github.com/gomlx/blockgemm/pkg/gemm/tiling"
	"github.com/gomlx/blockgemm/pkg/support/xslices"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// problemFromFlags returns the problem given by -batches, -m, -n and -k, defaulting to twice the block tile.
func problemFromFlags(cfg *tiling.Config) (launch.Problem, error) {
	orDefault := func(value, blockDim int) int {
		if value == 0 {
			return 2 * blockDim
		}
		return value
	}
	p := launch.Problem{
		Batch:      orDefault(*flagBatches, cfg.BatchSize),
		M:          orDefault(*flagM, cfg.M()),
		N:          orDefault(*flagN, cfg.N()),
		K:          orDefault(*flagK, cfg.K()),
		BroadcastA: cfg.BlockStrideA == 0,
		BroadcastB: cfg.BlockStrideB == 0,
	}
	return p, p.Check(cfg)
}

// sweepResult is one row of the reduction chunk sweep.
type sweepResult struct {
	chunk   int
	kernel  string
	elapsed time.Duration
	status  string
}

// timedMatMul runs the problem and returns the result and the elapsed time.
func timedMatMul[TA, TB, TC any](cfg *tiling.Config, p launch.Problem, a []TA, b []TB,
	kernel blockwise.Kernel[TA, TB, TC]) ([]TC, time.Duration, error) {
	c := make([]TC, p.LenC())
	start := time.Now()
	err := launch.BatchedMatMul(context.Background(), cfg, p, a, b, c, kernel)
	return c, time.Since(start), err
}

// randomOperand returns n values uniformly distributed in [-1, 1).
func randomOperand(rng *rand.Rand, n int) []float32 {
	return xslices.Map(make([]float32, n), func(float32) float32 { return rng.Float32()*2 - 1 })
}

// toFloat64 converts the slice to float64, for comparison with gonum.
func toFloat64[T float32 | float64](values []T) []float64 {
	return xslices.Map(values, func(v T) float64 { return float64(v) })
}

// verify runs the problem with the configuration and compares it with the triple loop reference and gonum.
func verify(cfg *tiling.Config, p launch.Problem) error {
	rng := rand.New(rand.NewPCG(*flagSeed, 0))
	var (
		kernelName         string
		elapsed            time.Duration
		diffRef, diffGonum float64
		tolerance          float64
	)
	switch cfg.DType {
	case dtypes.Float32:
		a := randomOperand(rng, p.LenA())
		b := randomOperand(rng, p.LenB())
		kernel := blockwise.SelectFloat32Kernel(cfg)
		kernelName = kernel.Name()
		c, d, err := timedMatMul(cfg, p, a, b, kernel)
		if err != nil {
			return err
		}
		elapsed = d
		diffRef, _ = xslices.MaxAbsDiff(launch.Reference(p, a, b), c)
		diffGonum, _ = xslices.MaxAbsDiff(launch.GonumReference(p, toFloat64(a), toFloat64(b)), toFloat64(c))
		tolerance = 1e-5 * float64(p.K)

	case dtypes.Float64:
		a := xslices.Map(make([]float64, p.LenA()), func(float64) float64 { return rng.Float64()*2 - 1 })
		b := xslices.Map(make([]float64, p.LenB()), func(float64) float64 { return rng.Float64()*2 - 1 })
		kernel := blockwise.Generic(threadwise.MulAdd[float64])
		kernelName = kernel.Name()
		c, d, err := timedMatMul(cfg, p, a, b, kernel)
		if err != nil {
			return err
		}
		elapsed = d
		diffRef, _ = xslices.MaxAbsDiff(launch.Reference(p, a, b), c)
		diffGonum, _ = xslices.MaxAbsDiff(launch.GonumReference(p, a, b), c)
		tolerance = 1e-12 * float64(p.K)

	case dtypes.Float16:
		// Small integers, exactly representable in half precision, accumulated in float32.
		a32 := xslices.Map(make([]float32, p.LenA()), func(float32) float32 { return float32(rng.IntN(9) - 4) })
		b32 := xslices.Map(make([]float32, p.LenB()), func(float32) float32 { return float32(rng.IntN(9) - 4) })
		a := xslices.Map(a32, float16.Fromfloat32)
		b := xslices.Map(b32, float16.Fromfloat32)
		kernel := blockwise.Generic(threadwise.MulAddFloat16)
		kernelName = kernel.Name() + " (float16 x float16 -> float32)"
		c, d, err := timedMatMul(cfg, p, a, b, kernel)
		if err != nil {
			return err
		}
		elapsed = d
		diffRef, _ = xslices.MaxAbsDiff(launch.Reference(p, a32, b32), c)
		diffGonum, _ = xslices.MaxAbsDiff(launch.GonumReference(p, toFloat64(a32), toFloat64(b32)), toFloat64(c))

	default:
		return errors.Errorf("verification not supported for dtype %s", cfg.DType)
	}

	fmt.Println(titleStyle.Render("Verification"))
	table := newPlainTable(false)
	table.Row("problem", p.String())
	table.Row("kernel", kernelName)
	table.Row("elapsed", elapsed.String())
	table.Row("throughput", humanize.SIWithDigits(float64(p.Flops())/elapsed.Seconds(), 2, "flop/s"))
	table.Row("max diff to triple loop", strconv.FormatFloat(diffRef, 'g', 4, 64))
	table.Row("max diff to gonum", strconv.FormatFloat(diffGonum, 'g', 4, 64))
	fmt.Println(table.Render())

	if diffRef != 0 {
		return errors.Errorf("result differs from the triple loop reference by up to %g", diffRef)
	}
	if diffGonum > tolerance {
		return errors.Errorf("result differs from gonum by up to %g (tolerance %g)", diffGonum, tolerance)
	}
	klog.V(1).Infof("verified %s with %s", p, cfg)
	return nil
}

// sweep runs the problem with each of the reduction chunks and checks that all results are identical.
// If plotPath is set, the elapsed times are also plotted to that file.
func sweep(cfg *tiling.Config, p launch.Problem, chunks []int, plotPath string) error {
	rng := rand.New(rand.NewPCG(*flagSeed, 1))
	a := randomOperand(rng, p.LenA())
	b := randomOperand(rng, p.LenB())

	results := make([]sweepResult, 0, len(chunks))
	var first []float32
	var mismatch bool

	bar := progressbar.NewOptions(len(chunks),
		progressbar.OptionSetDescription("reduction chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	for _, chunk := range chunks {
		r := sweepResult{chunk: chunk}
		chunkCfg, err := tiling.Parse(fmt.Sprintf("%s,chunk=%d", cfg, chunk))
		if err != nil {
			r.status = fmt.Sprintf("invalid: %v", err)
			results = append(results, r)
			_ = bar.Add(1)
			continue
		}
		kernel := blockwise.SelectFloat32Kernel(chunkCfg)
		r.kernel = kernel.Name()
		c, elapsed, err := timedMatMul(chunkCfg, p, a, b, kernel)
		if err != nil {
			return errors.WithMessagef(err, "chunk=%d", chunk)
		}
		r.elapsed = elapsed
		switch {
		case first == nil:
			first = c
			r.status = "baseline"
		default:
			diff, idx := xslices.MaxAbsDiff(first, c)
			if diff == 0 {
				r.status = "identical"
			} else {
				r.status = fmt.Sprintf("differs by %g at #%d", diff, idx)
				mismatch = true
			}
		}
		results = append(results, r)
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	fmt.Println(titleStyle.Render("Reduction chunk sweep"))
	table := newPlainTable(true)
	table.Headers("chunk", "kernel", "elapsed", "result")
	for _, r := range results {
		elapsed := "-"
		if r.elapsed > 0 {
			elapsed = r.elapsed.String()
		}
		table.Row(strconv.Itoa(r.chunk), r.kernel, elapsed, r.status)
	}
	fmt.Println(table.Render())
	if plotPath != "" {
		if err := plotSweep(p, results, plotPath); err != nil {
			return err
		}
		fmt.Printf("  Sweep plot saved to %q.\n", plotPath)
	}
	if mismatch {
		return errors.New("results depend on the reduction chunk")
	}
	return nil
}
