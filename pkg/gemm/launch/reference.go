// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package launch

import (
	"github.com/gomlx/blockgemm/pkg/core/threadwise"
	"gonum.org/v1/gonum/mat"
)

// Reference computes the problem with a plain triple loop over the global matrices.
//
// Reduction terms are accumulated in increasing k order with the same rounding as threadwise.MulAdd,
// so for floating point types it returns the same bits as BatchedMatMul with the default kernels.
func Reference[T threadwise.Number](p Problem, a, b []T) []T {
	c := make([]T, p.LenC())
	for batch := range p.Batch {
		aBatch, bBatch := batch, batch
		if p.BroadcastA {
			aBatch = 0
		}
		if p.BroadcastB {
			bBatch = 0
		}
		aMat := a[aBatch*p.M*p.K:]
		bMat := b[bBatch*p.K*p.N:]
		cMat := c[batch*p.M*p.N:]
		for i := range p.M {
			for j := range p.N {
				var sum T
				for k := range p.K {
					threadwise.MulAdd(&sum, aMat[i*p.K+k], bMat[k*p.N+j])
				}
				cMat[i*p.N+j] = sum
			}
		}
	}
	return c
}

// GonumReference computes the float64 problem with gonum's matrix multiplication.
func GonumReference(p Problem, a, b []float64) []float64 {
	c := make([]float64, p.LenC())
	for batch := range p.Batch {
		aBatch, bBatch := batch, batch
		if p.BroadcastA {
			aBatch = 0
		}
		if p.BroadcastB {
			bBatch = 0
		}
		aMat := mat.NewDense(p.M, p.K, a[aBatch*p.M*p.K:(aBatch+1)*p.M*p.K])
		bMat := mat.NewDense(p.K, p.N, b[bBatch*p.K*p.N:(bBatch+1)*p.K*p.N])
		cMat := mat.NewDense(p.M, p.N, c[batch*p.M*p.N:(batch+1)*p.M*p.N])
		cMat.Mul(aMat, bMat)
	}
	return c
}
