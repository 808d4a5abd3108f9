// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/nngraph/backends"
	"github.com/gomlx/nngraph/internal/workerspool"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// numeric are the Go types the generic kernels are instantiated with.
// Float16 is computed in float32.
type numeric interface {
	constraints.Signed | constraints.Float
}

// minParallelWork is the minimum number of multiply-adds each parallel chunk of a MatMul should have.
const minParallelWork = 16 * 1024

// applyFuse applies the fused activation to x.
func applyFuse[T numeric](x T, fuse backends.FuseCode) T {
	switch fuse {
	case backends.FuseRelu:
		return max(x, 0)
	case backends.FuseRelu1:
		return min(max(x, T(-1)), T(1))
	case backends.FuseRelu6:
		return min(max(x, 0), T(6))
	default:
		return x
	}
}

// execAdd computes output = fuse(lhs + rhs), elementwise.
func execAdd[T numeric](lhs, rhs, output []T, fuse backends.FuseCode) {
	if fuse == backends.FuseNone {
		for ii := range output {
			output[ii] = lhs[ii] + rhs[ii]
		}
		return
	}
	for ii := range output {
		output[ii] = applyFuse(lhs[ii]+rhs[ii], fuse)
	}
}

// execAddFloat16 computes output = fuse(lhs + rhs) elementwise, rounding each result from float32.
func execAddFloat16(lhs, rhs, output []float16.Float16, fuse backends.FuseCode) {
	for ii := range output {
		output[ii] = float16.Fromfloat32(applyFuse(lhs[ii].Float32()+rhs[ii].Float32(), fuse))
	}
}

// matMulParams describes the contraction lhs[M, K] x rhs[K, N] -> output[M, N], where M is the
// product of the leading axes of lhs and N the product of the trailing axes of rhs.
type matMulParams struct {
	m, k, n                int
	transposeA, transposeB bool
}

// newMatMulParams for the given (non-transposed) operand dimensions.
func newMatMulParams(lhsDims, rhsDims []int, transposeA, transposeB bool) matMulParams {
	p := matMulParams{k: 1, n: 1, m: 1, transposeA: transposeA, transposeB: transposeB}
	if transposeA {
		p.m, p.k = lhsDims[1], lhsDims[0]
	} else {
		for _, dim := range lhsDims[:len(lhsDims)-1] {
			p.m *= dim
		}
		p.k = lhsDims[len(lhsDims)-1]
	}
	if transposeB {
		p.n = rhsDims[0]
	} else {
		for _, dim := range rhsDims[1:] {
			p.n *= dim
		}
	}
	return p
}

// strides returns the flat strides of lhs (row, contracting) and of rhs (contracting, column).
func (p matMulParams) strides() (lhsRow, lhsK, rhsK, rhsCol int) {
	lhsRow, lhsK = p.k, 1
	if p.transposeA {
		lhsRow, lhsK = 1, p.m
	}
	rhsK, rhsCol = p.n, 1
	if p.transposeB {
		rhsK, rhsCol = 1, p.k
	}
	return
}

// execMatMul computes the contraction described by p, splitting the rows of the output across the workers.
func execMatMul[T numeric](workers *workerspool.Pool, lhs, rhs, output []T, p matMulParams) {
	lhsRow, lhsK, rhsK, rhsCol := p.strides()
	minRows := minParallelWork / max(p.k*p.n, 1)
	workers.ParallelFor(p.m, minRows, func(start, end int) {
		for row := start; row < end; row++ {
			outRow := output[row*p.n : (row+1)*p.n]
			clear(outRow)
			lhsBase := row * lhsRow
			for kk := range p.k {
				a := lhs[lhsBase+kk*lhsK]
				rhsBase := kk * rhsK
				if rhsCol == 1 {
					rhsRow := rhs[rhsBase : rhsBase+p.n]
					for col, b := range rhsRow {
						outRow[col] += a * b
					}
				} else {
					for col := range outRow {
						outRow[col] += a * rhs[rhsBase+col*rhsCol]
					}
				}
			}
		}
	})
}

// execMatMulFloat16 converts the operands to float32, contracts them and rounds the result back.
func execMatMulFloat16(workers *workerspool.Pool, lhs, rhs, output []float16.Float16, p matMulParams) {
	lhs32 := float16ToFloat32(lhs)
	rhs32 := float16ToFloat32(rhs)
	output32 := make([]float32, len(output))
	execMatMul(workers, lhs32, rhs32, output32, p)
	for ii, v := range output32 {
		output[ii] = float16.Fromfloat32(v)
	}
}

func float16ToFloat32(values []float16.Float16) []float32 {
	converted := make([]float32, len(values))
	for ii, v := range values {
		converted[ii] = v.Float32()
	}
	return converted
}
