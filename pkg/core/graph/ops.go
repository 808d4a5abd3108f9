// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"encoding/binary"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/nngraph/backends"
	"github.com/gomlx/nngraph/pkg/core/dtypes"
	"github.com/gomlx/nngraph/pkg/core/shapes"
)

// validateBinaryOp checks that both operands are valid and belong to the same context, and returns it.
func validateBinaryOp(opName string, lhs, rhs *Tensor) *Context {
	if lhs == nil || rhs == nil {
		exceptions.Panicf("%s: operands can't be nil", opName)
	}
	if lhs.ctx == nil || lhs.ctx != rhs.ctx {
		exceptions.Panicf("%s: operands must belong to the same Context", opName)
	}
	if lhs.DType() != rhs.DType() {
		exceptions.Panicf("%s: operands must have the same dtype, got lhs=%s and rhs=%s", opName, lhs.shape, rhs.shape)
	}
	if backends.OperandCodeFor(lhs.DType()) == backends.OperandInvalid {
		exceptions.Panicf("%s: dtype %s is not supported for tensors", opName, lhs.DType())
	}
	return lhs.ctx
}

// Add returns the elementwise sum of lhs and rhs, a new tensor of the same shape.
//
// If it's the first operator of the context, lhs becomes the graph input. Otherwise, lhs must be the output
// of the previous operator. rhs must be a new leaf tensor, and it's registered as a constant.
//
// The graph gets 3 new operands: rhs, the fused activation (always none) and the output.
func Add(lhs, rhs *Tensor) *Tensor {
	ctx := validateBinaryOp("Add", lhs, rhs)
	if !sameDimensions(lhs, rhs) {
		exceptions.Panicf("Add: operands must have the same dimensions, got lhs=%s and rhs=%s", lhs.shape, rhs.shape)
	}
	output := newInterior(ctx, lhs.shape.Clone())
	activation := auxOperand{
		operandType: backends.ActivationOperand(),
		value:       binary.NativeEndian.AppendUint32(nil, uint32(backends.FuseNone)),
	}
	return ctx.register("Add", backends.OperationAdd, lhs, rhs, output, []auxOperand{activation})
}

// MatMul returns the contraction of the last axis of lhs with the first axis of rhs: for rank-2 operands
// it's the usual matrix multiplication.
//
// The output has dimensions lhs[:-1] ++ rhs[1:], and
// output[i..., j...] = Σ_k lhs[i..., k] * rhs[k, j...].
//
// The same rules of Add apply for lhs and rhs. The graph gets 4 new operands: rhs, the two
// transpose flags (always false) and the output.
func MatMul(lhs, rhs *Tensor) *Tensor {
	ctx := validateBinaryOp("MatMul", lhs, rhs)
	if lhs.Rank() == 0 || rhs.Rank() == 0 {
		exceptions.Panicf("MatMul: operands must have rank >= 1, got lhs=%s and rhs=%s", lhs.shape, rhs.shape)
	}
	if lhs.shape.Dim(-1) != rhs.shape.Dim(0) {
		exceptions.Panicf("MatMul: last axis of lhs must match the first axis of rhs, got lhs=%s and rhs=%s",
			lhs.shape, rhs.shape)
	}
	outputDims := slices.Concat(lhs.shape.Dimensions[:lhs.Rank()-1], rhs.shape.Dimensions[1:])
	output := newInterior(ctx, shapes.Make(lhs.DType(), outputDims...))
	noTranspose := auxOperand{operandType: backends.BoolScalarOperand(), value: []byte{0}}
	return ctx.register("MatMul", backends.OperationBatchMatMul, lhs, rhs, output,
		[]auxOperand{noTranspose, noTranspose})
}

// newInterior creates the zero-filled output tensor of an operator.
func newInterior(ctx *Context, shape shapes.Shape) *Tensor {
	t := newTensor(ctx, shape, dtypes.MakeFlat(shape.DType, shape.Size()))
	t.interior = true
	return t
}
