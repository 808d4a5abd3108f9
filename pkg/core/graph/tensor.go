// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"
	"sync"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/nngraph/backends"
	"github.com/gomlx/nngraph/pkg/core/dtypes"
	"github.com/gomlx/nngraph/pkg/core/shapes"
	"github.com/x448/float16"
)

// Tensor is a multidimensional array of a fixed shape, bound to an execution Context.
//
// Leaf tensors are created by the user with FromFlat (or FromAnyFlat, Zeros) and hold the user data.
// Interior tensors are returned by the operators (Add, MatMul) and are zero-filled until the graph is
// executed with the tensor as its output (see Tensor.GetData and Pipeline).
//
// Tensors are shared by pointer: the graph holds on to the tensors registered as its operands.
// Use Clone to make an independent copy.
type Tensor struct {
	shape shapes.Shape

	// data is a flat slice of the shape's dtype, e.g. []float32.
	data any

	ctx *Context

	// operand is the index of the tensor in the context graph, or -1 if it's not registered.
	// Protected by ctx.mu.
	operand int

	// interior is set for tensors created as the output of an operator.
	interior bool

	// dataMu serializes the updates of data by GetData.
	dataMu sync.Mutex
}

// newTensor creates a tensor taking ownership of the flat data.
func newTensor(ctx *Context, shape shapes.Shape, flat any) *Tensor {
	if ctx == nil {
		exceptions.Panicf("cannot create a tensor for a nil Context")
	}
	return &Tensor{shape: shape, data: flat, ctx: ctx, operand: -1}
}

// FromFlat creates a leaf tensor in the context with a copy of the flat data, with the given dimensions.
// If no dimensions are given, it creates a 1D tensor with len(flat) elements.
//
// It panics if the size of the dimensions doesn't match the length of flat.
func FromFlat[T dtypes.Supported](ctx *Context, flat []T, dimensions ...int) *Tensor {
	return FromAnyFlat(ctx, flat, dimensions...)
}

// FromAnyFlat is the non-generic version of FromFlat: flat must be a slice of one of the tensor
// dtypes (dtypes.Supported).
func FromAnyFlat(ctx *Context, flat any, dimensions ...int) *Tensor {
	dtype, length := dtypes.FromFlat(flat)
	if dtype == dtypes.InvalidDType {
		exceptions.Panicf("FromAnyFlat: unsupported flat type %T, only []float32, []int32 and []float16.Float16 are supported", flat)
	}
	if len(dimensions) == 0 {
		dimensions = []int{length}
	}
	shape := shapes.Make(dtype, dimensions...)
	if shape.Size() != length {
		exceptions.Panicf("FromAnyFlat: shape %s requires %d elements, but %d were given", shape, shape.Size(), length)
	}
	data := dtypes.MakeFlat(dtype, length)
	copyFlat(data, flat)
	return newTensor(ctx, shape, data)
}

// Zeros creates a zero-filled leaf tensor in the context with the given shape.
func Zeros(ctx *Context, shape shapes.Shape) *Tensor {
	if !shape.DType.IsTensorType() {
		exceptions.Panicf("Zeros: dtype %s can't be used for tensors", shape.DType)
	}
	shape = shapes.Make(shape.DType, shape.Dimensions...)
	return newTensor(ctx, shape, dtypes.MakeFlat(shape.DType, shape.Size()))
}

// copyFlat assumes both flat slices are of the same type and length.
func copyFlat(dst, src any) {
	switch d := dst.(type) {
	case []float32:
		copy(d, src.([]float32))
	case []int32:
		copy(d, src.([]int32))
	case []float16.Float16:
		copy(d, src.([]float16.Float16))
	default:
		exceptions.Panicf("copyFlat: unsupported type %T", dst)
	}
}

// Clone returns a new leaf tensor in the same context, with a copy of the data.
// The clone is not registered in the graph, even if the original tensor is.
func (t *Tensor) Clone() *Tensor {
	data := dtypes.MakeFlat(t.shape.DType, t.shape.Size())
	copyFlat(data, t.data)
	return newTensor(t.ctx, t.shape.Clone(), data)
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape.Clone() }

// DType of the tensor's elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Context the tensor belongs to.
func (t *Tensor) Context() *Context { return t.ctx }

// IsInterior returns whether the tensor is the output of an operator, as opposed to a leaf created by the user.
func (t *Tensor) IsInterior() bool { return t.interior }

// Operand returns the index of the tensor in the context graph, or -1 if the tensor is not registered.
func (t *Tensor) Operand() int {
	t.ctx.mu.Lock()
	defer t.ctx.mu.Unlock()
	return t.operand
}

// Flat returns the flat data of the tensor, a slice of its dtype (e.g. []float32).
//
// It is not a copy: interior tensors are filled in place when a pipeline is executed with them as output.
func (t *Tensor) Flat() any { return t.data }

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	kind := "leaf"
	if t.interior {
		kind = "interior"
	}
	return fmt.Sprintf("Tensor(%s, %s)", t.shape, kind)
}

// operandType returns how the tensor is described to the backend.
func (t *Tensor) operandType() backends.OperandType {
	return backends.TensorOperand(t.shape)
}

// bytes returns a view of the tensor data as bytes, in the host byte order.
func (t *Tensor) bytes() []byte {
	switch flat := t.data.(type) {
	case []float32:
		return flatBytes(flat)
	case []int32:
		return flatBytes(flat)
	case []float16.Float16:
		return flatBytes(flat)
	default:
		exceptions.Panicf("Tensor.bytes: unsupported flat type %T", t.data)
		return nil
	}
}

func flatBytes[T dtypes.Supported](flat []T) []byte {
	if len(flat) == 0 {
		return []byte{}
	}
	var t T
	return unsafe.Slice((*byte)(unsafe.Pointer(&flat[0])), len(flat)*int(unsafe.Sizeof(t)))
}

// sameDimensions is like slices.Equal, but reads better at the call sites.
func sameDimensions(a, b *Tensor) bool {
	return slices.Equal(a.shape.Dimensions, b.shape.Dimensions)
}
