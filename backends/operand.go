// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"slices"

	"github.com/gomlx/nngraph/pkg/core/dtypes"
	"github.com/gomlx/nngraph/pkg/core/shapes"
)

// OperandCode is the encoding of an operand slot in a Graph.
type OperandCode int

const (
	OperandInvalid OperandCode = iota

	// OperandInt32 is a scalar int32, used for instance for the fused activation of an Add.
	OperandInt32

	// OperandBool is a scalar boolean (one byte), used for instance for the transpose flags of a BatchMatMul.
	OperandBool

	OperandTensorFloat32
	OperandTensorInt32
	OperandTensorFloat16

	// OperandLast should always be kept the last, it is used as a counter/marker for OperandCode.
	OperandLast
)

var operandCodeNames = [OperandLast]string{
	OperandInvalid:       "Invalid",
	OperandInt32:         "Int32",
	OperandBool:          "Bool",
	OperandTensorFloat32: "TensorFloat32",
	OperandTensorInt32:   "TensorInt32",
	OperandTensorFloat16: "TensorFloat16",
}

// String implements fmt.Stringer.
func (c OperandCode) String() string {
	if c >= 0 && c < OperandLast {
		return operandCodeNames[c]
	}
	return fmt.Sprintf("OperandCode(%d)", int(c))
}

// IsTensor returns whether the code is for a tensor operand, as opposed to a scalar.
func (c OperandCode) IsTensor() bool {
	return c == OperandTensorFloat32 || c == OperandTensorInt32 || c == OperandTensorFloat16
}

// operandDTypes maps each code to the dtype of its elements.
var operandDTypes = [OperandLast]dtypes.DType{
	OperandInt32:         dtypes.Int32,
	OperandBool:          dtypes.Bool,
	OperandTensorFloat32: dtypes.Float32,
	OperandTensorInt32:   dtypes.Int32,
	OperandTensorFloat16: dtypes.Float16,
}

// DType returns the dtype of the elements of an operand with this code.
func (c OperandCode) DType() dtypes.DType {
	if c > OperandInvalid && c < OperandLast {
		return operandDTypes[c]
	}
	return dtypes.InvalidDType
}

// tensorOperandCodes maps the tensor dtypes to their operand code.
var tensorOperandCodes = map[dtypes.DType]OperandCode{
	dtypes.Float32: OperandTensorFloat32,
	dtypes.Int32:   OperandTensorInt32,
	dtypes.Float16: OperandTensorFloat16,
}

// OperandCodeFor returns the tensor operand code used to encode tensors of the given dtype.
// It returns OperandInvalid if the dtype can't be used for tensors.
func OperandCodeFor(dtype dtypes.DType) OperandCode {
	if code, found := tensorOperandCodes[dtype]; found {
		return code
	}
	return OperandInvalid
}

// OperandType describes an operand slot: its code, and for tensors its dimensions.
type OperandType struct {
	Code       OperandCode
	Dimensions []int
}

// TensorOperand returns the OperandType for a tensor of the given shape.
// Code is OperandInvalid if the shape's dtype can't be used for tensors.
func TensorOperand(shape shapes.Shape) OperandType {
	return OperandType{Code: OperandCodeFor(shape.DType), Dimensions: slices.Clone(shape.Dimensions)}
}

// ActivationOperand returns the OperandType of the fused activation scalar of an Add operation.
func ActivationOperand() OperandType {
	return OperandType{Code: OperandInt32}
}

// BoolScalarOperand returns the OperandType of a boolean flag scalar.
func BoolScalarOperand() OperandType {
	return OperandType{Code: OperandBool}
}

// Shape returns the shape of the operand. Scalars have rank 0.
func (t OperandType) Shape() shapes.Shape {
	return shapes.Shape{DType: t.Code.DType(), Dimensions: slices.Clone(t.Dimensions)}
}

// ByteSize returns the number of bytes of a value of this operand.
func (t OperandType) ByteSize() int {
	return int(t.Shape().Memory())
}

// String implements fmt.Stringer.
func (t OperandType) String() string {
	if !t.Code.IsTensor() {
		return t.Code.String()
	}
	return fmt.Sprintf("%s%v", t.Code, t.Dimensions)
}

// FuseCode is the value of the activation operand of an Add operation.
type FuseCode int32

const (
	FuseNone FuseCode = iota
	FuseRelu
	FuseRelu1
	FuseRelu6
)

// String implements fmt.Stringer.
func (f FuseCode) String() string {
	switch f {
	case FuseNone:
		return "None"
	case FuseRelu:
		return "Relu"
	case FuseRelu1:
		return "Relu1"
	case FuseRelu6:
		return "Relu6"
	default:
		return fmt.Sprintf("FuseCode(%d)", int32(f))
	}
}
