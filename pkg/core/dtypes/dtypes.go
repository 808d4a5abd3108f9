// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the data types supported by nngraph tensors.
//
// The set is deliberately small and closed: accelerator engines only accept a handful of
// operand encodings, and each DType maps to exactly one of them (see backends.OperandCodeFor).
//
// Go float16 support uses the github.com/x448/float16 implementation.
package dtypes

import (
	"reflect"
	"strconv"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DType is an enum representing the data type of tensor elements.
type DType int32

const (
	// InvalidDType is the zero value and represents an unset data type.
	InvalidDType DType = iota

	// Float32 is the IEEE 754 single precision float.
	Float32

	// Int32 is a signed 32 bits integer.
	Int32

	// Float16 is the IEEE 754 half precision float, see github.com/x448/float16.
	Float16

	// Bool is only used for scalar flags (e.g. the transpose flags of a MatMul). Tensors can't be Bool.
	Bool
)

// Supported lists the Go types that can be used as flat data of a tensor.
type Supported interface {
	float32 | int32 | float16.Float16
}

var (
	float16Type = reflect.TypeOf(float16.Float16(0))

	dtypeNames = map[DType]string{
		InvalidDType: "InvalidDType",
		Float32:      "Float32",
		Int32:        "Int32",
		Float16:      "Float16",
		Bool:         "Bool",
	}
)

// panicf panics with the formatted description.
//
// It is only used for "bugs in the code" -- when parameters don't follow the documented contract.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if name, found := dtypeNames[dtype]; found {
		return name
	}
	return "DType(" + strconv.Itoa(int(dtype)) + ")"
}

// IsValid returns whether dtype is one of the known data types.
func (dtype DType) IsValid() bool {
	return dtype > InvalidDType && dtype <= Bool
}

// IsFloat returns whether dtype is a floating point type.
func (dtype DType) IsFloat() bool {
	return dtype == Float32 || dtype == Float16
}

// IsTensorType returns whether dtype can be used as the element type of a tensor.
func (dtype DType) IsTensorType() bool {
	return dtype == Float32 || dtype == Int32 || dtype == Float16
}

// Size returns the number of bytes for the given DType.
func (dtype DType) Size() int {
	switch dtype {
	case Float32, Int32:
		return 4
	case Float16:
		return 2
	case Bool:
		return 1
	default:
		panicf("DType.Size() of invalid dtype %s", dtype)
	}
	return 0
}

// Memory returns the number of bytes for the given DType, as an uintptr.
func (dtype DType) Memory() uintptr {
	return uintptr(dtype.Size())
}

// GoType returns the Go `reflect.Type` corresponding to the dtype.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Float32:
		return reflect.TypeOf(float32(0))
	case Int32:
		return reflect.TypeOf(int32(0))
	case Float16:
		return float16Type
	case Bool:
		return reflect.TypeOf(false)
	default:
		panicf("DType.GoType() of invalid dtype %s", dtype)
	}
	return nil
}

// FromGenericsType returns the DType enum for the given type.
func FromGenericsType[T Supported]() DType {
	var t T
	switch (any(t)).(type) {
	case float32:
		return Float32
	case int32:
		return Int32
	case float16.Float16:
		return Float16
	}
	return InvalidDType
}

// FromGoType returns the DType for the given reflect.Type, or InvalidDType if not supported.
func FromGoType(t reflect.Type) DType {
	if t == float16Type {
		return Float16
	}
	switch t.Kind() {
	case reflect.Float32:
		return Float32
	case reflect.Int32:
		return Int32
	case reflect.Bool:
		return Bool
	default:
		return InvalidDType
	}
}

// FromFlat returns the DType of a flat slice of values (e.g.: []float32) and its length.
// It returns InvalidDType if flat is not a slice of a supported tensor type.
func FromFlat(flat any) (DType, int) {
	switch f := flat.(type) {
	case []float32:
		return Float32, len(f)
	case []int32:
		return Int32, len(f)
	case []float16.Float16:
		return Float16, len(f)
	}
	return InvalidDType, 0
}

// MakeFlat allocates a zero-filled flat slice of the given dtype and length.
func MakeFlat(dtype DType, length int) any {
	switch dtype {
	case Float32:
		return make([]float32, length)
	case Int32:
		return make([]int32, length)
	case Float16:
		return make([]float16.Float16, length)
	default:
		panicf("MakeFlat: dtype %s can't be used for tensors", dtype)
	}
	return nil
}
