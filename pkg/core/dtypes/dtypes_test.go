// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromGenericsType(t *testing.T) {
	require.Equal(t, Float32, FromGenericsType[float32]())
	require.Equal(t, Int32, FromGenericsType[int32]())
	require.Equal(t, Float16, FromGenericsType[float16.Float16]())
}

func TestFromGoType(t *testing.T) {
	require.Equal(t, Float32, FromGoType(reflect.TypeOf(float32(0))))
	require.Equal(t, Int32, FromGoType(reflect.TypeOf(int32(0))))
	require.Equal(t, Float16, FromGoType(reflect.TypeOf(float16.Fromfloat32(1))))
	require.Equal(t, Bool, FromGoType(reflect.TypeOf(true)))
	require.Equal(t, InvalidDType, FromGoType(reflect.TypeOf(int64(0))))
	for _, dtype := range []DType{Float32, Int32, Float16, Bool} {
		require.Equal(t, dtype, FromGoType(dtype.GoType()))
	}
}

func TestSize(t *testing.T) {
	require.Equal(t, 4, Float32.Size())
	require.Equal(t, 4, Int32.Size())
	require.Equal(t, 2, Float16.Size())
	require.Equal(t, 1, Bool.Size())
	require.Panics(t, func() { _ = InvalidDType.Size() })
}

func TestFlat(t *testing.T) {
	dtype, length := FromFlat([]float32{1, 2, 3})
	require.Equal(t, Float32, dtype)
	require.Equal(t, 3, length)

	dtype, _ = FromFlat([]float64{1})
	require.Equal(t, InvalidDType, dtype)

	require.Equal(t, []int32{0, 0}, MakeFlat(Int32, 2))
	require.Len(t, MakeFlat(Float16, 5), 5)
	require.Panics(t, func() { MakeFlat(Bool, 1) })
	require.False(t, Bool.IsTensorType())
	require.True(t, Float16.IsFloat())
	require.Equal(t, "Float32", Float32.String())
}
