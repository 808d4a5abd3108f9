// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/nngraph/pkg/core/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float32)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 4, int(shape0.Memory()))

	shape1 := Make(dtypes.Float16, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 2*4*3*2, int(shape1.Memory()))

	zeroSized := Make(dtypes.Int32, 3, 0)
	require.Equal(t, 0, zeroSized.Size())
	require.Panics(t, func() { _ = Make(dtypes.Int32, -1) })
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestEqualAndClone(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3)
	c := s.Clone()
	require.True(t, s.Equal(c))
	c.Dimensions[0] = 5
	require.False(t, s.Equal(c))
	require.Equal(t, 2, s.Dim(0))

	require.False(t, s.Equal(Make(dtypes.Int32, 2, 3)))
	require.True(t, s.EqualDimensions(Make(dtypes.Int32, 2, 3)))
}

func TestStrides(t *testing.T) {
	require.Equal(t, []int{6, 2, 1}, Make(dtypes.Float32, 4, 3, 2).Strides())
	require.Nil(t, Make(dtypes.Float32).Strides())
}

func TestString(t *testing.T) {
	require.Equal(t, "(Float32)[2 3]", Make(dtypes.Float32, 2, 3).String())
	require.Equal(t, "(Int32)", Make(dtypes.Int32).String())
}
