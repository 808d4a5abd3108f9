// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"testing"

	"github.com/gomlx/nngraph/pkg/core/dtypes"
	"github.com/gomlx/nngraph/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend only records the configuration it was created with.
type fakeBackend struct {
	Backend
	config string
}

func (b *fakeBackend) Name() string { return "fake" }

func TestNewWithConfig(t *testing.T) {
	Register("fake", func(config string) (Backend, error) {
		if config == "fail" {
			return nil, errors.New("failed on purpose")
		}
		return &fakeBackend{config: config}, nil
	})
	require.Contains(t, List(), "fake")

	b, err := NewWithConfig("fake:a:b")
	require.NoError(t, err)
	require.Equal(t, "a:b", b.(*fakeBackend).config)

	b, err = NewWithConfig("fake")
	require.NoError(t, err)
	require.Empty(t, b.(*fakeBackend).config)

	_, err = NewWithConfig("fake:fail")
	require.ErrorContains(t, err, "failed on purpose")

	_, err = NewWithConfig("unknown")
	require.Error(t, err)

	t.Setenv(ConfigEnvVar, "fake:from_env")
	b, err = New()
	require.NoError(t, err)
	require.Equal(t, "from_env", b.(*fakeBackend).config)
}

func TestOperandType(t *testing.T) {
	assert.Equal(t, OperandTensorFloat32, OperandCodeFor(dtypes.Float32))
	assert.Equal(t, OperandTensorInt32, OperandCodeFor(dtypes.Int32))
	assert.Equal(t, OperandTensorFloat16, OperandCodeFor(dtypes.Float16))
	assert.Equal(t, OperandInvalid, OperandCodeFor(dtypes.Bool))

	operand := TensorOperand(shapes.Make(dtypes.Float16, 2, 3))
	assert.True(t, operand.Code.IsTensor())
	assert.Equal(t, 12, operand.ByteSize())
	assert.Equal(t, "TensorFloat16[2 3]", operand.String())
	assert.True(t, operand.Shape().Equal(shapes.Make(dtypes.Float16, 2, 3)))

	assert.Equal(t, 4, ActivationOperand().ByteSize())
	assert.Equal(t, 1, BoolScalarOperand().ByteSize())
	assert.False(t, BoolScalarOperand().Code.IsTensor())
	assert.Equal(t, "Int32", ActivationOperand().String())
	assert.Equal(t, "Relu6", FuseRelu6.String())
	assert.Equal(t, "OperandCode(99)", OperandCode(99).String())
}

func TestOperationCode(t *testing.T) {
	assert.Equal(t, 3, OperationAdd.NumInputs())
	assert.Equal(t, 4, OperationBatchMatMul.NumInputs())
	assert.Equal(t, -1, OperationInvalid.NumInputs())
	assert.Equal(t, "BatchMatMul", OperationBatchMatMul.String())

	caps := Capabilities{
		Operations: map[OperationCode]bool{OperationAdd: true},
		Operands:   map[OperandCode]bool{OperandTensorFloat32: true},
	}
	clone := caps.Clone()
	clone.Operations[OperationBatchMatMul] = true
	assert.False(t, caps.Operations[OperationBatchMatMul])
}
