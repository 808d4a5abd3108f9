// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "fmt"

// OperationCode is an enum of the operations a Graph can hold.
type OperationCode int

const (
	OperationInvalid OperationCode = iota

	// OperationAdd adds two tensors of the same shape elementwise.
	//
	// Inputs: lhs tensor, rhs tensor, activation (OperandInt32 with a FuseCode).
	// Outputs: one tensor with the shape of lhs.
	OperationAdd

	// OperationBatchMatMul contracts the last axis of lhs with the first axis of rhs.
	//
	// Inputs: lhs tensor, rhs tensor, transposeA (OperandBool), transposeB (OperandBool).
	// Outputs: one tensor with dimensions lhs[:-1] ++ rhs[1:].
	// Transposition is only defined for rank-2 operands, and swaps their two axes.
	OperationBatchMatMul

	// OperationLast should always be kept the last, it is used as a counter/marker for OperationCode.
	OperationLast
)

// String implements fmt.Stringer.
func (op OperationCode) String() string {
	switch op {
	case OperationAdd:
		return "Add"
	case OperationBatchMatMul:
		return "BatchMatMul"
	case OperationInvalid:
		return "Invalid"
	default:
		return fmt.Sprintf("OperationCode(%d)", int(op))
	}
}

// NumInputs returns the number of input operands the operation takes, or -1 if op is unknown.
func (op OperationCode) NumInputs() int {
	switch op {
	case OperationAdd:
		return 3
	case OperationBatchMatMul:
		return 4
	default:
		return -1
	}
}
