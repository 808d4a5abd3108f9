// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

// Graph is the builder of the list of operands and operations of a computation.
//
// Operands are identified by the index returned by AddOperand: indices are contiguous, starting at 0, in
// the order they were added. Operations must be added in execution order: an operation can only consume
// operands that are graph inputs, constants (with a value set), or outputs of previously added operations.
//
// After Finish the graph can no longer be modified, and it can be given to Backend.CompileForDevices.
// A Graph is not safe for concurrent use.
type Graph interface {
	// AddOperand adds a new operand slot and returns its index.
	AddOperand(operandType OperandType) (int, error)

	// SetOperandValue sets the constant value of the operand at index.
	// The value must have exactly the number of bytes of the operand, encoded in the host byte order.
	// The value is copied.
	SetOperandValue(index int, value []byte) error

	// AddOperation appends an operation that consumes the inputs operands and produces the outputs operands.
	AddOperation(op OperationCode, inputs, outputs []int) error

	// IdentifyInputsAndOutputs declares which operands are fed at execution time (inputs) and which are
	// returned (outputs). Their positions in the slices are the "slots" used by Execution.
	IdentifyInputsAndOutputs(inputs, outputs []int) error

	// Finish validates and freezes the graph.
	Finish() error

	// NumOperands returns the number of operands added so far.
	NumOperands() int
}
