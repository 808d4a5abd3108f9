// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"encoding/binary"
	"slices"

	"github.com/gomlx/nngraph/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// lifetime of an operand in the graph.
type lifetime int

const (
	// lifetimeTemporary operands are produced by an operation and consumed by later ones.
	lifetimeTemporary lifetime = iota

	// lifetimeConstant operands have a value set with SetOperandValue.
	lifetimeConstant

	// lifetimeInput operands are fed at execution time.
	lifetimeInput

	// lifetimeOutput operands are written to the caller's buffer at execution time.
	lifetimeOutput
)

// operand is a slot of the graph.
type operand struct {
	operandType backends.OperandType
	lifetime    lifetime
	value       []byte

	// producer is the index of the operation that outputs this operand, or -1.
	producer int
}

// operation of the graph, in execution order.
type operation struct {
	op      backends.OperationCode
	inputs  []int
	outputs []int
}

// Graph implements backends.Graph.
type Graph struct {
	backend    *Backend
	operands   []*operand
	operations []*operation

	inputs, outputs []int
	identified      bool
	finished        bool
}

var _ backends.Graph = (*Graph)(nil)

func (g *Graph) checkBuilding(method string) error {
	if g.finished {
		return errors.Errorf("Graph.%s: graph has already been finished, it can't be changed", method)
	}
	return g.backend.checkValid()
}

func (g *Graph) checkOperandIndex(method string, index int) error {
	if index < 0 || index >= len(g.operands) {
		return errors.Errorf("Graph.%s: operand index %d out-of-range, graph has %d operands", method, index, len(g.operands))
	}
	return nil
}

// NumOperands returns the number of operands added so far.
func (g *Graph) NumOperands() int {
	return len(g.operands)
}

// AddOperand adds a new operand slot and returns its index.
func (g *Graph) AddOperand(operandType backends.OperandType) (int, error) {
	if err := g.checkBuilding("AddOperand"); err != nil {
		return 0, err
	}
	code := operandType.Code
	if code <= backends.OperandInvalid || code >= backends.OperandLast {
		return 0, errors.Errorf("Graph.AddOperand: invalid operand code %s", code)
	}
	if !code.IsTensor() && len(operandType.Dimensions) > 0 {
		return 0, errors.Errorf("Graph.AddOperand: scalar operand %s can't have dimensions %v", code, operandType.Dimensions)
	}
	for _, dim := range operandType.Dimensions {
		if dim < 0 {
			return 0, errors.Errorf("Graph.AddOperand: operand %s has a negative dimension", operandType)
		}
	}
	index := len(g.operands)
	g.operands = append(g.operands, &operand{
		operandType: backends.OperandType{Code: code, Dimensions: slices.Clone(operandType.Dimensions)},
		producer:    -1,
	})
	klog.V(2).Infof("simplego: operand #%d: %s", index, operandType)
	return index, nil
}

// SetOperandValue sets the constant value of the operand at index. The value is copied.
func (g *Graph) SetOperandValue(index int, value []byte) error {
	if err := g.checkBuilding("SetOperandValue"); err != nil {
		return err
	}
	if err := g.checkOperandIndex("SetOperandValue", index); err != nil {
		return err
	}
	o := g.operands[index]
	if o.producer >= 0 {
		return errors.Errorf("Graph.SetOperandValue: operand #%d is the output of operation #%d, it can't be a constant",
			index, o.producer)
	}
	if expected := o.operandType.ByteSize(); len(value) != expected {
		return errors.Errorf("Graph.SetOperandValue: operand #%d (%s) takes %d bytes, got %d bytes",
			index, o.operandType, expected, len(value))
	}
	o.value = alignedBytes(len(value))
	copy(o.value, value)
	o.lifetime = lifetimeConstant
	return nil
}

// AddOperation appends an operation that consumes the inputs operands and produces the outputs operands.
//
// Only the structure is checked here: the operand values and the shapes are validated by Finish, since
// constants can be set after the operation is added.
func (g *Graph) AddOperation(op backends.OperationCode, inputs, outputs []int) error {
	if err := g.checkBuilding("AddOperation"); err != nil {
		return err
	}
	numInputs := op.NumInputs()
	if numInputs < 0 {
		return errors.Errorf("Graph.AddOperation: unknown operation %s", op)
	}
	if len(inputs) != numInputs || len(outputs) != 1 {
		return errors.Errorf("Graph.AddOperation(%s): takes %d inputs and 1 output, got %d inputs and %d outputs",
			op, numInputs, len(inputs), len(outputs))
	}
	for _, index := range inputs {
		if err := g.checkOperandIndex("AddOperation", index); err != nil {
			return err
		}
	}
	output := outputs[0]
	if err := g.checkOperandIndex("AddOperation", output); err != nil {
		return err
	}
	if slices.Contains(inputs, output) {
		return errors.Errorf("Graph.AddOperation(%s): operand #%d used both as input and output", op, output)
	}
	o := g.operands[output]
	if o.producer >= 0 {
		return errors.Errorf("Graph.AddOperation(%s): operand #%d is already the output of operation #%d",
			op, output, o.producer)
	}
	if o.lifetime == lifetimeConstant {
		return errors.Errorf("Graph.AddOperation(%s): operand #%d is a constant, it can't be an output", op, output)
	}
	o.producer = len(g.operations)
	g.operations = append(g.operations, &operation{
		op:      op,
		inputs:  slices.Clone(inputs),
		outputs: slices.Clone(outputs),
	})
	klog.V(2).Infof("simplego: operation #%d: %s(%v) -> %v", o.producer, op, inputs, outputs)
	return nil
}

// IdentifyInputsAndOutputs declares which operands are fed and returned at execution time.
func (g *Graph) IdentifyInputsAndOutputs(inputs, outputs []int) error {
	if err := g.checkBuilding("IdentifyInputsAndOutputs"); err != nil {
		return err
	}
	if g.identified {
		return errors.New("Graph.IdentifyInputsAndOutputs: inputs and outputs were already identified")
	}
	if len(outputs) == 0 {
		return errors.New("Graph.IdentifyInputsAndOutputs: at least one output is required")
	}
	seen := make(map[int]bool, len(inputs)+len(outputs))
	for _, index := range slices.Concat(inputs, outputs) {
		if err := g.checkOperandIndex("IdentifyInputsAndOutputs", index); err != nil {
			return err
		}
		if seen[index] {
			return errors.Errorf("Graph.IdentifyInputsAndOutputs: operand #%d listed more than once", index)
		}
		seen[index] = true
	}
	for _, index := range inputs {
		o := g.operands[index]
		if o.lifetime == lifetimeConstant || o.producer >= 0 {
			return errors.Errorf("Graph.IdentifyInputsAndOutputs: operand #%d is a constant or the output of an operation, it can't be an input", index)
		}
		if !o.operandType.Code.IsTensor() {
			return errors.Errorf("Graph.IdentifyInputsAndOutputs: input operand #%d must be a tensor, got %s", index, o.operandType)
		}
	}
	for _, index := range outputs {
		o := g.operands[index]
		if o.producer < 0 {
			return errors.Errorf("Graph.IdentifyInputsAndOutputs: output operand #%d is not produced by any operation", index)
		}
	}
	for _, index := range inputs {
		g.operands[index].lifetime = lifetimeInput
	}
	for _, index := range outputs {
		g.operands[index].lifetime = lifetimeOutput
	}
	g.inputs = slices.Clone(inputs)
	g.outputs = slices.Clone(outputs)
	g.identified = true
	return nil
}

// Finish validates and freezes the graph.
func (g *Graph) Finish() error {
	if err := g.checkBuilding("Finish"); err != nil {
		return err
	}
	if !g.identified {
		return errors.New("Graph.Finish: IdentifyInputsAndOutputs must be called before Finish")
	}
	if len(g.operations) == 0 {
		return errors.New("Graph.Finish: graph has no operations")
	}
	for opIdx, op := range g.operations {
		for _, index := range op.inputs {
			o := g.operands[index]
			defined := o.lifetime == lifetimeConstant || o.lifetime == lifetimeInput ||
				(o.producer >= 0 && o.producer < opIdx)
			if !defined {
				return errors.Errorf("Graph.Finish: operation #%d (%s) uses operand #%d, which is neither an input, "+
					"a constant nor the output of a previous operation", opIdx, op.op, index)
			}
		}
		if err := g.validateOperation(op); err != nil {
			return errors.WithMessagef(err, "Graph.Finish: operation #%d", opIdx)
		}
	}
	g.finished = true
	klog.V(1).Infof("simplego: graph finished with %d operands and %d operations", len(g.operands), len(g.operations))
	return nil
}

// scalarInt32 returns the value of a constant Int32 scalar operand.
func (g *Graph) scalarInt32(index int) (int32, error) {
	o := g.operands[index]
	if o.operandType.Code != backends.OperandInt32 || o.lifetime != lifetimeConstant {
		return 0, errors.Errorf("operand #%d must be a constant %s scalar, got %s", index, backends.OperandInt32, o.operandType)
	}
	return int32(binary.NativeEndian.Uint32(o.value)), nil
}

// scalarBool returns the value of a constant Bool scalar operand.
func (g *Graph) scalarBool(index int) (bool, error) {
	o := g.operands[index]
	if o.operandType.Code != backends.OperandBool || o.lifetime != lifetimeConstant {
		return false, errors.Errorf("operand #%d must be a constant %s scalar, got %s", index, backends.OperandBool, o.operandType)
	}
	return o.value[0] != 0, nil
}

// validateOperation checks the operand codes and shapes of an operation.
func (g *Graph) validateOperation(op *operation) error {
	lhs := g.operands[op.inputs[0]].operandType
	rhs := g.operands[op.inputs[1]].operandType
	output := g.operands[op.outputs[0]].operandType
	if !lhs.Code.IsTensor() || lhs.Code != rhs.Code || lhs.Code != output.Code {
		return errors.Errorf("%s requires tensor operands of the same type, got lhs=%s, rhs=%s, output=%s",
			op.op, lhs, rhs, output)
	}
	var outputDims []int
	switch op.op {
	case backends.OperationAdd:
		fuse, err := g.scalarInt32(op.inputs[2])
		if err != nil {
			return errors.WithMessagef(err, "%s activation", op.op)
		}
		if fuse < int32(backends.FuseNone) || fuse > int32(backends.FuseRelu6) {
			return errors.Errorf("%s: invalid activation %s", op.op, backends.FuseCode(fuse))
		}
		if !slices.Equal(lhs.Dimensions, rhs.Dimensions) {
			return errors.Errorf("%s requires operands of the same dimensions, got lhs=%s and rhs=%s", op.op, lhs, rhs)
		}
		outputDims = lhs.Dimensions

	case backends.OperationBatchMatMul:
		transposeA, err := g.scalarBool(op.inputs[2])
		if err != nil {
			return errors.WithMessagef(err, "%s transposeA", op.op)
		}
		transposeB, err := g.scalarBool(op.inputs[3])
		if err != nil {
			return errors.WithMessagef(err, "%s transposeB", op.op)
		}
		outputDims, err = matMulOutputDims(lhs.Dimensions, rhs.Dimensions, transposeA, transposeB)
		if err != nil {
			return errors.WithMessagef(err, "%s", op.op)
		}
	}
	if !slices.Equal(outputDims, output.Dimensions) {
		return errors.Errorf("%s output operand has dimensions %v, but the operation produces %v",
			op.op, output.Dimensions, outputDims)
	}
	return nil
}

// transposed returns the dimensions of a rank-2 operand, with the axes swapped if transpose is set.
func transposed(dims []int, transpose bool, name string) ([]int, error) {
	if !transpose {
		return dims, nil
	}
	if len(dims) != 2 {
		return nil, errors.Errorf("%s can only be transposed if it has rank 2, got dimensions %v", name, dims)
	}
	return []int{dims[1], dims[0]}, nil
}

// matMulOutputDims returns the dimensions of the contraction of the last axis of lhs with the
// first axis of rhs: lhs[:-1] ++ rhs[1:].
func matMulOutputDims(lhsDims, rhsDims []int, transposeA, transposeB bool) ([]int, error) {
	lhsDims, err := transposed(lhsDims, transposeA, "lhs")
	if err != nil {
		return nil, err
	}
	rhsDims, err = transposed(rhsDims, transposeB, "rhs")
	if err != nil {
		return nil, err
	}
	if len(lhsDims) == 0 || len(rhsDims) == 0 {
		return nil, errors.Errorf("operands must have rank >= 1, got lhs=%v and rhs=%v", lhsDims, rhsDims)
	}
	contracting := lhsDims[len(lhsDims)-1]
	if contracting != rhsDims[0] {
		return nil, errors.Errorf("contracting dimensions don't match: lhs=%v, rhs=%v", lhsDims, rhsDims)
	}
	return slices.Concat(lhsDims[:len(lhsDims)-1], rhsDims[1:]), nil
}
