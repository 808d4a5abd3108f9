// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph is the core package of nngraph: it incrementally builds a computation graph out of
// operations on tensors, and compiles and executes it on a backend.
//
// The main elements in the package are:
//
//   - Context: the shared, mutable description of one graph being built, along with the devices it
//     will be compiled for. It's created with NewContext.
//   - Tensor: a multidimensional array bound to a Context. Leaf tensors hold user data, and interior
//     tensors are the outputs of operators.
//   - Add and MatMul: the operators. Each call registers new operands and one operation in the
//     Context graph, and returns a new interior tensor.
//   - Pipeline: a graph compiled for the Context devices, created with Compile. It executes the graph
//     either one-shot (Pipeline.Execute) or through a reusable Burst.
//
// Graphs are linear chains: the first operator on a Context designates its left-hand side as the graph
// input (operand 0), and every following operator must take the output of the previous one as its
// left-hand side. Right-hand sides are leaf tensors, registered as constants.
//
// Example:
//
//	ctx := graph.MustNewContext(backend, devices)
//	x := graph.FromFlat(ctx, []float32{1, 2, 3})
//	y := graph.Add(graph.Add(x, graph.FromFlat(ctx, []float32{4, 4, 7})), graph.FromFlat(ctx, []float32{1, 2, 3}))
//	values, err := graph.GetFlat[float32](y) // [6 8 13]
//
// # Error Handling
//
// Operators "throw" errors with panic(), like the rest of the graph building API: shape or dtype
// mismatches and misuse of the Context (e.g. branching the chain) are programming errors, reported
// with a stack trace. Backend failures while registering an operation are also thrown, as a *BackendError,
// and leave the Context corrupted. Use exceptions.TryCatch[error] to convert them back to errors.
//
// Sealing, compiling and executing return errors.
package graph

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/nngraph/backends"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// State of a Context.
type State int

const (
	// StateBuilding is the state of a fresh Context, before the first operator.
	StateBuilding State = iota

	// StateHasInput is set once the first operator registered the graph input.
	StateHasInput

	// StateSealed is set once the graph inputs and outputs have been identified and the graph finished.
	// No more operators can be registered.
	StateSealed

	// StateCorrupted is a terminal state: a failure interrupted a change to the graph.
	StateCorrupted
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateBuilding:
		return "Building"
	case StateHasInput:
		return "HasInput"
	case StateSealed:
		return "Sealed"
	case StateCorrupted:
		return "Corrupted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Context holds the graph being built by the operators, and the devices it will be compiled for.
//
// It is shared by all tensors created in it, and it's safe for concurrent use: every change happens
// while holding its lock.
type Context struct {
	id      uuid.UUID
	backend backends.Backend
	devices []backends.Device

	mu    sync.Mutex
	graph backends.Graph
	state State

	// err is the failure that corrupted the context.
	err error

	// input is the tensor registered as the graph input, at operand 0.
	input *Tensor

	// running is the output of the last operation: the only tensor that can be the left-hand side
	// of the next operation.
	running *Tensor

	// consumed holds the tensors registered in the graph, other than input, in registration order.
	consumed []*Tensor

	// operandCount is the index of the running operand: 0 before the first operation.
	operandCount int

	// numOperands is the number of operands registered in the graph.
	numOperands int
}

// NewContext creates a new Context for the backend, that will be compiled for the given devices.
//
// devices can be empty: the graph can still be built, but compiling it fails with ErrNoDevices.
func NewContext(backend backends.Backend, devices []backends.Device) (*Context, error) {
	if backend == nil {
		return nil, errors.New("NewContext: backend is nil")
	}
	g, err := backend.NewGraph()
	if err != nil {
		return nil, newBackendError("NewGraph", err)
	}
	ctx := &Context{
		id:      uuid.New(),
		backend: backend,
		devices: slices.Clone(devices),
		graph:   g,
	}
	klog.V(1).Infof("graph: new context %s on backend %q for devices %q",
		ctx.id, backend.Name(), backends.DeviceNames(devices))
	return ctx, nil
}

// MustNewContext is like NewContext, but panics on errors.
func MustNewContext(backend backends.Backend, devices []backends.Device) *Context {
	ctx, err := NewContext(backend, devices)
	if err != nil {
		panic(err)
	}
	return ctx
}

// NewContextForAllDevices creates a new Context that will be compiled for all the devices of the backend.
func NewContextForAllDevices(backend backends.Backend) (*Context, error) {
	if backend == nil {
		return nil, errors.New("NewContextForAllDevices: backend is nil")
	}
	devices, err := backend.Devices()
	if err != nil {
		return nil, newBackendError("Devices", err)
	}
	return NewContext(backend, devices)
}

// ID is a unique identifier of the context, used in logs and error messages.
func (ctx *Context) ID() uuid.UUID { return ctx.id }

// Backend used by the context.
func (ctx *Context) Backend() backends.Backend { return ctx.backend }

// Devices the context graph will be compiled for. It returns a copy.
func (ctx *Context) Devices() []backends.Device { return slices.Clone(ctx.devices) }

// State of the context.
func (ctx *Context) State() State {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.state
}

// IsSealed returns whether the graph has been sealed (see Seal): no more operators can be registered.
func (ctx *Context) IsSealed() bool {
	return ctx.State() == StateSealed
}

// Err returns the failure that corrupted the context, or nil if the context is not corrupted.
func (ctx *Context) Err() error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.err
}

// Input returns the tensor registered as the graph input, or nil if no operator has been registered yet.
func (ctx *Context) Input() *Tensor {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.input
}

// Output returns the output of the last operator registered, or nil if no operator has been registered yet.
func (ctx *Context) Output() *Tensor {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.running
}

// NumOperands returns the number of operands registered in the graph.
func (ctx *Context) NumOperands() int {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.numOperands
}

// OperandCount returns the index of the operand of the last operator's output, or 0 if no operator has
// been registered.
func (ctx *Context) OperandCount() int {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.operandCount
}

// NumConsumed returns the number of tensors, other than the input, the graph holds on to.
func (ctx *Context) NumConsumed() int {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return len(ctx.consumed)
}

// String implements fmt.Stringer.
func (ctx *Context) String() string {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return fmt.Sprintf("Context(%s, %s, %d operands)", ctx.id, ctx.state, ctx.numOperands)
}

// CheckValid returns an error if the context is nil or corrupted.
func (ctx *Context) CheckValid() error {
	if ctx == nil {
		return errors.New("the Context is nil")
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.lockedCheckValid()
}

func (ctx *Context) lockedCheckValid() error {
	if ctx.state == StateCorrupted {
		return errors.WithMessagef(ErrCorrupted, "context %s (cause: %v)", ctx.id, ctx.err)
	}
	return nil
}

// lockedCorrupt moves the context to the terminal StateCorrupted. It must be called with ctx.mu held.
func (ctx *Context) lockedCorrupt(cause error) {
	if ctx.state == StateCorrupted {
		return
	}
	klog.Warningf("graph: context %s corrupted: %v", ctx.id, cause)
	ctx.state = StateCorrupted
	ctx.err = cause
}

// lockedAddOperand registers a new operand in the graph, checking its index is the next one.
// It must be called with ctx.mu held.
func (ctx *Context) lockedAddOperand(operandType backends.OperandType) (int, error) {
	index, err := ctx.graph.AddOperand(operandType)
	if err != nil {
		return 0, newBackendError("AddOperand", err)
	}
	if index != ctx.numOperands {
		return 0, newBackendError("AddOperand", errors.Errorf(
			"operand registered at index %d, but the next index should be %d", index, ctx.numOperands))
	}
	ctx.numOperands++
	klog.V(2).Infof("graph: context %s: operand #%d: %s", ctx.id, index, operandType)
	return index, nil
}

// auxOperand is an operand other than the tensors lhs and rhs, with its constant value.
type auxOperand struct {
	operandType backends.OperandType
	value       []byte
}

// register adds the operation op(lhs, rhs, aux...) -> output to the graph, where output is a new
// interior tensor of the given shape, and returns output.
//
// Contract violations panic before anything is changed. Any failure afterward leaves the context
// corrupted, and is thrown as a panic.
func (ctx *Context) register(opName string, op backends.OperationCode, lhs, rhs *Tensor,
	output *Tensor, aux []auxOperand) *Tensor {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if err := ctx.lockedCheckValid(); err != nil {
		panic(errors.WithMessage(err, opName))
	}
	if ctx.state == StateSealed {
		exceptions.Panicf("%s: context %s has been sealed, no more operations can be registered", opName, ctx.id)
	}
	if lhs == rhs {
		exceptions.Panicf("%s: the same tensor can't be used as both operands, graphs are linear chains "+
			"where the right-hand side is a new leaf tensor", opName)
	}
	if rhs.interior || rhs.operand >= 0 {
		exceptions.Panicf("%s: the right-hand side must be a leaf tensor not yet used in the graph, got %s "+
			"registered as operand %d", opName, rhs, rhs.operand)
	}
	head := ctx.state == StateBuilding
	if head {
		if lhs.interior || lhs.operand >= 0 {
			exceptions.Panicf("%s: the left-hand side of the first operation must be a new leaf tensor", opName)
		}
	} else if lhs != ctx.running {
		panic(errors.WithMessagef(ErrNotRunningOutput,
			"%s: the left-hand side must be the output of the previous operation, graphs are linear chains", opName))
	}

	// From here on failures corrupt the context.
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = errors.Errorf("%v", r)
			}
			ctx.lockedCorrupt(err)
			panic(r)
		}
	}()
	throw := func(err error) {
		panic(errors.WithMessagef(err, "%s in context %s", opName, ctx.id))
	}

	if head {
		index, err := ctx.lockedAddOperand(lhs.operandType())
		if err != nil {
			throw(err)
		}
		if index != 0 {
			throw(errors.Errorf("graph input registered at index %d instead of 0", index))
		}
		lhs.operand = index
		ctx.input = lhs
		ctx.state = StateHasInput
		klog.V(1).Infof("graph: context %s: input %s registered", ctx.id, lhs)
	}
	lhsIndex := ctx.operandCount
	rhsIndex, err := ctx.lockedAddOperand(rhs.operandType())
	if err != nil {
		throw(err)
	}
	rhs.operand = rhsIndex
	inputs := []int{lhsIndex, rhsIndex}
	for _, a := range aux {
		index, err := ctx.lockedAddOperand(a.operandType)
		if err != nil {
			throw(err)
		}
		inputs = append(inputs, index)
	}
	outputIndex, err := ctx.lockedAddOperand(output.operandType())
	if err != nil {
		throw(err)
	}
	output.operand = outputIndex

	ctx.consumed = append(ctx.consumed, rhs)
	if !head {
		ctx.consumed = append(ctx.consumed, lhs)
	}
	for ii, a := range aux {
		if err := ctx.graph.SetOperandValue(inputs[2+ii], a.value); err != nil {
			throw(newBackendError("SetOperandValue", err))
		}
	}
	if err := ctx.graph.SetOperandValue(rhsIndex, rhs.bytes()); err != nil {
		throw(newBackendError("SetOperandValue", err))
	}
	if err := ctx.graph.AddOperation(op, inputs, []int{outputIndex}); err != nil {
		throw(newBackendError("AddOperation", err))
	}
	ctx.operandCount += 2 + len(aux)
	if ctx.operandCount != outputIndex {
		throw(errors.Errorf("output registered at index %d, but the running operand index is %d",
			outputIndex, ctx.operandCount))
	}
	ctx.running = output
	klog.V(2).Infof("graph: context %s: %s(#%d, #%d) -> #%d", ctx.id, opName, lhsIndex, rhsIndex, outputIndex)
	return output
}

// Seal identifies the graph input (operand 0) and output (the output of the last operation, which must
// be final), and finishes the graph. No more operators can be registered afterward.
//
// Sealing an already sealed context with the same final tensor is a no-op.
func (ctx *Context) Seal(final *Tensor) error {
	if err := ctx.CheckValid(); err != nil {
		return err
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if err := ctx.lockedCheckValid(); err != nil {
		return err
	}
	if ctx.state == StateBuilding {
		return errors.Wrapf(ErrNoOperations, "cannot seal context %s", ctx.id)
	}
	if final == nil || final != ctx.running {
		return errors.Wrapf(ErrNotRunningOutput, "cannot seal context %s with tensor %v", ctx.id, final)
	}
	if ctx.state == StateSealed {
		return nil
	}
	if err := ctx.graph.IdentifyInputsAndOutputs([]int{0}, []int{ctx.operandCount}); err != nil {
		err = newBackendError("IdentifyInputsAndOutputs", err)
		ctx.lockedCorrupt(err)
		return err
	}
	if err := ctx.graph.Finish(); err != nil {
		err = newBackendError("Finish", err)
		ctx.lockedCorrupt(err)
		return err
	}
	ctx.state = StateSealed
	klog.V(1).Infof("graph: context %s sealed with %d operands, output #%d", ctx.id, ctx.numOperands, ctx.operandCount)
	return nil
}
