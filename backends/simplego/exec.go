// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/nngraph/backends"
	"github.com/gomlx/nngraph/pkg/core/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Execution implements backends.Execution.
type Execution struct {
	compilation     *Compilation
	inputs, outputs [][]byte

	mu      sync.Mutex
	started bool
}

var _ backends.Execution = (*Execution)(nil)

// bind checks and binds a buffer to the slot of either inputs or outputs.
func (e *Execution) bind(method string, buffers [][]byte, types []backends.OperandType, slot int, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.Errorf("Execution.%s: execution has already been computed", method)
	}
	if slot < 0 || slot >= len(buffers) {
		return errors.Errorf("Execution.%s: slot %d out-of-range, the graph has %d slots", method, slot, len(buffers))
	}
	if expected := types[slot].ByteSize(); len(data) != expected {
		return errors.Errorf("Execution.%s: slot %d (%s) takes %d bytes, got %d bytes",
			method, slot, types[slot], expected, len(data))
	}
	if data == nil {
		data = []byte{}
	}
	buffers[slot] = data
	return nil
}

// SetInput binds the buffer of the input at the given slot.
func (e *Execution) SetInput(slot int, data []byte) error {
	return e.bind("SetInput", e.inputs, e.compilation.inputTypes, slot, data)
}

// SetOutput binds the buffer where the output at the given slot is written.
func (e *Execution) SetOutput(slot int, data []byte) error {
	return e.bind("SetOutput", e.outputs, e.compilation.outputTypes, slot, data)
}

// start marks the execution as started, after checking all the slots have been bound.
func (e *Execution) start(method string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.Errorf("Execution.%s: execution has already been computed, create a new one", method)
	}
	for slot, data := range e.inputs {
		if data == nil {
			return errors.Errorf("Execution.%s: input slot %d was not set", method, slot)
		}
	}
	for slot, data := range e.outputs {
		if data == nil {
			return errors.Errorf("Execution.%s: output slot %d was not set", method, slot)
		}
	}
	if err := e.compilation.checkReady(); err != nil {
		return errors.WithMessagef(err, "Execution.%s", method)
	}
	e.started = true
	return nil
}

// Compute schedules the execution on the backend workers, and returns an Event to wait for its completion.
func (e *Execution) Compute() (backends.Event, error) {
	if err := e.start("Compute"); err != nil {
		return nil, err
	}
	event := &Event{done: make(chan struct{})}
	c := e.compilation
	c.backend.workers.Go(func() {
		a := c.getArena()
		event.err = e.run(a)
		c.putArena(a)
		close(event.done)
	})
	return event, nil
}

// BurstCompute runs the execution synchronously, using the arena of the burst.
func (e *Execution) BurstCompute(burst backends.Burst) error {
	b, ok := burst.(*Burst)
	if !ok || b == nil || b.compilation != e.compilation {
		return errors.New("Execution.BurstCompute: burst was not created by the same compilation")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.arena == nil {
		return errors.New("Execution.BurstCompute: burst has been finalized")
	}
	if err := e.start("BurstCompute"); err != nil {
		return err
	}
	return e.run(b.arena)
}

// run executes the steps of the compilation, converting any panic in the kernels to an error.
func (e *Execution) run(a *arena) error {
	c := e.compilation
	c.mu.Lock()
	steps := c.steps
	c.mu.Unlock()
	if steps == nil {
		return errors.New("compilation has been finalized")
	}

	// Buffers not aligned to their dtype are staged in aligned copies.
	inputs := make([][]byte, len(e.inputs))
	for slot, data := range e.inputs {
		inputs[slot] = data
		if !isAligned(data, c.inputTypes[slot].Code.DType().Size()) {
			inputs[slot] = alignedBytes(len(data))
			copy(inputs[slot], data)
		}
	}
	outputs := make([][]byte, len(e.outputs))
	staged := make([]bool, len(e.outputs))
	for slot, data := range e.outputs {
		outputs[slot] = data
		if !isAligned(data, c.outputTypes[slot].Code.DType().Size()) {
			outputs[slot] = alignedBytes(len(data))
			staged[slot] = true
		}
	}
	resolve := func(loc location) []byte {
		switch loc.kind {
		case locationConstant:
			return c.graph.operands[loc.index].value
		case locationInput:
			return inputs[loc.index]
		case locationOutput:
			return outputs[loc.index]
		default:
			return a.temporaries[loc.index]
		}
	}

	err := exceptions.TryCatch[error](func() {
		for _, s := range steps {
			execStep(c.backend, s, resolve(s.lhs), resolve(s.rhs), resolve(s.output))
		}
	})
	if err != nil {
		return errors.WithMessage(err, "simplego execution failed")
	}
	for slot, data := range e.outputs {
		if staged[slot] {
			copy(data, outputs[slot])
		}
	}
	return nil
}

// execStep runs the kernel of one step.
func execStep(b *Backend, s step, lhs, rhs, output []byte) {
	switch s.op {
	case backends.OperationAdd:
		switch s.dtype {
		case dtypes.Float32:
			execAdd(bytesAs[float32](lhs), bytesAs[float32](rhs), bytesAs[float32](output), s.fuse)
		case dtypes.Int32:
			execAdd(bytesAs[int32](lhs), bytesAs[int32](rhs), bytesAs[int32](output), s.fuse)
		case dtypes.Float16:
			execAddFloat16(bytesAs[float16.Float16](lhs), bytesAs[float16.Float16](rhs), bytesAs[float16.Float16](output), s.fuse)
		default:
			exceptions.Panicf("%s not implemented for dtype %s", s.op, s.dtype)
		}
	case backends.OperationBatchMatMul:
		switch s.dtype {
		case dtypes.Float32:
			execMatMul(b.workers, bytesAs[float32](lhs), bytesAs[float32](rhs), bytesAs[float32](output), s.matMul)
		case dtypes.Int32:
			execMatMul(b.workers, bytesAs[int32](lhs), bytesAs[int32](rhs), bytesAs[int32](output), s.matMul)
		case dtypes.Float16:
			execMatMulFloat16(b.workers, bytesAs[float16.Float16](lhs), bytesAs[float16.Float16](rhs), bytesAs[float16.Float16](output), s.matMul)
		default:
			exceptions.Panicf("%s not implemented for dtype %s", s.op, s.dtype)
		}
	default:
		exceptions.Panicf("operation %s not implemented", s.op)
	}
}

// Event implements backends.Event.
type Event struct {
	done chan struct{}
	err  error
}

var _ backends.Event = (*Event)(nil)

// Wait blocks until the execution is completed, and returns its error, if any.
func (ev *Event) Wait() error {
	<-ev.done
	return ev.err
}

// Burst implements backends.Burst.
type Burst struct {
	compilation *Compilation

	mu    sync.Mutex
	arena *arena
}

var _ backends.Burst = (*Burst)(nil)

// Finalize releases the arena of the burst. Executions using it afterward fail.
func (b *Burst) Finalize() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.arena != nil {
		b.compilation.putArena(b.arena)
		b.arena = nil
	}
}
