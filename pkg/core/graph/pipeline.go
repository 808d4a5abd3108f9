// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/nngraph/backends"
	"github.com/gomlx/nngraph/pkg/core/dtypes"
	"github.com/gomlx/nngraph/pkg/core/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Pipeline is the graph of a Context compiled for its devices.
//
// It's created with Compile, and it is safe for concurrent use: each call to Execute (or ExecuteWith)
// creates a new backend execution. For lower overhead repeated executions, use a Burst (see NewBurst).
type Pipeline struct {
	ctx          *Context
	compilation  backends.Compilation
	input        *Tensor
	inputShape   shapes.Shape
	outputShape  shapes.Shape
	numOperands  int
	operandCount int

	mu        sync.Mutex
	finalized bool
}

// Compile seals the context of final (see Context.Seal) and compiles its graph for the context devices.
//
// final must be the output of the last operator registered in its context.
// Failures of the backend are returned as a *BackendError.
func Compile(final *Tensor) (*Pipeline, error) {
	if final == nil {
		return nil, errors.New("Compile: final tensor is nil")
	}
	ctx := final.ctx
	if err := ctx.Seal(final); err != nil {
		return nil, errors.WithMessage(err, "Compile")
	}
	if len(ctx.devices) == 0 {
		return nil, errors.Wrapf(ErrNoDevices, "Compile: context %s", ctx.id)
	}

	ctx.mu.Lock()
	p := &Pipeline{
		ctx:          ctx,
		input:        ctx.input,
		inputShape:   ctx.input.shape.Clone(),
		outputShape:  final.shape.Clone(),
		numOperands:  ctx.numOperands,
		operandCount: ctx.operandCount,
	}
	graph := ctx.graph
	ctx.mu.Unlock()

	compilation, err := ctx.backend.CompileForDevices(graph, ctx.devices)
	if err != nil {
		return nil, newBackendError("CompileForDevices", err)
	}
	if err = compilation.Finish(); err != nil {
		compilation.Finalize()
		return nil, newBackendError("Compilation.Finish", err)
	}
	p.compilation = compilation
	klog.V(1).Infof("graph: compiled %s", p)
	return p, nil
}

// Context of the pipeline.
func (p *Pipeline) Context() *Context { return p.ctx }

// InputShape is the shape of the tensors accepted by ExecuteWith.
func (p *Pipeline) InputShape() shapes.Shape { return p.inputShape.Clone() }

// OutputShape is the shape of the output tensors.
func (p *Pipeline) OutputShape() shapes.Shape { return p.outputShape.Clone() }

// String implements fmt.Stringer.
func (p *Pipeline) String() string {
	return fmt.Sprintf("Pipeline(context %s, devices %q, %d operands, #0 %s -> #%d %s, %s of input/output)",
		p.ctx.id, backends.DeviceNames(p.ctx.devices), p.numOperands, p.inputShape, p.operandCount, p.outputShape,
		humanize.Bytes(uint64(p.inputShape.Memory()+p.outputShape.Memory())))
}

// checkValid returns the compilation, or an error if the pipeline was finalized.
func (p *Pipeline) checkValid() (backends.Compilation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finalized {
		return nil, errors.Errorf("pipeline for context %s has been finalized", p.ctx.id)
	}
	return p.compilation, nil
}

// checkShapes validates the shapes of the input and output of an execution.
func (p *Pipeline) checkShapes(input, output *Tensor) error {
	if input == nil || output == nil {
		return errors.New("input and output tensors can't be nil")
	}
	if !input.shape.Equal(p.inputShape) {
		return errors.Errorf("input must have shape %s, got %s", p.inputShape, input.shape)
	}
	if !output.shape.Equal(p.outputShape) {
		return errors.Errorf("output must have shape %s, got %s", p.outputShape, output.shape)
	}
	if input == output {
		return errors.New("input and output must be different tensors")
	}
	return nil
}

// newExecution creates a backend execution with input and output bound.
func (p *Pipeline) newExecution(input, output *Tensor) (backends.Execution, error) {
	compilation, err := p.checkValid()
	if err != nil {
		return nil, err
	}
	if err = p.checkShapes(input, output); err != nil {
		return nil, err
	}
	execution, err := compilation.CreateExecution()
	if err != nil {
		return nil, newBackendError("CreateExecution", err)
	}
	if err = execution.SetInput(0, input.bytes()); err != nil {
		return nil, newBackendError("SetInput", err)
	}
	if err = execution.SetOutput(0, output.bytes()); err != nil {
		return nil, newBackendError("SetOutput", err)
	}
	return execution, nil
}

// Execute runs the graph once with the context input, and writes the result in output. It blocks until
// the execution is completed.
//
// output is usually the final tensor given to Compile, but it can be any tensor with the same shape.
func (p *Pipeline) Execute(output *Tensor) error {
	return p.ExecuteWith(p.input, output)
}

// ExecuteWith is like Execute, but uses the given input instead of the context input. input must have the
// same shape as the context input.
func (p *Pipeline) ExecuteWith(input, output *Tensor) error {
	execution, err := p.newExecution(input, output)
	if err != nil {
		return errors.WithMessage(err, "Pipeline.Execute")
	}
	event, err := execution.Compute()
	if err != nil {
		return newBackendError("Compute", err)
	}
	if err = event.Wait(); err != nil {
		return newBackendError("Event.Wait", err)
	}
	return nil
}

// NewBurst creates a reusable handle for repeated executions of the pipeline.
func (p *Pipeline) NewBurst() (*Burst, error) {
	compilation, err := p.checkValid()
	if err != nil {
		return nil, errors.WithMessage(err, "Pipeline.NewBurst")
	}
	burst, err := compilation.NewBurst()
	if err != nil {
		return nil, newBackendError("NewBurst", err)
	}
	return &Burst{pipeline: p, burst: burst}, nil
}

// Finalize releases the backend compilation immediately. The pipeline, and its bursts, can no longer be used.
// It is safe to call it more than once.
func (p *Pipeline) Finalize() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finalized {
		return
	}
	p.finalized = true
	if p.compilation != nil {
		p.compilation.Finalize()
		p.compilation = nil
	}
}

// Burst executes a Pipeline repeatedly, reusing the backend resources across executions.
//
// Executions through the same Burst are serialized: create one Burst per goroutine for parallel executions.
type Burst struct {
	pipeline *Pipeline

	mu    sync.Mutex
	burst backends.Burst
}

// Execute runs the graph with the context input, writing the result in output.
func (b *Burst) Execute(output *Tensor) error {
	return b.ExecuteWith(b.pipeline.input, output)
}

// ExecuteWith runs the graph with the given input, writing the result in output.
func (b *Burst) ExecuteWith(input, output *Tensor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.burst == nil {
		return errors.New("Burst.Execute: burst has been finalized")
	}
	execution, err := b.pipeline.newExecution(input, output)
	if err != nil {
		return errors.WithMessage(err, "Burst.Execute")
	}
	if err = execution.BurstCompute(b.burst); err != nil {
		return newBackendError("BurstCompute", err)
	}
	return nil
}

// Finalize releases the backend burst. It is safe to call it more than once.
func (b *Burst) Finalize() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.burst != nil {
		b.burst.Finalize()
		b.burst = nil
	}
}

// GetData seals the context of t, compiles it, executes it, and returns the flat values of t
// (e.g. []float32).
//
// t must be the output of the last operator of its context. It can be called more than once, also
// concurrently: each call executes into its own buffer, which is returned, and then copies the values
// into t's data (see Tensor.Flat).
func (t *Tensor) GetData() (any, error) {
	p, err := Compile(t)
	if err != nil {
		return nil, err
	}
	defer p.Finalize()
	burst, err := p.NewBurst()
	if err != nil {
		return nil, err
	}
	defer burst.Finalize()
	output := Zeros(t.ctx, t.shape)
	if err = burst.Execute(output); err != nil {
		return nil, err
	}
	t.dataMu.Lock()
	copyFlat(t.data, output.data)
	t.dataMu.Unlock()
	return output.data, nil
}

// GetFlat is a typed version of Tensor.GetData.
func GetFlat[T dtypes.Supported](t *Tensor) ([]T, error) {
	if t == nil {
		return nil, errors.New("GetFlat: tensor is nil")
	}
	if want := dtypes.FromGenericsType[T](); t.DType() != want {
		return nil, errors.Errorf("GetFlat[%s]: tensor has dtype %s", want, t.DType())
	}
	data, err := t.GetData()
	if err != nil {
		return nil, err
	}
	return data.([]T), nil
}
