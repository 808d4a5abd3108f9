// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"sync"

	"github.com/gomlx/nngraph/backends"
	"github.com/gomlx/nngraph/pkg/core/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// locationKind tells where the bytes of an operand live during an execution.
type locationKind int

const (
	locationConstant locationKind = iota
	locationInput
	locationOutput
	locationTemporary
)

// location of an operand during an execution: index is the operand index for constants, the slot for
// inputs and outputs, and the position in the arena for temporaries.
type location struct {
	kind  locationKind
	index int
}

// step is one operation of the graph, resolved for execution.
type step struct {
	op     backends.OperationCode
	dtype  dtypes.DType
	device *Device

	lhs, rhs, output location

	// Add only.
	fuse backends.FuseCode

	// BatchMatMul only.
	matMul matMulParams
}

// arena holds the temporary buffers of one execution at a time.
type arena struct {
	temporaries [][]byte
}

// Compilation implements backends.Compilation.
//
// It holds the graph operations resolved in steps, and a pool of arenas for temporary buffers,
// so that executions don't allocate once the pool is warm.
type Compilation struct {
	backend *Backend
	graph   *Graph
	devices []*Device
	steps   []step

	// inputTypes and outputTypes are indexed by slot.
	inputTypes, outputTypes []backends.OperandType

	temporarySizes []int
	arenas         sync.Pool

	mu                  sync.Mutex
	finished, finalized bool
}

var _ backends.Compilation = (*Compilation)(nil)

// CompileForDevices lowers a finished graph to the given devices.
//
// Each operation is assigned to the first device (in the order given) that supports it, along with the
// codes of its operands.
func (b *Backend) CompileForDevices(graph backends.Graph, devices []backends.Device) (backends.Compilation, error) {
	if err := b.checkValid(); err != nil {
		return nil, err
	}
	g, ok := graph.(*Graph)
	if !ok || g == nil || g.backend != b {
		return nil, errors.Errorf("CompileForDevices: graph %T was not created by backend %q", graph, BackendName)
	}
	if !g.finished {
		return nil, errors.New("CompileForDevices: graph must be finished before compilation")
	}
	if len(devices) == 0 {
		return nil, errors.New("CompileForDevices: no devices given")
	}
	c := &Compilation{
		backend: b,
		graph:   g,
		devices: make([]*Device, 0, len(devices)),
	}
	for _, device := range devices {
		d, err := b.ownDevice(device)
		if err != nil {
			return nil, errors.WithMessage(err, "CompileForDevices")
		}
		c.devices = append(c.devices, d)
	}
	if err := c.resolveSteps(); err != nil {
		return nil, errors.WithMessage(err, "CompileForDevices")
	}
	c.arenas.New = func() any {
		a := &arena{temporaries: make([][]byte, len(c.temporarySizes))}
		for ii, size := range c.temporarySizes {
			a.temporaries[ii] = alignedBytes(size)
		}
		return a
	}
	klog.V(1).Infof("simplego: compiled %d operations for devices %q", len(c.steps), backends.DeviceNames(devices))
	return c, nil
}

// resolveSteps assigns a device and a location for every operand of every operation.
func (c *Compilation) resolveSteps() error {
	g := c.graph
	locations := make(map[int]location, len(g.operands))
	for slot, index := range g.inputs {
		locations[index] = location{kind: locationInput, index: slot}
		c.inputTypes = append(c.inputTypes, g.operands[index].operandType)
	}
	for slot, index := range g.outputs {
		locations[index] = location{kind: locationOutput, index: slot}
		c.outputTypes = append(c.outputTypes, g.operands[index].operandType)
	}
	locate := func(index int) location {
		if loc, found := locations[index]; found {
			return loc
		}
		o := g.operands[index]
		var loc location
		if o.lifetime == lifetimeConstant {
			loc = location{kind: locationConstant, index: index}
		} else {
			loc = location{kind: locationTemporary, index: len(c.temporarySizes)}
			c.temporarySizes = append(c.temporarySizes, o.operandType.ByteSize())
		}
		locations[index] = loc
		return loc
	}

	c.steps = make([]step, 0, len(g.operations))
	for opIdx, op := range g.operations {
		codes := make([]backends.OperandCode, 0, len(op.inputs)+len(op.outputs))
		for _, index := range op.inputs {
			codes = append(codes, g.operands[index].operandType.Code)
		}
		for _, index := range op.outputs {
			codes = append(codes, g.operands[index].operandType.Code)
		}
		var device *Device
		for _, d := range c.devices {
			if d.supports(op.op, codes) {
				device = d
				break
			}
		}
		if device == nil {
			return errors.Errorf("operation #%d (%s) with operands %v is not supported by any of the devices %q",
				opIdx, op.op, codes, backends.DeviceNames(c.backendDevices()))
		}

		lhsType := g.operands[op.inputs[0]].operandType
		s := step{
			op:     op.op,
			dtype:  lhsType.Code.DType(),
			device: device,
			lhs:    locate(op.inputs[0]),
			rhs:    locate(op.inputs[1]),
			output: locate(op.outputs[0]),
		}
		switch op.op {
		case backends.OperationAdd:
			fuse, err := g.scalarInt32(op.inputs[2])
			if err != nil {
				return err
			}
			s.fuse = backends.FuseCode(fuse)
		case backends.OperationBatchMatMul:
			transposeA, err := g.scalarBool(op.inputs[2])
			if err != nil {
				return err
			}
			transposeB, err := g.scalarBool(op.inputs[3])
			if err != nil {
				return err
			}
			rhsType := g.operands[op.inputs[1]].operandType
			s.matMul = newMatMulParams(lhsType.Dimensions, rhsType.Dimensions, transposeA, transposeB)
		}
		klog.V(2).Infof("simplego: operation #%d (%s) assigned to device %s", opIdx, op.op, device.name)
		c.steps = append(c.steps, s)
	}
	return nil
}

func (c *Compilation) backendDevices() []backends.Device {
	devices := make([]backends.Device, len(c.devices))
	for ii, d := range c.devices {
		devices[ii] = d
	}
	return devices
}

// Finish completes the compilation. It can only be called once.
func (c *Compilation) Finish() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return errors.New("Compilation.Finish: compilation has been finalized")
	}
	if c.finished {
		return errors.New("Compilation.Finish: compilation has already been finished")
	}
	c.finished = true
	return nil
}

// checkReady returns an error if the compilation can't be executed.
func (c *Compilation) checkReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return errors.New("compilation has been finalized")
	}
	if !c.finished {
		return errors.New("compilation has not been finished")
	}
	return c.backend.checkValid()
}

// CreateExecution returns a new single-use Execution of the compiled graph.
func (c *Compilation) CreateExecution() (backends.Execution, error) {
	if err := c.checkReady(); err != nil {
		return nil, errors.WithMessage(err, "Compilation.CreateExecution")
	}
	return &Execution{
		compilation: c,
		inputs:      make([][]byte, len(c.inputTypes)),
		outputs:     make([][]byte, len(c.outputTypes)),
	}, nil
}

// NewBurst creates a reusable handle that owns its own arena of temporary buffers.
func (c *Compilation) NewBurst() (backends.Burst, error) {
	if err := c.checkReady(); err != nil {
		return nil, errors.WithMessage(err, "Compilation.NewBurst")
	}
	return &Burst{
		compilation: c,
		arena:       c.arenas.New().(*arena),
	}, nil
}

// Finalize immediately frees resources associated with the compilation.
func (c *Compilation) Finalize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalized = true
	c.steps = nil
}

// getArena from the pool of arenas.
func (c *Compilation) getArena() *arena {
	return c.arenas.Get().(*arena)
}

// putArena back into the pool. After this any references to the arena should be dropped.
func (c *Compilation) putArena(a *arena) {
	c.arenas.Put(a)
}
