// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"encoding/binary"
	"fmt"
	"os"
	"testing"
	"unsafe"

	"github.com/gomlx/nngraph/backends"
	"github.com/gomlx/nngraph/pkg/core/dtypes"
	"github.com/gomlx/nngraph/pkg/core/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

var backend *Backend

func init() {
	klog.InitFlags(nil)
}

func setup() {
	fmt.Printf("Available backends: %q\n", backends.List())
	backend = must.M1(NewBackend("cpu,float"))
	fmt.Printf("Backend: %s, %s\n", backend.Name(), backend.Description())
}

func teardown() {
	backend.Finalize()
}

func TestMain(m *testing.M) {
	setup()
	code := m.Run() // Run all tests in the file
	teardown()
	os.Exit(code)
}

// flatBytes returns the bytes of a flat slice, in host byte order.
func flatBytes[T dtypes.Supported](flat []T) []byte {
	if len(flat) == 0 {
		return []byte{}
	}
	var t T
	return unsafe.Slice((*byte)(unsafe.Pointer(&flat[0])), len(flat)*int(unsafe.Sizeof(t)))
}

func int32Bytes(v int32) []byte {
	return binary.NativeEndian.AppendUint32(nil, uint32(v))
}

func boolBytes(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// graphBuilder is a test helper that registers operands, failing the test on errors.
type graphBuilder struct {
	t *testing.T
	g backends.Graph
}

func newGraphBuilder(t *testing.T) *graphBuilder {
	return &graphBuilder{t: t, g: must.M1(backend.NewGraph())}
}

func (gb *graphBuilder) tensor(dtype dtypes.DType, dims ...int) int {
	idx, err := gb.g.AddOperand(backends.TensorOperand(shapes.Make(dtype, dims...)))
	require.NoError(gb.t, err)
	return idx
}

func (gb *graphBuilder) constant(operandType backends.OperandType, value []byte) int {
	idx, err := gb.g.AddOperand(operandType)
	require.NoError(gb.t, err)
	require.NoError(gb.t, gb.g.SetOperandValue(idx, value))
	return idx
}

func (gb *graphBuilder) add(lhs, rhs, output int, fuse backends.FuseCode) {
	activation := gb.constant(backends.ActivationOperand(), int32Bytes(int32(fuse)))
	require.NoError(gb.t, gb.g.AddOperation(backends.OperationAdd, []int{lhs, rhs, activation}, []int{output}))
}

func (gb *graphBuilder) matMul(lhs, rhs, output int, transposeA, transposeB bool) {
	tA := gb.constant(backends.BoolScalarOperand(), boolBytes(transposeA))
	tB := gb.constant(backends.BoolScalarOperand(), boolBytes(transposeB))
	require.NoError(gb.t, gb.g.AddOperation(backends.OperationBatchMatMul, []int{lhs, rhs, tA, tB}, []int{output}))
}

// compile finishes the graph with the given input and output, and compiles it for the devices.
func (gb *graphBuilder) compile(input, output int, devices ...backends.Device) backends.Compilation {
	require.NoError(gb.t, gb.g.IdentifyInputsAndOutputs([]int{input}, []int{output}))
	require.NoError(gb.t, gb.g.Finish())
	if len(devices) == 0 {
		devices = must.M1(backend.Devices())[:1]
	}
	c, err := backend.CompileForDevices(gb.g, devices)
	require.NoError(gb.t, err)
	require.NoError(gb.t, c.Finish())
	return c
}

// execute runs the compilation one-shot, and returns the output.
func execute[T dtypes.Supported](t *testing.T, c backends.Compilation, input []T, outputSize int) []T {
	e := must.M1(c.CreateExecution())
	output := make([]T, outputSize)
	require.NoError(t, e.SetInput(0, flatBytes(input)))
	require.NoError(t, e.SetOutput(0, flatBytes(output)))
	event, err := e.Compute()
	require.NoError(t, err)
	require.NoError(t, event.Wait())
	return output
}

func TestNewBackend(t *testing.T) {
	b := must.M1(NewBackend(""))
	devices := must.M1(b.Devices())
	require.Len(t, devices, 1)
	assert.Equal(t, "nnapi-reference", devices[0].Name())
	assert.Equal(t, backends.DeviceCPU, devices[0].Type())

	b = must.M1(NewBackend("none"))
	require.Empty(t, must.M1(b.Devices()))

	b = must.M1(NewBackend("float, parallelism=0"))
	devices = must.M1(b.Devices())
	require.Len(t, devices, 1)
	assert.Equal(t, backends.DeviceAccelerator, devices[0].Type())
	assert.Equal(t, 0, b.Workers().MaxParallelism())
	caps := must.M1(b.Capabilities(devices[0]))
	assert.False(t, caps.Operands[backends.OperandTensorInt32])
	assert.True(t, caps.Operands[backends.OperandTensorFloat32])

	for _, config := range []string{"gpu", "cpu,cpu", "none,cpu", "parallelism=x", "color=blue"} {
		_, err := NewBackend(config)
		require.Errorf(t, err, "config %q should have failed", config)
	}

	// Devices from a different backend are rejected.
	_, err := backend.Capabilities(devices[0])
	require.Error(t, err)

	// Registered as "go".
	registered := must.M1(backends.NewWithConfig("go:none"))
	require.Equal(t, BackendName, registered.Name())
}

func TestAddChain(t *testing.T) {
	// add(add(x, [4 4 7]), [1 2 3]), the input x is operand 0.
	gb := newGraphBuilder(t)
	x := gb.tensor(dtypes.Float32, 3)
	c1 := gb.constant(backends.TensorOperand(shapes.Make(dtypes.Float32, 3)), flatBytes([]float32{4, 4, 7}))
	sum1 := gb.tensor(dtypes.Float32, 3)
	gb.add(x, c1, sum1, backends.FuseNone)
	c2 := gb.constant(backends.TensorOperand(shapes.Make(dtypes.Float32, 3)), flatBytes([]float32{1, 2, 3}))
	sum2 := gb.tensor(dtypes.Float32, 3)
	gb.add(sum1, c2, sum2, backends.FuseNone)
	c := gb.compile(x, sum2)
	defer c.Finalize()

	require.Equal(t, []float32{6, 8, 13}, execute(t, c, []float32{1, 2, 3}, 3))
	require.Equal(t, []float32{5, 6, 10}, execute(t, c, []float32{0, 0, 0}, 3))
}

func TestAddActivations(t *testing.T) {
	rhs := []float32{0, 0, 0, 0, 0}
	input := []float32{-3, -0.5, 0.5, 3, 9}
	want := map[backends.FuseCode][]float32{
		backends.FuseNone:  {-3, -0.5, 0.5, 3, 9},
		backends.FuseRelu:  {0, 0, 0.5, 3, 9},
		backends.FuseRelu1: {-1, -0.5, 0.5, 1, 1},
		backends.FuseRelu6: {0, 0, 0.5, 3, 6},
	}
	for fuse, expected := range want {
		t.Run(fuse.String(), func(t *testing.T) {
			gb := newGraphBuilder(t)
			x := gb.tensor(dtypes.Float32, 5)
			c1 := gb.constant(backends.TensorOperand(shapes.Make(dtypes.Float32, 5)), flatBytes(rhs))
			out := gb.tensor(dtypes.Float32, 5)
			gb.add(x, c1, out, fuse)
			c := gb.compile(x, out)
			require.Equal(t, expected, execute(t, c, input, 5))
		})
	}

	// Int32 with Relu6.
	gb := newGraphBuilder(t)
	x := gb.tensor(dtypes.Int32, 3)
	c1 := gb.constant(backends.TensorOperand(shapes.Make(dtypes.Int32, 3)), flatBytes([]int32{1, 1, 1}))
	out := gb.tensor(dtypes.Int32, 3)
	gb.add(x, c1, out, backends.FuseRelu6)
	c := gb.compile(x, out)
	require.Equal(t, []int32{0, 4, 6}, execute(t, c, []int32{-7, 3, 10}, 3))
}

func TestFloat16(t *testing.T) {
	f16 := func(values ...float32) []float16.Float16 {
		converted := make([]float16.Float16, len(values))
		for ii, v := range values {
			converted[ii] = float16.Fromfloat32(v)
		}
		return converted
	}
	gb := newGraphBuilder(t)
	x := gb.tensor(dtypes.Float16, 2, 2)
	c1 := gb.constant(backends.TensorOperand(shapes.Make(dtypes.Float16, 2, 2)), flatBytes(f16(0.5, 1, 1.5, 2)))
	sum := gb.tensor(dtypes.Float16, 2, 2)
	gb.add(x, c1, sum, backends.FuseNone)
	c2 := gb.constant(backends.TensorOperand(shapes.Make(dtypes.Float16, 2, 1)), flatBytes(f16(1, 2)))
	out := gb.tensor(dtypes.Float16, 2, 1)
	gb.matMul(sum, c2, out, false, false)
	c := gb.compile(x, out)
	// sum = [[1.5 3] [4.5 6]] -> [1.5+6, 4.5+12]
	require.Equal(t, f16(7.5, 16.5), execute(t, c, f16(1, 2, 3, 4), 2))
}

func TestMatMul(t *testing.T) {
	lhs := []float32{1, 2, 3, 4, 5, 6}
	t.Run("2x3 x 3x2", func(t *testing.T) {
		gb := newGraphBuilder(t)
		x := gb.tensor(dtypes.Float32, 2, 3)
		rhs := gb.constant(backends.TensorOperand(shapes.Make(dtypes.Float32, 3, 2)), flatBytes([]float32{1, 2, 3, 4, 5, 6}))
		out := gb.tensor(dtypes.Float32, 2, 2)
		gb.matMul(x, rhs, out, false, false)
		c := gb.compile(x, out)
		require.Equal(t, []float32{22, 28, 49, 64}, execute(t, c, lhs, 4))
	})
	t.Run("transposes", func(t *testing.T) {
		// x^T is [[1 4] [2 5] [3 6]], (x^T) x (r^T) where r = [[1 0 1] [0 1 0]] is 2x3.
		gb := newGraphBuilder(t)
		x := gb.tensor(dtypes.Float32, 2, 3)
		rhs := gb.constant(backends.TensorOperand(shapes.Make(dtypes.Float32, 3, 2)), flatBytes([]float32{1, 0, 0, 1, 1, 0}))
		out := gb.tensor(dtypes.Float32, 3, 3)
		gb.matMul(x, rhs, out, true, true)
		c := gb.compile(x, out)
		// r is stored as 3x2 = [[1 0] [0 1] [1 0]], so r^T = [[1 0 1] [0 1 0]].
		require.Equal(t, []float32{1, 4, 1, 2, 5, 2, 3, 6, 3}, execute(t, c, lhs, 9))
	})
	t.Run("rank-3 contraction", func(t *testing.T) {
		// [2, 1, 3] x [3] -> [2, 1]
		gb := newGraphBuilder(t)
		x := gb.tensor(dtypes.Int32, 2, 1, 3)
		rhs := gb.constant(backends.TensorOperand(shapes.Make(dtypes.Int32, 3)), flatBytes([]int32{1, 10, 100}))
		out := gb.tensor(dtypes.Int32, 2, 1)
		gb.matMul(x, rhs, out, false, false)
		c := gb.compile(x, out)
		require.Equal(t, []int32{321, 654}, execute(t, c, []int32{1, 2, 3, 4, 5, 6}, 2))
	})
	t.Run("parallel rows", func(t *testing.T) {
		const m, k, n = 257, 64, 33
		gb := newGraphBuilder(t)
		x := gb.tensor(dtypes.Float32, m, k)
		rhsData := make([]float32, k*n)
		for ii := range rhsData {
			rhsData[ii] = float32(ii%7) - 3
		}
		rhs := gb.constant(backends.TensorOperand(shapes.Make(dtypes.Float32, k, n)), flatBytes(rhsData))
		out := gb.tensor(dtypes.Float32, m, n)
		gb.matMul(x, rhs, out, false, false)
		c := gb.compile(x, out)
		input := make([]float32, m*k)
		for ii := range input {
			input[ii] = float32(ii%5) - 2
		}
		got := execute(t, c, input, m*n)
		for row := range m {
			for col := range n {
				var want float32
				for kk := range k {
					want += input[row*k+kk] * rhsData[kk*n+col]
				}
				require.Equalf(t, want, got[row*n+col], "row=%d, col=%d", row, col)
			}
		}
	})
}

func TestGraphValidation(t *testing.T) {
	f32x3 := backends.TensorOperand(shapes.Make(dtypes.Float32, 3))

	gb := newGraphBuilder(t)
	_, err := gb.g.AddOperand(backends.OperandType{Code: backends.OperandLast})
	require.Error(t, err)
	_, err = gb.g.AddOperand(backends.OperandType{Code: backends.OperandInt32, Dimensions: []int{2}})
	require.Error(t, err)
	x := gb.tensor(dtypes.Float32, 3)
	require.Error(t, gb.g.SetOperandValue(x, []byte{1, 2}), "wrong value size")
	require.Error(t, gb.g.SetOperandValue(7, nil), "out-of-range")
	require.Error(t, gb.g.AddOperation(backends.OperationAdd, []int{x, x}, []int{x}), "wrong arity")
	require.Error(t, gb.g.Finish(), "inputs and outputs not identified")

	// Output dimensions don't match.
	gb = newGraphBuilder(t)
	x = gb.tensor(dtypes.Float32, 3)
	c1 := gb.constant(f32x3, flatBytes([]float32{1, 2, 3}))
	out := gb.tensor(dtypes.Float32, 4)
	gb.add(x, c1, out, backends.FuseNone)
	require.NoError(t, gb.g.IdentifyInputsAndOutputs([]int{x}, []int{out}))
	require.Error(t, gb.g.Finish())

	// Activation out of range.
	gb = newGraphBuilder(t)
	x = gb.tensor(dtypes.Float32, 3)
	c1 = gb.constant(f32x3, flatBytes([]float32{1, 2, 3}))
	out = gb.tensor(dtypes.Float32, 3)
	gb.add(x, c1, out, backends.FuseCode(7))
	require.NoError(t, gb.g.IdentifyInputsAndOutputs([]int{x}, []int{out}))
	require.Error(t, gb.g.Finish())

	// Undefined operand: rhs never set.
	gb = newGraphBuilder(t)
	x = gb.tensor(dtypes.Float32, 3)
	rhs := gb.tensor(dtypes.Float32, 3)
	out = gb.tensor(dtypes.Float32, 3)
	gb.add(x, rhs, out, backends.FuseNone)
	require.NoError(t, gb.g.IdentifyInputsAndOutputs([]int{x}, []int{out}))
	require.Error(t, gb.g.Finish())

	// Transposing a rank-1 operand.
	_, err = matMulOutputDims([]int{3}, []int{3, 2}, true, false)
	require.Error(t, err)
	dims, err := matMulOutputDims([]int{4, 2, 3}, []int{3, 5, 6}, false, false)
	require.NoError(t, err)
	require.Equal(t, []int{4, 2, 5, 6}, dims)

	// No changes after Finish.
	gb = newGraphBuilder(t)
	x = gb.tensor(dtypes.Float32, 3)
	c1 = gb.constant(f32x3, flatBytes([]float32{1, 2, 3}))
	out = gb.tensor(dtypes.Float32, 3)
	gb.add(x, c1, out, backends.FuseNone)
	require.NoError(t, gb.g.IdentifyInputsAndOutputs([]int{x}, []int{out}))
	require.NoError(t, gb.g.Finish())
	_, err = gb.g.AddOperand(f32x3)
	require.Error(t, err)
	require.Equal(t, 4, gb.g.NumOperands())
}

func TestCompileForDevices(t *testing.T) {
	devices := must.M1(backend.Devices())
	cpu, float := devices[0], devices[1]
	buildInt32 := func() *graphBuilder {
		gb := newGraphBuilder(t)
		x := gb.tensor(dtypes.Int32, 2)
		c1 := gb.constant(backends.TensorOperand(shapes.Make(dtypes.Int32, 2)), flatBytes([]int32{1, 2}))
		out := gb.tensor(dtypes.Int32, 2)
		gb.add(x, c1, out, backends.FuseNone)
		require.NoError(t, gb.g.IdentifyInputsAndOutputs([]int{x}, []int{out}))
		require.NoError(t, gb.g.Finish())
		return gb
	}

	// Float device doesn't support int32 tensors.
	_, err := backend.CompileForDevices(buildInt32().g, []backends.Device{float})
	require.Error(t, err)
	// But a combination of devices does.
	c, err := backend.CompileForDevices(buildInt32().g, []backends.Device{float, cpu})
	require.NoError(t, err)
	require.Equal(t, "nnapi-reference", c.(*Compilation).steps[0].device.Name())

	// Empty devices.
	_, err = backend.CompileForDevices(buildInt32().g, nil)
	require.Error(t, err)

	// Foreign device.
	other := must.M1(NewBackend("cpu"))
	_, err = backend.CompileForDevices(buildInt32().g, must.M1(other.Devices()))
	require.Error(t, err)

	// Unfinished graph.
	gb := newGraphBuilder(t)
	gb.tensor(dtypes.Float32, 1)
	_, err = backend.CompileForDevices(gb.g, []backends.Device{cpu})
	require.Error(t, err)

	// Execution before Finish, and double Finish.
	c = must.M1(backend.CompileForDevices(buildInt32().g, []backends.Device{cpu}))
	_, err = c.CreateExecution()
	require.Error(t, err)
	require.NoError(t, c.Finish())
	require.Error(t, c.Finish())
	c.Finalize()
	_, err = c.NewBurst()
	require.Error(t, err)
}

func TestExecution(t *testing.T) {
	gb := newGraphBuilder(t)
	x := gb.tensor(dtypes.Float32, 2)
	c1 := gb.constant(backends.TensorOperand(shapes.Make(dtypes.Float32, 2)), flatBytes([]float32{10, 20}))
	out := gb.tensor(dtypes.Float32, 2)
	gb.add(x, c1, out, backends.FuseNone)
	c := gb.compile(x, out)

	e := must.M1(c.CreateExecution())
	input, output := []float32{1, 2}, make([]float32, 2)
	require.Error(t, e.SetInput(1, flatBytes(input)), "slot out-of-range")
	require.Error(t, e.SetInput(0, []byte{1}), "wrong size")
	_, err := e.Compute()
	require.Error(t, err, "input not set")
	require.NoError(t, e.SetInput(0, flatBytes(input)))
	require.NoError(t, e.SetOutput(0, flatBytes(output)))

	burst := must.M1(c.NewBurst())
	defer burst.Finalize()
	require.NoError(t, e.BurstCompute(burst))
	require.Equal(t, []float32{11, 22}, output)
	require.Error(t, e.BurstCompute(burst), "executions are single use")
	_, err = e.Compute()
	require.Error(t, err, "executions are single use")

	// Burst reused with new inputs.
	for ii := range 5 {
		e = must.M1(c.CreateExecution())
		input = []float32{float32(ii), float32(-ii)}
		require.NoError(t, e.SetInput(0, flatBytes(input)))
		require.NoError(t, e.SetOutput(0, flatBytes(output)))
		require.NoError(t, e.BurstCompute(burst))
		require.Equal(t, []float32{10 + float32(ii), 20 - float32(ii)}, output)
	}

	// Misaligned buffers are staged.
	rawInput := make([]byte, 9)
	copy(rawInput[1:], flatBytes([]float32{1, 1}))
	rawOutput := make([]byte, 9)
	e = must.M1(c.CreateExecution())
	require.NoError(t, e.SetInput(0, rawInput[1:]))
	require.NoError(t, e.SetOutput(0, rawOutput[1:]))
	require.NoError(t, e.BurstCompute(burst))
	require.Equal(t, flatBytes([]float32{11, 21}), rawOutput[1:])

	// Burst from another compilation.
	other := gb.compileAgain(t)
	e = must.M1(other.CreateExecution())
	require.NoError(t, e.SetInput(0, flatBytes(input)))
	require.NoError(t, e.SetOutput(0, flatBytes(output)))
	require.Error(t, e.BurstCompute(burst))

	// Finalized burst.
	otherBurst := must.M1(other.NewBurst())
	otherBurst.Finalize()
	require.Error(t, e.BurstCompute(otherBurst))
}

// compileAgain compiles the already finished graph a second time.
func (gb *graphBuilder) compileAgain(t *testing.T) backends.Compilation {
	c := must.M1(backend.CompileForDevices(gb.g, must.M1(backend.Devices())[:1]))
	require.NoError(t, c.Finish())
	return c
}
