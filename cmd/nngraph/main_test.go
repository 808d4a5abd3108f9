// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// execute runs the command line with args, and returns its standard output.
func execute(t *testing.T, args ...string) (string, error) {
	cmd := NewCLI()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--no_color"}, args...))
	err := cmd.Execute()
	if testing.Verbose() {
		t.Logf("nngraph %q:\n%s", args, out.String())
	}
	return out.String(), err
}

func TestRun(t *testing.T) {
	out, err := execute(t, "--backend=go:cpu", "run", "add", "matmul")
	require.NoError(t, err)
	require.Contains(t, out, "add: add(add([1,2,3], [4,4,7]), [1,2,3]) = [6 8 13]")
	require.Contains(t, out, "= [22 28 49 64]")
	require.Contains(t, out, "shape (Float32)[3], 7 operands, output operand #6")
	require.Contains(t, out, "shape (Float32)[2 2], 5 operands, output operand #4")

	_, err = execute(t, "--backend=go:cpu", "run", "conv")
	require.Error(t, err)
	_, err = execute(t, "--backend=go:cpu", "run")
	require.Error(t, err)
	_, err = execute(t, "--backend=unknown", "run", "add")
	require.Error(t, err)
}

func TestDevices(t *testing.T) {
	out, err := execute(t, "--backend=go:cpu,float", "devices")
	require.NoError(t, err)
	require.Contains(t, out, "nnapi-reference")
	require.Contains(t, out, "nnapi-float")
	require.Contains(t, out, "Accelerator")
	require.Contains(t, out, "TensorFloat16")

	out, err = execute(t, "--backend=go:none", "devices")
	require.NoError(t, err)
	require.Contains(t, out, "No devices available.")
}

func TestBench(t *testing.T) {
	for _, mode := range []string{"--oneshot=false", "--oneshot=true"} {
		out, err := execute(t, "--backend=go:cpu", "bench", "--runs=3", "--size=8", "--layers=3",
			"--parallel=2", "--no_progress", mode)
		require.NoError(t, err)
		require.Contains(t, out, "Executions")
		require.Contains(t, out, "Throughput")
	}

	_, err := execute(t, "--backend=go:cpu", "bench", "--runs=0")
	require.Error(t, err)
}
