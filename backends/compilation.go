// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

// Compilation is a Graph lowered for a set of devices, as returned by Backend.CompileForDevices.
//
// Finish must be called once before creating executions or bursts.
// A finished Compilation is safe for concurrent use: each goroutine creates its own Execution.
type Compilation interface {
	// Finish completes the compilation.
	Finish() error

	// CreateExecution returns a new single-use Execution of the compiled graph.
	CreateExecution() (Execution, error)

	// NewBurst creates a reusable handle for low-overhead repeated executions of this compilation.
	NewBurst() (Burst, error)

	// Finalize immediately frees resources associated with the compilation.
	// Executions and bursts created from it become invalid.
	Finalize()
}

// Execution binds input and output buffers of one run of a Compilation.
//
// An Execution can only be computed once. It is not safe for concurrent use.
type Execution interface {
	// SetInput binds the buffer of the input at the given slot (position given to
	// Graph.IdentifyInputsAndOutputs). The buffer must not change until the execution completes.
	SetInput(slot int, data []byte) error

	// SetOutput binds the buffer where the output at the given slot is written.
	SetOutput(slot int, data []byte) error

	// Compute schedules the execution, and returns an Event to wait for its completion.
	Compute() (Event, error)

	// BurstCompute runs the execution synchronously reusing the resources of the burst.
	// The burst must have been created from the same Compilation.
	BurstCompute(burst Burst) error
}

// Event signals the completion of an asynchronous Execution.Compute.
type Event interface {
	// Wait blocks until the execution is completed, and returns its error, if any.
	Wait() error
}

// Burst is a reusable handle for low-overhead repeated executions of a Compilation.
//
// A Burst is not safe for concurrent use: executions using the same burst must be serialized.
type Burst interface {
	// Finalize immediately frees resources associated with the burst.
	Finalize()
}
