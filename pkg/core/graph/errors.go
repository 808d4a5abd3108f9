// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNoOperations is returned when sealing or compiling a context where no operation was registered.
	ErrNoOperations = errors.New("no operations registered in the context")

	// ErrNoDevices is returned when compiling a context created with an empty list of devices.
	ErrNoDevices = errors.New("no devices to compile for")

	// ErrCorrupted is returned (or thrown) when using a context that a previous failure left in an
	// inconsistent state. The context must be discarded.
	ErrCorrupted = errors.New("context is corrupted by a previous failure")

	// ErrNotRunningOutput is returned when the tensor given is not the output of the last operation
	// registered in its context.
	ErrNotRunningOutput = errors.New("tensor is not the output of the last operation of its context")
)

// BackendError is a failure reported by the backend while building, compiling or executing a graph.
type BackendError struct {
	// Op is the backend method that failed, e.g. "AddOperand" or "CompileForDevices".
	Op string

	// Err is the error returned by the backend.
	Err error
}

// Error implements error.
func (e *BackendError) Error() string {
	return fmt.Sprintf("backend failed in %s: %v", e.Op, e.Err)
}

// Unwrap returns the error reported by the backend, for errors.Is and errors.As.
func (e *BackendError) Unwrap() error { return e.Err }

// Cause returns the error reported by the backend, for github.com/pkg/errors.Cause.
func (e *BackendError) Cause() error { return e.Err }

// Format implements fmt.Formatter: "%+v" includes the backend error's details (e.g. stack traces).
func (e *BackendError) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		_, _ = fmt.Fprintf(s, "backend failed in %s: %+v", e.Op, e.Err)
		return
	}
	_, _ = fmt.Fprint(s, e.Error())
}

// newBackendError wraps err in a BackendError, with a stack trace.
func newBackendError(op string, err error) error {
	return errors.WithStack(&BackendError{Op: op, Err: err})
}
