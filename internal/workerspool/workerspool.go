// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs tasks on goroutines with a soft limit on parallelism.
//
// It is used by the SimpleGo engine to run asynchronous executions, and to split large kernels
// across CPUs.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool limits the number of tasks running concurrently.
// The zero value is not usable, create it with New.
type Pool struct {
	// maxParallelism is the limit of tasks running at the same time.
	// 0 disables parallelism (tasks run inline), and negative values mean unlimited.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning decreases.
	numRunning int
}

// New returns a new Pool with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	return NewWithParallelism(runtime.NumCPU())
}

// NewWithParallelism returns a new Pool with the given parallelism.
// See SetMaxParallelism for the meaning of the value.
func NewWithParallelism(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// MaxParallelism returns the limit of tasks running concurrently.
func (w *Pool) MaxParallelism() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxParallelism
}

// SetMaxParallelism sets the limit of tasks running concurrently.
// If set to 0 parallelism is disabled, and tasks run inline.
// If set to a negative value parallelism is unlimited.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.maxParallelism = maxParallelism
	w.cond.Broadcast()
}

// NumRunning returns the number of tasks currently running in the pool's goroutines.
func (w *Pool) NumRunning() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numRunning
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// Go runs the task in a new goroutine, waiting for a worker to be available first.
//
// If parallelism is disabled, the task runs inline and Go returns when it is finished.
func (w *Pool) Go(task func()) {
	w.mu.Lock()
	if w.maxParallelism == 0 {
		w.mu.Unlock()
		task()
		return
	}
	for w.lockedIsFull() && w.maxParallelism != 0 {
		w.cond.Wait()
	}
	w.lockedStart(task)
	w.mu.Unlock()
}

// TryGo runs the task in a new goroutine if a worker is available, and returns true.
// Otherwise, it returns false without running the task.
//
// It's up to the caller to synchronize the end of the task.
func (w *Pool) TryGo(task func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.maxParallelism == 0 || w.lockedIsFull() {
		return false
	}
	w.lockedStart(task)
	return true
}

// lockedStart runs the task in a goroutine and keeps tabs on numRunning.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedStart(task func()) {
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.cond.Signal()
			w.mu.Unlock()
		}()
		task()
	}()
}

// ParallelFor splits [0, n) in chunks of at least minChunk elements, and calls fn(start, end) for
// each of them. Chunks run on the pool's free workers, or inline on the calling goroutine when the
// pool is busy, so it never blocks waiting for a worker and can be called from within a task.
//
// It returns when all chunks are done.
func (w *Pool) ParallelFor(n, minChunk int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	minChunk = max(minChunk, 1)
	numChunks := min(max(w.MaxParallelism(), 1), (n+minChunk-1)/minChunk)
	if numChunks <= 1 {
		fn(0, n)
		return
	}
	chunkSize := (n + numChunks - 1) / numChunks
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		chunk := func() {
			defer wg.Done()
			fn(start, end)
		}
		if !w.TryGo(chunk) {
			chunk()
		}
	}
	wg.Wait()
}
