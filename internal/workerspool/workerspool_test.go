// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Go(t *testing.T) {
	pool := NewWithParallelism(2)
	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		pool.Go(func() {
			defer wg.Done()
			current := running.Add(1)
			for {
				previous := maxRunning.Load()
				if current <= previous || maxRunning.CompareAndSwap(previous, current) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()
	assert.LessOrEqual(t, maxRunning.Load(), int32(2))
	assert.Eventually(t, func() bool { return pool.NumRunning() == 0 }, time.Second, time.Millisecond)
}

func TestPool_NoParallelism(t *testing.T) {
	pool := NewWithParallelism(0)
	var count int
	pool.Go(func() { count++ })
	require.Equal(t, 1, count, "with parallelism disabled the task runs inline")
	require.False(t, pool.TryGo(func() {}))
}

func TestPool_TryGo(t *testing.T) {
	pool := NewWithParallelism(1)
	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, pool.TryGo(func() {
		close(started)
		<-release
	}))
	<-started
	require.False(t, pool.TryGo(func() {}), "pool should be full")
	close(release)
	assert.Eventually(t, func() bool { return pool.NumRunning() == 0 }, time.Second, time.Millisecond)

	unlimited := NewWithParallelism(-1)
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		require.True(t, unlimited.TryGo(wg.Done))
	}
	wg.Wait()
}

func TestPool_ParallelFor(t *testing.T) {
	for _, parallelism := range []int{0, 1, 3, -1} {
		pool := NewWithParallelism(parallelism)
		const n = 1000
		counts := make([]int32, n)
		pool.ParallelFor(n, 7, func(start, end int) {
			for ii := start; ii < end; ii++ {
				atomic.AddInt32(&counts[ii], 1)
			}
		})
		for ii, c := range counts {
			require.Equalf(t, int32(1), c, "parallelism=%d, index %d visited %d times", parallelism, ii, c)
		}
	}
	NewWithParallelism(4).ParallelFor(0, 1, func(_, _ int) { t.Fatal("should not be called") })
}
