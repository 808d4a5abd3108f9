// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"sync"
	"testing"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/nngraph/pkg/core/graph"
	"github.com/gomlx/nngraph/pkg/core/graph/graphtest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestConcurrentFirstOperator(t *testing.T) {
	const numGoroutines = 16
	ctx := graphtest.NewContext(t)
	xs := make([]*Tensor, numGoroutines)
	for ii := range xs {
		xs[ii] = FromFlat(ctx, []float32{float32(ii)})
	}

	var wg sync.WaitGroup
	outputs := make([]*Tensor, numGoroutines)
	errs := make([]error, numGoroutines)
	for ii := range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rhs := FromFlat(ctx, []float32{100})
			errs[ii] = exceptions.TryCatch[error](func() { outputs[ii] = Add(xs[ii], rhs) })
		}()
	}
	wg.Wait()

	winner := -1
	for ii, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "only one goroutine can register the graph input")
			winner = ii
			continue
		}
		require.ErrorIs(t, err, ErrNotRunningOutput)
	}
	require.NotEqual(t, -1, winner)
	require.Same(t, xs[winner], ctx.Input())
	require.Equal(t, 3, ctx.OperandCount())
	require.Equal(t, 4, ctx.NumOperands())
	require.Equal(t, []float32{float32(winner) + 100}, graphtest.RequireGetFlat[float32](t, outputs[winner]))
}

func TestConcurrentContexts(t *testing.T) {
	var group errgroup.Group
	const numContexts = 8
	results := make([][]float32, numContexts)
	for ii := range numContexts {
		group.Go(func() error {
			ctx, err := NewContextForAllDevices(graphtest.BuildTestBackend())
			if err != nil {
				return err
			}
			v := float32(ii)
			y := MatMul(FromFlat(ctx, []float32{v, 1}, 1, 2), FromFlat(ctx, []float32{1, 2, 3, 4}, 2, 2))
			y = Add(y, FromFlat(ctx, []float32{v, v}, 1, 2))
			results[ii], err = GetFlat[float32](y)
			return err
		})
	}
	require.NoError(t, group.Wait())
	for ii, got := range results {
		v := float32(ii)
		require.Equalf(t, []float32{v + 3 + v, 2*v + 4 + v}, got, "context #%d", ii)
	}
}

func TestConcurrentBursts(t *testing.T) {
	ctx := graphtest.NewContext(t)
	x := FromFlat(ctx, []float32{0, 0})
	y := Add(x, FromFlat(ctx, []float32{1, 2}))
	p, err := Compile(y)
	require.NoError(t, err)
	defer p.Finalize()

	var group errgroup.Group
	for ii := range 8 {
		group.Go(func() error {
			burst, err := p.NewBurst()
			if err != nil {
				return err
			}
			defer burst.Finalize()
			output := Zeros(ctx, y.Shape())
			for jj := range 10 {
				v := float32(ii*100 + jj)
				if err := burst.ExecuteWith(FromFlat(ctx, []float32{v, -v}), output); err != nil {
					return err
				}
				got := output.Flat().([]float32)
				if got[0] != v+1 || got[1] != 2-v {
					return errors.Errorf("burst #%d, run #%d: got %v", ii, jj, got)
				}
			}
			// One-shot executions are also safe for concurrent use.
			return p.Execute(output)
		})
	}
	require.NoError(t, group.Wait())
}

func TestConcurrentGetData(t *testing.T) {
	ctx := graphtest.NewContext(t)
	x := FromFlat(ctx, []float32{1, 2, 3})
	y := Add(x, FromFlat(ctx, []float32{4, 4, 7}))
	y = Add(y, FromFlat(ctx, []float32{1, 2, 3}))

	const numGoroutines = 8
	results := make([][]float32, numGoroutines)
	var group errgroup.Group
	for ii := range numGoroutines {
		group.Go(func() (err error) {
			results[ii], err = GetFlat[float32](y)
			return err
		})
	}
	require.NoError(t, group.Wait())
	for ii, got := range results {
		require.Equalf(t, []float32{6, 8, 13}, got, "goroutine #%d", ii)
	}
	// Each call returns its own buffer, and the values are also copied to the tensor.
	results[0][0] = -1
	require.Equal(t, float32(6), results[1][0])
	require.Equal(t, []float32{6, 8, 13}, y.Flat())
}
