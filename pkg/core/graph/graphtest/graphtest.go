// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphtest holds test utilities for packages that depend on the graph package.
package graphtest

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/gomlx/nngraph/backends"
	_ "github.com/gomlx/nngraph/backends/simplego"
	"github.com/gomlx/nngraph/pkg/core/graph"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// DefaultTestConfig is the backend configuration used by tests, unless NNGRAPH_BACKEND is set.
const DefaultTestConfig = "go"

var (
	backendOnce   sync.Once
	cachedBackend backends.Backend
)

// BuildTestBackend returns the backend shared by tests, created the first time it's called.
//
// It sets backends.DefaultConfig to "go" -- it can be overwritten by the NNGRAPH_BACKEND environment variable.
func BuildTestBackend() backends.Backend {
	backendOnce.Do(func() {
		backends.DefaultConfig = DefaultTestConfig
		var err error
		cachedBackend, err = backends.New()
		if err != nil {
			klog.Fatalf("Failed to create test backend: %+v", err)
		}
		fmt.Printf("Test backend: %s, %s\n", cachedBackend.Name(), cachedBackend.Description())
	})
	return cachedBackend
}

// NewContext returns a new context on the test backend, for all its devices.
func NewContext(t testing.TB) *graph.Context {
	ctx, err := graph.NewContextForAllDevices(BuildTestBackend())
	require.NoError(t, err)
	return ctx
}

// RequireGetFlat executes the graph with final as output and returns its values, failing the test on errors.
func RequireGetFlat[T float32 | int32 | float16.Float16](t testing.TB, final *graph.Tensor) []T {
	values, err := graph.GetFlat[T](final)
	require.NoErrorf(t, err, "failed to execute graph with output %s", final)
	return values
}

// RequireInDelta checks that got and want have the same length, and that each pair of values differ by at most delta.
// Float16 values are compared as float32.
func RequireInDelta[T float32 | int32 | float16.Float16](t testing.TB, want, got []T, delta float64) {
	require.Lenf(t, got, len(want), "want %v, got %v", want, got)
	for ii := range want {
		w, g := toFloat64(want[ii]), toFloat64(got[ii])
		if math.Abs(w-g) > delta {
			require.Failf(t, "values differ", "element #%d: want %v, got %v (delta %g)\nwant: %v\n got: %v",
				ii, w, g, delta, want, got)
		}
	}
}

func toFloat64[T float32 | int32 | float16.Float16](v T) float64 {
	switch x := any(v).(type) {
	case float16.Float16:
		return float64(x.Float32())
	case float32:
		return float64(x)
	case int32:
		return float64(x)
	}
	return math.NaN()
}
