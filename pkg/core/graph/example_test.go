// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"fmt"

	"github.com/gomlx/nngraph/backends"
	_ "github.com/gomlx/nngraph/backends/default"
	"github.com/gomlx/nngraph/pkg/core/graph"
	"github.com/janpfeifer/must"
)

func Example() {
	backend := must.M1(backends.NewWithConfig("go:cpu"))
	ctx := must.M1(graph.NewContextForAllDevices(backend))
	x := graph.FromFlat(ctx, []float32{1, 2, 3})
	y := graph.Add(x, graph.FromFlat(ctx, []float32{4, 4, 7}))
	y = graph.Add(y, graph.FromFlat(ctx, []float32{1, 2, 3}))
	fmt.Println(must.M1(graph.GetFlat[float32](y)))

	ctx = must.M1(graph.NewContextForAllDevices(backend))
	m := graph.MatMul(
		graph.FromFlat(ctx, []float32{1, 2, 3, 4, 5, 6}, 2, 3),
		graph.FromFlat(ctx, []float32{1, 2, 3, 4, 5, 6}, 3, 2))
	fmt.Println(m.Shape(), must.M1(graph.GetFlat[float32](m)))

	// Output:
	// [6 8 13]
	// (Float32)[2 2] [22 28 49 64]
}
