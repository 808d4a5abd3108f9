// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/gomlx/nngraph/backends"
	"github.com/gomlx/nngraph/pkg/core/graph"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// scenario builds a graph on ctx and returns its final tensor.
type scenario struct {
	description string
	build       func(ctx *graph.Context) *graph.Tensor
}

var scenarios = map[string]scenario{
	"add": {
		description: "add(add([1,2,3], [4,4,7]), [1,2,3])",
		build: func(ctx *graph.Context) *graph.Tensor {
			x := graph.FromFlat(ctx, []float32{1, 2, 3})
			y := graph.Add(x, graph.FromFlat(ctx, []float32{4, 4, 7}))
			return graph.Add(y, graph.FromFlat(ctx, []float32{1, 2, 3}))
		},
	},
	"matmul": {
		description: "matmul([1,2,3,4,5,6] shaped [2,3], [1,2,3,4,5,6] shaped [3,2])",
		build: func(ctx *graph.Context) *graph.Tensor {
			return graph.MatMul(
				graph.FromFlat(ctx, []float32{1, 2, 3, 4, 5, 6}, 2, 3),
				graph.FromFlat(ctx, []float32{1, 2, 3, 4, 5, 6}, 3, 2))
		},
	},
}

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "run {add|matmul}...",
		Short:     "Run the reference graphs and print their results",
		Args:      cobra.MatchAll(cobra.MinimumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"add", "matmul"},
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := opts.newBackend()
			if err != nil {
				return err
			}
			defer backend.Finalize()
			for _, name := range args {
				if err := runScenario(cmd, backend, name); err != nil {
					return errors.WithMessagef(err, "running %q", name)
				}
			}
			return nil
		},
	}
}

func runScenario(cmd *cobra.Command, backend backends.Backend, name string) error {
	s, found := scenarios[name]
	if !found {
		return errors.Errorf("unknown graph %q", name)
	}
	ctx, err := graph.NewContextForAllDevices(backend)
	if err != nil {
		return err
	}
	final := s.build(ctx)
	values, err := graph.GetFlat[float32](final)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s = %v\n", name, s.description, values)
	fmt.Fprintf(cmd.OutOrStdout(), "\tshape %s, %d operands, output operand #%d\n",
		final.Shape(), ctx.NumOperands(), ctx.OperandCount())
	return nil
}
