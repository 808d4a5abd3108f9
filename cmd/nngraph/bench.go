// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/nngraph/backends"
	"github.com/gomlx/nngraph/pkg/core/graph"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type benchOptions struct {
	runs     int
	size     int
	layers   int
	parallel int
	oneShot  bool
	noBar    bool
}

func newBenchCmd(opts *options) *cobra.Command {
	bOpts := &benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark the executions of a chain of MatMul and Add layers",
		Long: "Benchmark the executions of a chain of MatMul and Add layers over square float32 matrices.\n\n" +
			"Each of the --parallel goroutines builds its own context and pipeline, and executes it --runs times.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := opts.newBackend()
			if err != nil {
				return err
			}
			defer backend.Finalize()
			return bench(cmd, backend, bOpts)
		},
	}
	cmd.Flags().IntVar(&bOpts.runs, "runs", 100, "Number of executions per pipeline.")
	cmd.Flags().IntVar(&bOpts.size, "size", 128, "Dimension of the square matrices.")
	cmd.Flags().IntVar(&bOpts.layers, "layers", 2, "Number of MatMul+Add layers in the graph.")
	cmd.Flags().IntVar(&bOpts.parallel, "parallel", 1, "Number of pipelines executing concurrently.")
	cmd.Flags().BoolVar(&bOpts.oneShot, "oneshot", false, "Use one-shot executions instead of a burst.")
	cmd.Flags().BoolVar(&bOpts.noBar, "no_progress", false, "Don't display the progress bar.")
	return cmd
}

// buildLayers builds a chain of layers y = x·W + b, with W = I/2 and b = 1.
func buildLayers(ctx *graph.Context, size, layers int) *graph.Tensor {
	x := graph.FromFlat(ctx, make([]float32, size*size), size, size)
	for range layers {
		weights := make([]float32, size*size)
		for ii := range size {
			weights[ii*size+ii] = 0.5
		}
		bias := make([]float32, size*size)
		for ii := range bias {
			bias[ii] = 1
		}
		x = graph.MatMul(x, graph.FromFlat(ctx, weights, size, size))
		x = graph.Add(x, graph.FromFlat(ctx, bias, size, size))
	}
	return x
}

// benchPipeline builds and compiles one pipeline, and executes it opts.runs times.
func benchPipeline(backend backends.Backend, opts *benchOptions, bar *progressbar.ProgressBar) error {
	ctx, err := graph.NewContextForAllDevices(backend)
	if err != nil {
		return err
	}
	var final *graph.Tensor
	if err = exceptions.TryCatch[error](func() { final = buildLayers(ctx, opts.size, opts.layers) }); err != nil {
		return err
	}
	pipeline, err := graph.Compile(final)
	if err != nil {
		return err
	}
	defer pipeline.Finalize()

	execute := pipeline.Execute
	if !opts.oneShot {
		burst, err := pipeline.NewBurst()
		if err != nil {
			return err
		}
		defer burst.Finalize()
		execute = burst.Execute
	}
	for range opts.runs {
		if err = execute(final); err != nil {
			return err
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	// Fixed point of y = y/2 + 1, starting from 0: 2 - 2^(1-layers).
	want := float32(2 - 2/float64(uint64(1)<<opts.layers))
	if got := final.Flat().([]float32)[0]; got != want {
		return errors.Errorf("unexpected result: got %g, wanted %g", got, want)
	}
	return nil
}

func bench(cmd *cobra.Command, backend backends.Backend, opts *benchOptions) error {
	if opts.runs <= 0 || opts.size <= 0 || opts.layers <= 0 || opts.parallel <= 0 {
		return errors.Errorf("--runs, --size, --layers and --parallel must be > 0")
	}
	if opts.layers > 16 {
		return errors.Errorf("--layers must be <= 16, got %d", opts.layers)
	}
	total := opts.runs * opts.parallel
	var bar *progressbar.ProgressBar
	if !opts.noBar {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("bench"),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("runs"),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}

	start := time.Now()
	var group errgroup.Group
	for range opts.parallel {
		group.Go(func() error { return benchPipeline(backend, opts, bar) })
	}
	err := group.Wait()
	elapsed := time.Since(start)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}

	mode := "burst"
	if opts.oneShot {
		mode = "one-shot"
	}
	matrixBytes := uint64(opts.size * opts.size * 4)
	flops := float64(total) * float64(opts.layers) * float64(opts.size*opts.size) * float64(2*opts.size+1)
	out := cmd.OutOrStdout()
	table := newTable([]string{"Metric", "Value"}, lipgloss.Left, lipgloss.Right)
	table.Row("Mode", mode)
	table.Row("Executions", humanize.Comma(int64(total)))
	table.Row("Parallel pipelines", humanize.Comma(int64(opts.parallel)))
	table.Row("Matrix size", fmt.Sprintf("%d×%d (%s)", opts.size, opts.size, humanize.Bytes(matrixBytes)))
	table.Row("Constants per pipeline", humanize.Bytes(matrixBytes*uint64(2*opts.layers)))
	table.Row("Elapsed", elapsed.Round(time.Millisecond).String())
	table.Row("Time per execution", (elapsed / time.Duration(total)).String())
	table.Row("Throughput", humanize.SIWithDigits(flops/elapsed.Seconds(), 2, "FLOP/s"))
	fmt.Fprintln(out, titleStyle.Render(backend.Description()))
	fmt.Fprintln(out, table.Render())
	return nil
}
