// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// nngraph is a command line tool to inspect the devices of a backend, run the reference
// Add and MatMul graphs, and benchmark burst executions.
//
// The backend is selected with --backend, or with $NNGRAPH_BACKEND, and it defaults to
// the reference "go" backend with all its devices.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/nngraph/backends"
	_ "github.com/gomlx/nngraph/backends/default"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// defaultBackendConfig is used if neither --backend nor $NNGRAPH_BACKEND are set.
const defaultBackendConfig = "go:cpu,float"

type options struct {
	backendConfig string
	noColor       bool
}

// newBackend creates the backend selected by the command line.
func (o *options) newBackend() (backends.Backend, error) {
	if o.backendConfig != "" {
		return backends.NewWithConfig(o.backendConfig)
	}
	return backends.New()
}

// NewCLI creates the root command with all the subcommands.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "nngraph",
		Short:         "Build, compile and run nngraph computation graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				lipgloss.SetColorProfile(termenv.Ascii)
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.backendConfig, "backend", "",
		fmt.Sprintf("Backend configuration formatted as \"<backend_name>:<backend_config>\". "+
			"It overrides $%s. Registered backends: %q", backends.ConfigEnvVar, backends.List()))
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no_color", false, "Disable colors in the output.")

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)

	rootCmd.AddCommand(
		newDevicesCmd(opts),
		newRunCmd(opts),
		newBenchCmd(opts),
	)
	return rootCmd
}

func main() {
	if _, found := os.LookupEnv(backends.ConfigEnvVar); !found {
		backends.DefaultConfig = defaultBackendConfig
	}
	err := NewCLI().Execute()
	if err != nil {
		klog.Errorf("%+v", err)
	}
	klog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
