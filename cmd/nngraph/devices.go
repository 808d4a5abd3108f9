// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/nngraph/backends"
	"github.com/spf13/cobra"
)

func newDevicesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the devices of the backend and what they support",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := opts.newBackend()
			if err != nil {
				return err
			}
			defer backend.Finalize()
			return listDevices(cmd, backend)
		},
	}
}

func listDevices(cmd *cobra.Command, backend backends.Backend) error {
	devices, err := backend.Devices()
	if err != nil {
		return err
	}
	table := newTable([]string{"Device", "Type", "Version", "Operands", "Operations"})
	for _, device := range devices {
		capabilities, err := backend.Capabilities(device)
		if err != nil {
			return err
		}
		table.Row(device.Name(), device.Type().String(), device.Version(),
			joinSupported(capabilities.Operands), joinSupported(capabilities.Operations))
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(backend.Description()))
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices available.")
		return nil
	}
	fmt.Fprintln(out, table.Render())
	return nil
}

// joinSupported lists the supported keys of a capabilities map, in order.
func joinSupported[K interface {
	~int
	fmt.Stringer
}](supported map[K]bool) string {
	var keys []K
	for key, ok := range supported {
		if ok {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	names := make([]string, len(keys))
	for ii, key := range keys {
		names[ii] = key.String()
	}
	return lipgloss.NewStyle().Width(32).Render(strings.Join(names, ", "))
}
