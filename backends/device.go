// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "fmt"

// DeviceType describes the kind of hardware behind a Device.
type DeviceType int

const (
	DeviceUnknown DeviceType = iota
	DeviceCPU
	DeviceGPU
	DeviceAccelerator
)

// String implements fmt.Stringer.
func (t DeviceType) String() string {
	switch t {
	case DeviceCPU:
		return "CPU"
	case DeviceGPU:
		return "GPU"
	case DeviceAccelerator:
		return "Accelerator"
	default:
		return fmt.Sprintf("DeviceType(%d)", int(t))
	}
}

// Device is an execution device of a Backend, as returned by Backend.Devices.
//
// It is opaque other than for its description: the backend that created it interprets it.
type Device interface {
	// Name of the device, unique within its backend. E.g.: "nnapi-reference".
	Name() string

	// Type of the hardware.
	Type() DeviceType

	// Version of the driver of the device.
	Version() string
}

// DeviceNames returns the names of the given devices, for pretty-printing.
func DeviceNames(devices []Device) []string {
	names := make([]string, len(devices))
	for ii, device := range devices {
		names[ii] = device.Name()
	}
	return names
}
