// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"fmt"

	"github.com/gomlx/nngraph/backends"
	"github.com/pkg/errors"
)

// Names of the devices that can be listed in the backend configuration.
const (
	// DeviceCPU is the reference device, supporting all operations and operand codes.
	DeviceCPU = "cpu"

	// DeviceFloat is an accelerator-like device that only supports float tensors.
	DeviceFloat = "float"
)

// Version reported by the devices.
const Version = "simplego-1.0"

// Device implements backends.Device.
type Device struct {
	backend      *Backend
	name         string
	deviceType   backends.DeviceType
	capabilities backends.Capabilities
}

var _ backends.Device = (*Device)(nil)

// allOperations lists every operation implemented by the kernels.
var allOperations = map[backends.OperationCode]bool{
	backends.OperationAdd:         true,
	backends.OperationBatchMatMul: true,
}

// newDevice creates the device for the given configuration name.
func newDevice(b *Backend, configName string) (*Device, error) {
	switch configName {
	case DeviceCPU:
		operands := make(map[backends.OperandCode]bool)
		for code := backends.OperandInvalid + 1; code < backends.OperandLast; code++ {
			operands[code] = true
		}
		return &Device{
			backend:    b,
			name:       "nnapi-reference",
			deviceType: backends.DeviceCPU,
			capabilities: backends.Capabilities{
				Operations: allOperations,
				Operands:   operands,
			},
		}, nil
	case DeviceFloat:
		return &Device{
			backend:    b,
			name:       "nnapi-float",
			deviceType: backends.DeviceAccelerator,
			capabilities: backends.Capabilities{
				Operations: allOperations,
				Operands: map[backends.OperandCode]bool{
					backends.OperandInt32:         true,
					backends.OperandBool:          true,
					backends.OperandTensorFloat32: true,
					backends.OperandTensorFloat16: true,
				},
			},
		}, nil
	default:
		return nil, errors.Errorf("backend %q: unknown device %q, valid values are %q, %q or \"none\"",
			BackendName, configName, DeviceCPU, DeviceFloat)
	}
}

// Name of the device, as reported to users.
func (d *Device) Name() string { return d.name }

// Type of the device.
func (d *Device) Type() backends.DeviceType { return d.deviceType }

// Version of the device driver.
func (d *Device) Version() string { return Version }

// String implements fmt.Stringer.
func (d *Device) String() string {
	return fmt.Sprintf("%s (%s)", d.name, d.deviceType)
}

// supports returns whether the device can run the operation, with operands of the given codes.
func (d *Device) supports(op backends.OperationCode, codes []backends.OperandCode) bool {
	if !d.capabilities.Operations[op] {
		return false
	}
	for _, code := range codes {
		if !d.capabilities.Operands[code] {
			return false
		}
	}
	return true
}
