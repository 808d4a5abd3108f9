// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a simple, and not very fast, but very portable engine for nngraph.
//
// It plays the role of the reference CPU driver of an accelerator API: every operation and operand
// code of package backends is implemented in pure Go, so graphs can be compiled and executed anywhere.
//
// The configuration string is a comma-separated list of options:
//
//   - "cpu": exposes the reference CPU device ("nnapi-reference"), supporting everything.
//   - "float": exposes an accelerator-like device ("nnapi-float") that only supports float tensors.
//   - "none": exposes no devices at all.
//   - "parallelism=N": sets the maximum number of concurrent workers used by executions. 0 disables
//     parallelism, and -1 makes it unlimited.
//
// If no device is listed, "cpu" is used.
package simplego

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gomlx/nngraph/backends"
	"github.com/gomlx/nngraph/internal/workerspool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in NNGRAPH_BACKEND to specify this backend.
const BackendName = "go"

// Registers New() as the default constructor for "go" backend.
func init() {
	backends.Register(BackendName, New)
}

// Backend implements the backends.Backend interface.
type Backend struct {
	config  string
	devices []*Device

	// workers runs the asynchronous executions and the parallel chunks of the kernels.
	workers *workerspool.Pool

	mu        sync.Mutex
	finalized bool
}

// Compile-time check that simplego.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// New constructs a new SimpleGo Backend. See package documentation for the configuration options.
func New(config string) (backends.Backend, error) {
	return NewBackend(config)
}

// NewBackend is like New, but returns the concrete type.
func NewBackend(config string) (*Backend, error) {
	b := &Backend{config: config, workers: workerspool.New()}
	var deviceNames []string
	var noDevices bool
	for _, option := range strings.Split(config, ",") {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}
		if key, value, found := strings.Cut(option, "="); found {
			switch key {
			case "parallelism":
				parallelism, err := strconv.Atoi(value)
				if err != nil {
					return nil, errors.Wrapf(err, "backend %q: invalid value for %q", BackendName, option)
				}
				b.workers.SetMaxParallelism(parallelism)
			default:
				return nil, errors.Errorf("backend %q: unknown configuration option %q", BackendName, option)
			}
			continue
		}
		if option == "none" {
			noDevices = true
			continue
		}
		if slices.Contains(deviceNames, option) {
			return nil, errors.Errorf("backend %q: device %q listed more than once", BackendName, option)
		}
		device, err := newDevice(b, option)
		if err != nil {
			return nil, err
		}
		deviceNames = append(deviceNames, option)
		b.devices = append(b.devices, device)
	}
	if noDevices && len(b.devices) > 0 {
		return nil, errors.Errorf("backend %q: \"none\" can't be combined with devices %q", BackendName, deviceNames)
	}
	if !noDevices && len(b.devices) == 0 {
		device, err := newDevice(b, DeviceCPU)
		if err != nil {
			return nil, err
		}
		deviceNames = append(deviceNames, DeviceCPU)
		b.devices = append(b.devices, device)
	}
	klog.V(1).Infof("simplego: backend created with devices %q, max parallelism %d",
		deviceNames, b.workers.MaxParallelism())
	return b, nil
}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return BackendName
}

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	if b.config == "" {
		return "SimpleGo portable reference engine"
	}
	return fmt.Sprintf("SimpleGo portable reference engine (config %q)", b.config)
}

func (b *Backend) checkValid() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return errors.Errorf("backend %q has already been finalized", BackendName)
	}
	return nil
}

// Devices returns the devices selected by the configuration, possibly none.
func (b *Backend) Devices() ([]backends.Device, error) {
	if err := b.checkValid(); err != nil {
		return nil, err
	}
	devices := make([]backends.Device, len(b.devices))
	for ii, device := range b.devices {
		devices[ii] = device
	}
	return devices, nil
}

// Capabilities returns what the given device supports. The device must have been created by this backend.
func (b *Backend) Capabilities(device backends.Device) (backends.Capabilities, error) {
	d, err := b.ownDevice(device)
	if err != nil {
		return backends.Capabilities{}, err
	}
	return d.capabilities.Clone(), nil
}

// ownDevice converts the device to the concrete type, and checks it belongs to this backend.
func (b *Backend) ownDevice(device backends.Device) (*Device, error) {
	d, ok := device.(*Device)
	if !ok || d == nil || d.backend != b {
		return nil, errors.Errorf("device %v doesn't belong to backend %q", device, BackendName)
	}
	return d, nil
}

// NewGraph creates a new empty graph builder.
func (b *Backend) NewGraph() (backends.Graph, error) {
	if err := b.checkValid(); err != nil {
		return nil, err
	}
	return &Graph{backend: b}, nil
}

// Workers returns the pool of workers used by executions.
func (b *Backend) Workers() *workerspool.Pool {
	return b.workers
}

// Finalize releases all the associated resources immediately, and makes the backend invalid.
func (b *Backend) Finalize() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finalized = true
}
