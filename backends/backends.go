// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the contract an acceleration engine needs to implement to be used by nngraph.
//
// It mirrors the shape of the Android Neural Networks API: a Graph builder where operands and operations
// are registered by index, a Compilation of the finished graph for a set of Devices, and single-use
// Executions that are run either one-shot (Compute + Event.Wait) or through a reusable Burst handle.
//
// nngraph only consumes this contract. Engines register themselves with Register during package
// initialization, and users select one with a configuration string (see NewWithConfig). The package
// github.com/gomlx/nngraph/backends/simplego provides a portable pure Go reference engine.
//
// Every method returns an error in case of failure, and callers are expected to consider the graph (or
// compilation, or execution) that failed unusable.
package backends

import (
	"os"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Backend is the API that needs to be implemented by an nngraph engine.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "go" for the SimpleGo reference engine.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// Devices enumerates the devices available for this Backend. It may return an empty list.
	Devices() ([]Device, error)

	// Capabilities returns what a device of this backend supports.
	Capabilities(device Device) (Capabilities, error)

	// NewGraph creates a new empty graph builder.
	NewGraph() (Graph, error)

	// CompileForDevices lowers a finished graph to the given devices.
	// It fails if devices is empty, if any device is not from this backend, or if the devices can't run
	// some operation of the graph.
	CompileForDevices(graph Graph, devices []Device) (Compilation, error)

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List the names of the registered backends, sorted.
func List() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
const ConfigEnvVar = "NNGRAPH_BACKEND"

// New returns a new default Backend.
//
// The configuration used is:
//
// 1. The environment variable $NNGRAPH_BACKEND, if defined.
// 2. Next the variable DefaultConfig, if defined.
// 3. The first registered backend with an empty configuration.
func New() (Backend, error) {
	if config, found := os.LookupEnv(ConfigEnvVar); found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// MustNew returns a new default Backend, or panics if it fails.
func MustNew() Backend {
	backend, err := New()
	if err != nil {
		panic(err)
	}
	return backend
}

// NewWithConfig takes a configurations string formated as "<backend_name>:<backend_configuration>".
//
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific (e.g.: for "go", the list of devices to expose).
// If only the backend name is given, the backend gets an empty configuration. An empty string
// selects the first registered backend.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.Errorf(`no registered backends for nngraph -- maybe import the default ones with import _ "github.com/gomlx/nngraph/backends/default"?`)
	}
	backendName, backendConfig := config, ""
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	}
	if backendName == "" {
		backendName = firstRegistered
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given, registered backends: %q",
			backendName, config, List())
	}
	klog.V(1).Infof("creating backend %q with configuration %q", backendName, backendConfig)
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create backend %q", backendName)
	}
	return backend, nil
}
