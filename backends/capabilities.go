// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "maps"

// Capabilities holds mappings of what is supported by a device.
type Capabilities struct {
	// Operations supported by a device.
	// If not listed, it's assumed to be false, hence not supported.
	Operations map[OperationCode]bool

	// Operands lists the operand codes supported by a device.
	// If not listed, it's assumed to be false, hence not supported.
	Operands map[OperandCode]bool
}

// Clone makes a deep copy of the Capabilities.
func (c Capabilities) Clone() Capabilities {
	var c2 Capabilities
	c2.Operations = make(map[OperationCode]bool, len(c.Operations))
	maps.Copy(c2.Operations, c.Operations)
	c2.Operands = make(map[OperandCode]bool, len(c.Operands))
	maps.Copy(c2.Operands, c.Operands)
	return c2
}
